package core

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Staleness windows. Each serves a different consumer and they are not derived from one another.
const (
	// ActiveWindow decides whether a dashboard shows an agent as live.
	ActiveWindow = 15 * time.Minute
	// StaleAgentWindow is how long a working agent may go without a heartbeat before the audit flags it.
	StaleAgentWindow = 30 * time.Minute
	// StalledTaskWindow is how long an in-progress task may go without an update before the audit flags it.
	StalledTaskWindow = 60 * time.Minute
)

func clockOrReal(c clockwork.Clock) clockwork.Clock {
	if c == nil {
		return clockwork.NewRealClock()
	}
	return c
}

func nowUTC(c clockwork.Clock) time.Time {
	return c.Now().UTC()
}

func ptrString(v string) *string {
	return &v
}

func ptrTime(v time.Time) *time.Time {
	return &v
}
