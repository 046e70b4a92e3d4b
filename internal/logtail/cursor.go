package logtail

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jonboulle/clockwork"

	"missioncontrol/internal/core"
)

// DefaultBackfill is how many trailing bytes a new viewer gets before live lines.
const DefaultBackfill = 5000

// Cursor is one viewer's read position in the log. Cursors are never shared.
type Cursor struct {
	path   string
	offset int64
	clock  clockwork.Clock
}

// Attach opens a cursor at max(0, size-backfill). A missing file yields ErrSourceUnavailable.
func Attach(path string, backfill int64, clock clockwork.Clock) (*Cursor, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrSourceUnavailable, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", core.ErrSourceUnavailable, path)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	offset := info.Size() - backfill
	if offset < 0 {
		offset = 0
	}
	return &Cursor{path: path, offset: offset, clock: clock}, nil
}

// Offset returns the byte position already consumed.
func (c *Cursor) Offset() int64 {
	return c.offset
}

// ReadNew reads [offset, size), parses every non-empty line and advances the offset to size.
// A file that shrank below the offset was truncated and is read again from the start.
func (c *Cursor) ReadNew() ([]Event, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrSourceUnavailable, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrSourceUnavailable, err)
	}
	size := info.Size()
	if size < c.offset {
		c.offset = 0
	}
	if size == c.offset {
		return nil, nil
	}
	buf := make([]byte, size-c.offset)
	if _, err := f.ReadAt(buf, c.offset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: %v", core.ErrSourceUnavailable, err)
	}
	c.offset = size

	now := c.clock.Now()
	var events []Event
	for _, line := range strings.Split(string(buf), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		events = append(events, ParseLine(line, now))
	}
	return events, nil
}
