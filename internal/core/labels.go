package core

// Valid reports whether s is one of the known task statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusBacklog, TaskStatusTodo, TaskStatusInProgress, TaskStatusDone, TaskStatusBlocked:
		return true
	}
	return false
}

// Label returns the display text for a task status.
func (s TaskStatus) Label() string {
	switch s {
	case TaskStatusBacklog:
		return "Backlog"
	case TaskStatusTodo:
		return "To Do"
	case TaskStatusInProgress:
		return "In Progress"
	case TaskStatusDone:
		return "Done"
	case TaskStatusBlocked:
		return "Blocked"
	}
	panic("unknown task status: " + string(s))
}

func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusIdle, AgentStatusWorking, AgentStatusOffline, AgentStatusError:
		return true
	}
	return false
}

func (s AgentStatus) Label() string {
	switch s {
	case AgentStatusIdle:
		return "Idle"
	case AgentStatusWorking:
		return "Working"
	case AgentStatusOffline:
		return "Offline"
	case AgentStatusError:
		return "Error"
	}
	panic("unknown agent status: " + string(s))
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

func (p Priority) Label() string {
	switch p {
	case PriorityLow:
		return "Low"
	case PriorityMedium:
		return "Medium"
	case PriorityHigh:
		return "High"
	case PriorityCritical:
		return "Critical"
	}
	panic("unknown priority: " + string(p))
}

func (s RunStatus) Label() string {
	switch s {
	case RunStatusPending:
		return "Pending"
	case RunStatusRunning:
		return "Running"
	case RunStatusOK:
		return "OK"
	case RunStatusError:
		return "Error"
	case RunStatusTimeout:
		return "Timed out"
	}
	panic("unknown run status: " + string(s))
}

// Finished reports whether a run reached a terminal state.
func (s RunStatus) Finished() bool {
	switch s {
	case RunStatusPending, RunStatusRunning:
		return false
	case RunStatusOK, RunStatusError, RunStatusTimeout:
		return true
	}
	panic("unknown run status: " + string(s))
}

func (k ScheduleKind) Valid() bool {
	switch k {
	case ScheduleCron, ScheduleEvery, ScheduleAt:
		return true
	}
	return false
}

func (t SessionTarget) Valid() bool {
	switch t {
	case SessionMain, SessionIsolated:
		return true
	}
	return false
}

func (k PayloadKind) Valid() bool {
	switch k {
	case PayloadAgentTurn, PayloadSystemEvent:
		return true
	}
	return false
}
