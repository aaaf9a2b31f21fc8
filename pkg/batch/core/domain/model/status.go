package model

// BatchStatus is the lifecycle state shared by job and step executions.
type BatchStatus string

const (
	BatchStatusStarting  BatchStatus = "STARTING"
	BatchStatusStarted   BatchStatus = "STARTED"
	BatchStatusStopping  BatchStatus = "STOPPING"
	BatchStatusStopped   BatchStatus = "STOPPED"
	BatchStatusCompleted BatchStatus = "COMPLETED"
	BatchStatusFailed    BatchStatus = "FAILED"
	BatchStatusAbandoned BatchStatus = "ABANDONED"
)

// String returns the string representation of the BatchStatus.
func (s BatchStatus) String() string {
	return string(s)
}

// IsFinished reports whether s is terminal.
func (s BatchStatus) IsFinished() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned:
		return true
	default:
		return false
	}
}

// IsRunning reports whether an execution in state s still owns its instance.
func (s BatchStatus) IsRunning() bool {
	switch s {
	case BatchStatusStarting, BatchStatusStarted, BatchStatusStopping:
		return true
	default:
		return false
	}
}

// IsRestartable reports whether an execution ending in s may be resumed by a relaunch.
func (s BatchStatus) IsRestartable() bool {
	return s == BatchStatusFailed || s == BatchStatusStopped
}

// ToExitStatus converts the BatchStatus to its corresponding ExitStatus.
func (s BatchStatus) ToExitStatus() ExitStatus {
	switch s {
	case BatchStatusCompleted:
		return ExitStatusCompleted
	case BatchStatusFailed:
		return ExitStatusFailed
	case BatchStatusStopped:
		return ExitStatusStopped
	case BatchStatusAbandoned:
		return ExitStatusAbandoned
	case BatchStatusStarting, BatchStatusStarted, BatchStatusStopping:
		return ExitStatusExecuting
	default:
		return ExitStatusUnknown
	}
}

// ExitStatus is the detailed outcome recorded when a job or step finishes.
type ExitStatus string

const (
	ExitStatusUnknown   ExitStatus = "UNKNOWN"
	ExitStatusExecuting ExitStatus = "EXECUTING"
	ExitStatusCompleted ExitStatus = "COMPLETED"
	ExitStatusFailed    ExitStatus = "FAILED"
	ExitStatusStopped   ExitStatus = "STOPPED"
	ExitStatusAbandoned ExitStatus = "ABANDONED"
	ExitStatusNoOp      ExitStatus = "NOOP"
)

func (s ExitStatus) String() string {
	return string(s)
}

// Process exit codes reported by launch commands.
const (
	ExitCodeCompleted        = 0
	ExitCodeFailed           = 1
	ExitCodeStopped          = 2
	ExitCodeIdentityConflict = 3
	ExitCodeAlreadyRunning   = 4
	ExitCodeLaunchError      = 5
)

// ExitCodeForStatus maps a terminal status to its process exit code.
func ExitCodeForStatus(s BatchStatus) int {
	switch s {
	case BatchStatusCompleted:
		return ExitCodeCompleted
	case BatchStatusStopped:
		return ExitCodeStopped
	default:
		return ExitCodeFailed
	}
}

var jobTransitions = map[BatchStatus][]BatchStatus{
	BatchStatusStarting: {BatchStatusStarted, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned},
	BatchStatusStarted:  {BatchStatusStopping, BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned},
	BatchStatusStopping: {BatchStatusStopped, BatchStatusCompleted, BatchStatusFailed, BatchStatusAbandoned},
	BatchStatusFailed:   {BatchStatusAbandoned},
	BatchStatusStopped:  {BatchStatusAbandoned},
}

var stepTransitions = map[BatchStatus][]BatchStatus{
	BatchStatusStarting: {BatchStatusStarted, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned},
	BatchStatusStarted:  {BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned},
	// A failing after-step listener fails a step that already completed.
	BatchStatusCompleted: {BatchStatusFailed},
}

func allowed(table map[BatchStatus][]BatchStatus, current, next BatchStatus) bool {
	for _, s := range table[current] {
		if s == next {
			return true
		}
	}
	return false
}
