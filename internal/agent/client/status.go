package client

// ProcessStatus represents the lifecycle state of a headless process.
type ProcessStatus int

const (
	// StatusPending indicates the process has not started yet.
	StatusPending ProcessStatus = iota

	// StatusRunning indicates the process is active and producing events.
	StatusRunning

	// StatusCompleted indicates the process exited successfully.
	StatusCompleted

	// StatusFailed indicates the process exited with an error.
	StatusFailed

	// StatusCancelled indicates the process was cancelled by the caller.
	StatusCancelled
)

// String returns a human-readable status name.
func (s ProcessStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the status is a final state.
func (s ProcessStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}
