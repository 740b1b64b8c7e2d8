package client

import "os"

// HeadlessProcess manages a running provider CLI process. Implementations
// stream parsed events while the process runs and expose enough of the
// underlying process state for supervision (signals, exit classification).
type HeadlessProcess interface {
	// Events returns the channel of normalized output events. The channel
	// is closed when the process exits and parsing has drained.
	Events() <-chan OutputEvent

	// Errors returns the channel of asynchronous process errors.
	Errors() <-chan error

	// Wait blocks until the process exits and returns its final error.
	Wait() error

	// Cancel terminates the process and marks it cancelled.
	Cancel() error

	// Signal delivers a signal to the underlying process.
	Signal(sig os.Signal) error

	// Status returns the current lifecycle status.
	Status() ProcessStatus

	// SessionID returns the provider session identifier, or empty if the
	// provider has not announced one yet.
	SessionID() string

	// PID returns the operating system process id, or -1 before start.
	PID() int

	// ExitCode returns the process exit code, or -1 if it has not exited
	// or was terminated by a signal.
	ExitCode() int

	// SigKilled reports whether the process was terminated by SIGKILL,
	// which indicates an external kill rather than a normal failure.
	SigKilled() bool

	// StderrTail returns the captured stderr output, bounded to the most
	// recent portion.
	StderrTail() string
}
