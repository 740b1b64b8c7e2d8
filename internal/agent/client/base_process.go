package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/ductor/ductor/internal/log"
)

// Sentinel errors surfaced by Wait and the error channel.
var (
	// ErrTimeout indicates the process exceeded its wall-clock budget and
	// was force-killed.
	ErrTimeout = errors.New("process timed out")

	// ErrCancelled indicates the process was cancelled via Cancel.
	ErrCancelled = errors.New("process cancelled")
)

const (
	// eventBufferSize bounds in-flight parsed events before the reader
	// goroutine blocks.
	eventBufferSize = 100

	// errorBufferSize bounds asynchronous process errors.
	errorBufferSize = 10

	// stderrCaptureLimit caps captured stderr; synthesized error text
	// only uses the head anyway.
	stderrCaptureLimit = 16 * 1024

	// synthesizedErrorLimit bounds stderr text copied into a synthesized
	// error result.
	synthesizedErrorLimit = 500
)

// EventFilter post-processes parsed events before delivery. Filters may
// hold events back (returning none) and release them later; Flush drains
// whatever is still held at stream end.
type EventFilter interface {
	Process(event OutputEvent) []OutputEvent
	Flush() []OutputEvent
}

// ProcessOption configures a BaseProcess.
type ProcessOption func(*BaseProcess)

// WithProviderName labels the process in logs and error messages.
func WithProviderName(name string) ProcessOption {
	return func(p *BaseProcess) {
		p.providerName = name
	}
}

// WithEventParser sets the parser applied to each stdout line.
func WithEventParser(parser EventParser) ProcessOption {
	return func(p *BaseProcess) {
		p.parser = parser
	}
}

// WithEventFilter installs a stream post-processor between parser and
// consumer.
func WithEventFilter(filter EventFilter) ProcessOption {
	return func(p *BaseProcess) {
		p.filter = filter
	}
}

// WithTimeoutBudget records the wall-clock budget for error reporting.
func WithTimeoutBudget(d time.Duration) ProcessOption {
	return func(p *BaseProcess) {
		p.timeout = d
	}
}

// BaseProcess supervises one spawned provider CLI. It owns three
// goroutines: a stdout parser, a stderr capturer, and a completion waiter
// that reaps the process, synthesizes a missing error result, and closes
// the channels.
type BaseProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser

	providerName string
	parser       EventParser
	filter       EventFilter
	timeout      time.Duration

	events chan OutputEvent
	errors chan error
	done   chan struct{}

	ctx        context.Context
	cancelFunc context.CancelFunc

	mu         sync.RWMutex
	status     ProcessStatus
	sessionID  string
	model      string
	resultSeen bool
	textBuf    strings.Builder
	exitCode   int
	sigKilled  bool
	timedOut   bool
	waitErr    error

	stderrMu  sync.Mutex
	stderrBuf strings.Builder

	wg sync.WaitGroup
}

// NewBaseProcess wraps a command whose pipes were obtained before start.
// Missing pipes are a caller contract breach.
func NewBaseProcess(ctx context.Context, cancel context.CancelFunc, cmd *exec.Cmd, stdout, stderr io.ReadCloser, opts ...ProcessOption) *BaseProcess {
	p := &BaseProcess{
		cmd:          cmd,
		stdout:       stdout,
		stderr:       stderr,
		providerName: "base",
		events:       make(chan OutputEvent, eventBufferSize),
		errors:       make(chan error, errorBufferSize),
		done:         make(chan struct{}),
		ctx:          ctx,
		cancelFunc:   cancel,
		status:       StatusPending,
		exitCode:     -1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// StartGoroutines launches the supervision goroutines. Must be called
// exactly once, after the command has started.
func (p *BaseProcess) StartGoroutines() {
	p.SetStatus(StatusRunning)

	p.wg.Add(2)
	go p.parseOutput()
	go p.parseStderr()
	go p.waitForCompletion()
}

// Events returns the parsed event channel. Closed after process exit.
func (p *BaseProcess) Events() <-chan OutputEvent {
	return p.events
}

// Errors returns the asynchronous error channel. Closed after process
// exit.
func (p *BaseProcess) Errors() <-chan error {
	return p.errors
}

// ProviderName returns the label used in logs and error messages.
func (p *BaseProcess) ProviderName() string {
	return p.providerName
}

// Wait blocks until the process has exited and all output is drained.
func (p *BaseProcess) Wait() error {
	<-p.done
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.waitErr
}

// Cancel terminates the process. No-op once the process is terminal. The
// caller sees StatusCancelled rather than a synthesized result.
func (p *BaseProcess) Cancel() error {
	if p.Status().IsTerminal() {
		return nil
	}
	// Status must flip before the context is cancelled so the completion
	// path classifies the exit as a cancellation, not a failure.
	p.SetStatus(StatusCancelled)
	if p.cancelFunc != nil {
		p.cancelFunc()
	}
	return nil
}

// Signal delivers a signal to the underlying process.
func (p *BaseProcess) Signal(sig os.Signal) error {
	if p.cmd == nil || p.cmd.Process == nil {
		return fmt.Errorf("%s process not started", p.providerName)
	}
	return p.cmd.Process.Signal(sig)
}

// PID returns the child process id, or -1 before start.
func (p *BaseProcess) PID() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

// Status returns the current lifecycle status.
func (p *BaseProcess) Status() ProcessStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// SetStatus transitions the lifecycle status. Cancelled is sticky so a
// racing completion cannot mask an abort.
func (p *BaseProcess) SetStatus(s ProcessStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusCancelled && s != StatusCancelled {
		return
	}
	p.status = s
}

// SessionID returns the provider-assigned session id, or empty until the
// provider announces one.
func (p *BaseProcess) SessionID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sessionID
}

// Model returns the model the provider reported, or empty.
func (p *BaseProcess) Model() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model
}

// ExitCode returns the exit code after Wait. Processes killed by a
// signal report the negated signal number, mirroring the subprocess
// convention used by callers checking for SIGKILL.
func (p *BaseProcess) ExitCode() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitCode
}

// SigKilled reports whether the process died from SIGKILL.
func (p *BaseProcess) SigKilled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sigKilled
}

// TimedOut reports whether the process hit its wall-clock budget.
func (p *BaseProcess) TimedOut() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.timedOut
}

// AccumulatedText returns all assistant text seen so far, for fallback
// when a stream ends without a result frame.
func (p *BaseProcess) AccumulatedText() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.textBuf.String()
}

// StderrTail returns captured stderr output, bounded.
func (p *BaseProcess) StderrTail() string {
	p.stderrMu.Lock()
	defer p.stderrMu.Unlock()
	return strings.TrimSpace(p.stderrBuf.String())
}

// SendError delivers an error without blocking; full channels drop.
func (p *BaseProcess) SendError(err error) {
	select {
	case p.errors <- err:
	default:
		log.Warn(log.CatProc, "dropping process error, channel full",
			"provider", p.providerName, "error", err)
	}
}

// parseOutput reads stdout line by line, parses each into events, and
// delivers them. Malformed lines are skipped with debug logging.
func (p *BaseProcess) parseOutput() {
	defer p.wg.Done()

	scanner := bufio.NewScanner(p.stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(bytes.ToValidUTF8(scanner.Bytes(), []byte("�")))
		if len(line) == 0 {
			continue
		}

		events, err := p.parser.ParseEvents(line)
		if err != nil {
			log.Debug(log.CatStream, "skipping unparseable line",
				"provider", p.providerName, "error", err)
			continue
		}

		for _, event := range events {
			p.deliver(event)
		}
	}

	if p.filter != nil {
		for _, event := range p.filter.Flush() {
			p.record(event)
			p.send(event)
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		p.SendError(fmt.Errorf("%s scanner error: %w", p.providerName, err))
	}
}

// deliver routes one parsed event through the filter and to the consumer.
func (p *BaseProcess) deliver(event OutputEvent) {
	events := []OutputEvent{event}
	if p.filter != nil {
		events = p.filter.Process(event)
	}
	for _, ev := range events {
		p.record(ev)
		p.send(ev)
	}
}

func (p *BaseProcess) send(ev OutputEvent) {
	select {
	case p.events <- ev:
	case <-p.ctx.Done():
	}
}

// record captures session, model, text, and result bookkeeping from each
// delivered event.
func (p *BaseProcess) record(ev OutputEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessionID == "" && ev.SessionID != "" {
		p.sessionID = ev.SessionID
	}
	if p.model == "" && ev.Model != "" {
		p.model = ev.Model
	}
	if ev.Type == EventTypeText {
		p.textBuf.WriteString(ev.Text)
	}
	if ev.Type == EventTypeResult {
		p.resultSeen = true
	}
}

// parseStderr drains stderr, stripping terminal escape sequences, so a
// failing process can explain itself in the synthesized result.
func (p *BaseProcess) parseStderr() {
	defer p.wg.Done()

	scanner := bufio.NewScanner(p.stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := ansi.Strip(scanner.Text())
		p.stderrMu.Lock()
		if p.stderrBuf.Len() < stderrCaptureLimit {
			p.stderrBuf.WriteString(line)
			p.stderrBuf.WriteString("\n")
		}
		p.stderrMu.Unlock()
	}
}

// waitForCompletion reaps the process after the readers drain, classifies
// the exit, synthesizes a missing error result, and closes the channels.
func (p *BaseProcess) waitForCompletion() {
	p.wg.Wait()
	err := p.cmd.Wait()

	code, killed := inspectExit(p.cmd)

	p.mu.Lock()
	p.exitCode = code
	p.sigKilled = killed
	cancelled := p.status == StatusCancelled
	resultSeen := p.resultSeen
	accumulated := p.textBuf.String()
	timedOut := p.ctx.Err() == context.DeadlineExceeded && !cancelled
	p.timedOut = timedOut
	p.mu.Unlock()

	switch {
	case cancelled:
		p.setWaitErr(ErrCancelled)

	case timedOut:
		p.emitSynthesized(fmt.Sprintf("Timed out after %s.", p.timeout))
		p.setWaitErr(ErrTimeout)
		p.SendError(ErrTimeout)
		p.SetStatus(StatusFailed)

	case err != nil:
		if !resultSeen {
			p.emitSynthesized(p.synthesizedText(accumulated))
		}
		failure := p.failureError(err)
		p.setWaitErr(failure)
		p.SendError(failure)
		p.SetStatus(StatusFailed)

	default:
		p.SetStatus(StatusCompleted)
	}

	if p.cancelFunc != nil {
		p.cancelFunc()
	}
	close(p.events)
	close(p.errors)
	close(p.done)
}

func (p *BaseProcess) setWaitErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waitErr = err
}

// failureError builds the user-invisible failure error, folding in
// captured stderr when present.
func (p *BaseProcess) failureError(err error) error {
	if tail := p.StderrTail(); tail != "" {
		return fmt.Errorf("%s process failed: %w (stderr: %s)",
			p.providerName, err, TruncateForError(tail, synthesizedErrorLimit))
	}
	return fmt.Errorf("%s process exited: %w", p.providerName, err)
}

// synthesizedText picks the most useful explanation for a process that
// died without producing a result frame.
func (p *BaseProcess) synthesizedText(accumulated string) string {
	if tail := p.StderrTail(); tail != "" {
		return TruncateForError(tail, synthesizedErrorLimit)
	}
	if strings.TrimSpace(accumulated) != "" {
		return accumulated
	}
	return "(no output)"
}

func (p *BaseProcess) emitSynthesized(text string) {
	ev := NewErrorResultEvent(text)
	p.record(ev)
	select {
	case p.events <- ev:
	default:
		log.Warn(log.CatStream, "dropping synthesized result, channel full",
			"provider", p.providerName)
	}
}

var _ HeadlessProcess = (*BaseProcess)(nil)
