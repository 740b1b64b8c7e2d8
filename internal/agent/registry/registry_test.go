package registry

import (
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ductor/ductor/internal/agent/client"
)

// fakeProcess implements client.HeadlessProcess with controllable exit
// behavior. By default it exits as soon as it receives any signal.
type fakeProcess struct {
	mu          sync.Mutex
	signals     []os.Signal
	done        chan struct{}
	closeOnce   sync.Once
	ignoreTerm  bool
	neverExit   bool
	signalErr   error
	sessionID   string
	eventsCh    chan client.OutputEvent
	errorsCh    chan error
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{
		done:     make(chan struct{}),
		eventsCh: make(chan client.OutputEvent),
		errorsCh: make(chan error),
	}
}

func (f *fakeProcess) Events() <-chan client.OutputEvent { return f.eventsCh }
func (f *fakeProcess) Errors() <-chan error              { return f.errorsCh }

func (f *fakeProcess) Wait() error {
	<-f.done
	return nil
}

func (f *fakeProcess) Cancel() error {
	f.exit()
	return nil
}

func (f *fakeProcess) Signal(sig os.Signal) error {
	f.mu.Lock()
	f.signals = append(f.signals, sig)
	ignoreTerm, neverExit, err := f.ignoreTerm, f.neverExit, f.signalErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if neverExit {
		return nil
	}
	if sig == syscall.SIGTERM && ignoreTerm {
		return nil
	}
	f.exit()
	return nil
}

func (f *fakeProcess) exit() {
	f.closeOnce.Do(func() { close(f.done) })
}

func (f *fakeProcess) receivedSignals() []os.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]os.Signal(nil), f.signals...)
}

func (f *fakeProcess) Status() client.ProcessStatus { return client.StatusRunning }
func (f *fakeProcess) SessionID() string            { return f.sessionID }
func (f *fakeProcess) PID() int                     { return 4242 }
func (f *fakeProcess) ExitCode() int                { return -1 }
func (f *fakeProcess) SigKilled() bool              { return false }
func (f *fakeProcess) StderrTail() string           { return "" }

var _ client.HeadlessProcess = (*fakeProcess)(nil)

func TestRegisterUnregister(t *testing.T) {
	r := New()
	p := newFakeProcess()

	require.False(t, r.HasActive(1))
	r.Register(1, p, "test run")
	require.True(t, r.HasActive(1))
	require.Equal(t, 1, r.ActiveCount(1))
	require.Equal(t, []string{"test run"}, r.ActiveLabels(1))

	r.Unregister(1, p)
	require.False(t, r.HasActive(1))
}

func TestUnregisterUnknownProcessIgnored(t *testing.T) {
	r := New()
	p := newFakeProcess()
	r.Unregister(1, p)
	r.Register(1, p, "run")
	r.Unregister(1, newFakeProcess())
	require.Equal(t, 1, r.ActiveCount(1))
}

func TestKillAllTerminatesAndSetsAbort(t *testing.T) {
	r := New()
	p1 := newFakeProcess()
	p2 := newFakeProcess()
	r.Register(1, p1, "first")
	r.Register(1, p2, "second")

	killed := r.KillAll(1)

	require.Equal(t, 2, killed)
	require.False(t, r.HasActive(1))
	require.True(t, r.WasAborted(1))
	require.Contains(t, p1.receivedSignals(), syscall.SIGTERM)
	require.Contains(t, p2.receivedSignals(), syscall.SIGTERM)
}

func TestKillAllEmptyChatStillSetsAbort(t *testing.T) {
	r := New()
	require.Equal(t, 0, r.KillAll(7))
	require.True(t, r.WasAborted(7))
}

func TestKillAllEscalatesToSigkill(t *testing.T) {
	r := New()
	p := newFakeProcess()
	p.ignoreTerm = true
	r.Register(1, p, "stubborn")

	killed := r.KillAll(1)

	require.Equal(t, 1, killed)
	sigs := p.receivedSignals()
	require.Contains(t, sigs, syscall.SIGTERM)
	require.Contains(t, sigs, syscall.SIGKILL)
}

func TestKillAllOtherChatUnaffected(t *testing.T) {
	r := New()
	p1 := newFakeProcess()
	p2 := newFakeProcess()
	r.Register(1, p1, "chat one")
	r.Register(2, p2, "chat two")

	r.KillAll(1)

	require.False(t, r.HasActive(1))
	require.True(t, r.HasActive(2))
	require.False(t, r.WasAborted(2))
	require.Empty(t, p2.receivedSignals())
}

func TestClearAbort(t *testing.T) {
	r := New()
	r.KillAll(1)
	require.True(t, r.WasAborted(1))
	r.ClearAbort(1)
	require.False(t, r.WasAborted(1))
}

func TestKillAllSignalErrorStillCounts(t *testing.T) {
	r := New()
	p := newFakeProcess()
	p.signalErr = os.ErrProcessDone
	p.exit()
	r.Register(1, p, "already gone")

	require.Equal(t, 1, r.KillAll(1))
	require.False(t, r.HasActive(1))
}

func TestKillStale(t *testing.T) {
	r := New()
	now := time.Now()
	r.now = func() time.Time { return now }

	old := newFakeProcess()
	fresh := newFakeProcess()
	r.Register(1, old, "old run")

	r.now = func() time.Time { return now.Add(90 * time.Minute) }
	r.Register(1, fresh, "fresh run")

	killed := r.KillStale(time.Hour)

	require.Equal(t, 1, killed)
	require.Contains(t, old.receivedSignals(), syscall.SIGKILL)
	require.Empty(t, fresh.receivedSignals())
	require.Equal(t, 1, r.ActiveCount(1))
}

func TestKillStaleNothingStale(t *testing.T) {
	r := New()
	p := newFakeProcess()
	r.Register(1, p, "run")
	require.Equal(t, 0, r.KillStale(time.Hour))
	require.True(t, r.HasActive(1))
}

// After KillAll a chat is never still active and always flagged aborted,
// regardless of the registration and kill interleaving.
func TestKillAllInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := New()
		chats := rapid.SliceOfN(rapid.Int64Range(1, 5), 1, 20).Draw(t, "chats")
		for i, chatID := range chats {
			p := newFakeProcess()
			if i%3 == 0 {
				p.ignoreTerm = true
			}
			r.Register(chatID, p, "run")
		}
		target := chats[rapid.IntRange(0, len(chats)-1).Draw(t, "target")]

		r.KillAll(target)

		if r.HasActive(target) {
			t.Fatalf("chat %d still active after KillAll", target)
		}
		if !r.WasAborted(target) {
			t.Fatalf("chat %d not flagged aborted after KillAll", target)
		}
	})
}
