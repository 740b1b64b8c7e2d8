package heartbeat

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ductor/ductor/internal/config"
	"github.com/ductor/ductor/internal/paths"
)

type fixture struct {
	observer *Observer

	mu       sync.Mutex
	handled  []int64
	alerts   map[int64]string
	reply    string
	replyErr error
}

func newFixture(t *testing.T, overrides map[string]any) *fixture {
	t.Helper()
	home := paths.Home{Root: t.TempDir()}
	require.NoError(t, home.EnsureLayout())

	if overrides == nil {
		overrides = map[string]any{}
	}
	if _, ok := overrides["timezone"]; !ok {
		overrides["timezone"] = "UTC"
	}
	data, err := json.Marshal(overrides)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(home.ConfigFile(), data, 0644))
	conf, _, err := config.NewStore(home)
	require.NoError(t, err)

	f := &fixture{alerts: make(map[int64]string), reply: "all quiet"}
	f.observer = NewObserver(conf, func() []int64 { return []int64{7, 9} }, f.handle)
	f.observer.SetResultHandler(func(chatID int64, alert string) {
		f.mu.Lock()
		f.alerts[chatID] = alert
		f.mu.Unlock()
	})
	// Pinned to midday so the default quiet window never interferes.
	f.observer.now = func() time.Time {
		return time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	}
	return f
}

func (f *fixture) handle(_ context.Context, chatID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handled = append(f.handled, chatID)
	return f.reply, f.replyErr
}

func (f *fixture) handledChats() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.handled...)
}

func TestTick_RunsAllChats(t *testing.T) {
	f := newFixture(t, nil)

	f.observer.tick(context.Background())

	require.Equal(t, []int64{7, 9}, f.handledChats())
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Equal(t, "all quiet", f.alerts[7])
	require.Equal(t, "all quiet", f.alerts[9])
}

func TestTick_EmptyAlertNotDelivered(t *testing.T) {
	f := newFixture(t, nil)
	f.reply = ""

	f.observer.tick(context.Background())

	require.Len(t, f.handledChats(), 2)
	require.Empty(t, f.alerts)
}

func TestTick_HandlerErrorSkipsDelivery(t *testing.T) {
	f := newFixture(t, nil)
	f.replyErr = context.DeadlineExceeded

	f.observer.tick(context.Background())
	require.Empty(t, f.alerts)
}

func TestTick_SkipsQuietHours(t *testing.T) {
	f := newFixture(t, map[string]any{
		"heartbeat": map[string]any{"quiet_start_hour": 10, "quiet_end_hour": 14},
	})

	f.observer.tick(context.Background()) // pinned clock says 12:00
	require.Empty(t, f.handledChats())
}

func TestTick_SkipsBusyChats(t *testing.T) {
	f := newFixture(t, nil)
	f.observer.SetBusyCheck(func(chatID int64) bool { return chatID == 7 })

	f.observer.tick(context.Background())
	require.Equal(t, []int64{9}, f.handledChats())
}

func TestTick_ReapsStaleFirst(t *testing.T) {
	f := newFixture(t, nil)
	reaped := 0
	f.observer.SetStaleReaper(func() int {
		reaped++
		return 2
	})

	f.observer.tick(context.Background())
	require.Equal(t, 1, reaped)
}

func TestStart_DisabledConfigStaysIdle(t *testing.T) {
	f := newFixture(t, nil) // heartbeat disabled by default

	f.observer.Start(context.Background())
	require.Nil(t, f.observer.cancel)
	f.observer.Stop() // safe without a loop
}

func TestLoop_FiresOnInterval(t *testing.T) {
	f := newFixture(t, map[string]any{
		"heartbeat": map[string]any{"enabled": true},
	})
	f.observer.interval = 20 * time.Millisecond

	f.observer.Start(context.Background())
	defer f.observer.Stop()

	require.Eventually(t, func() bool {
		return len(f.handledChats()) >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLoop_SuspendGapSkipsTick(t *testing.T) {
	f := newFixture(t, map[string]any{
		"heartbeat": map[string]any{"enabled": true},
	})
	f.observer.interval = 20 * time.Millisecond

	// Every wall-clock reading jumps an hour, so each tick sees a gap
	// far past 2x the interval and skips.
	wall := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	f.observer.now = func() time.Time {
		wall = wall.Add(time.Hour)
		return wall
	}

	f.observer.Start(context.Background())
	defer f.observer.Stop()

	time.Sleep(150 * time.Millisecond)
	require.Empty(t, f.handledChats())
}