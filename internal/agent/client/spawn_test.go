package client

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSpawnBuilder_RequiresArgsAndParser(t *testing.T) {
	ctx := context.Background()

	_, err := NewSpawnBuilder(ctx, Config{Prompt: "hi"}).Build()
	require.Error(t, err)
	require.Contains(t, err.Error(), "no command arguments")

	_, err = NewSpawnBuilder(ctx, Config{Prompt: "hi"}).
		WithArgs([]string{"echo"}).
		Build()
	require.Error(t, err)
	require.Contains(t, err.Error(), "no event parser")
}

func TestSpawnBuilder_Build_RunsCommand(t *testing.T) {
	proc, err := NewSpawnBuilder(context.Background(), Config{Prompt: "hi"}).
		WithProviderName("test").
		WithArgs([]string{"sh", "-c", `echo "RESULT ok"`}).
		WithParser(stubParser{}).
		Build()
	require.NoError(t, err)

	events := drainEvents(proc)
	require.NoError(t, proc.Wait())
	require.Len(t, events, 1)
	require.Equal(t, "ok", events[0].Text)
	require.Equal(t, StatusCompleted, proc.Status())
}

func TestSpawnBuilder_PassesWorkDirAndEnv(t *testing.T) {
	var captured *exec.Cmd
	factory := func(ctx context.Context, name string, args ...string) *exec.Cmd {
		captured = exec.CommandContext(ctx, name, args...)
		return captured
	}

	dir := t.TempDir()
	proc, err := NewSpawnBuilder(context.Background(), Config{Prompt: "hi", WorkDir: dir}).
		WithArgs([]string{"true"}).
		WithParser(stubParser{}).
		WithEnv("FAKE_FLAG", "1").
		WithCommandFactory(factory).
		Build()
	require.NoError(t, err)
	_ = proc.Wait()

	require.Equal(t, dir, captured.Dir)
	require.Contains(t, captured.Env, "FAKE_FLAG=1")
}

func TestSpawnBuilder_StdinData(t *testing.T) {
	proc, err := NewSpawnBuilder(context.Background(), Config{Prompt: "hi"}).
		WithArgs([]string{"cat"}).
		WithParser(stubParser{}).
		WithStdinData("from stdin").
		Build()
	require.NoError(t, err)

	events := drainEvents(proc)
	require.NoError(t, proc.Wait())
	require.Len(t, events, 1)
	require.Equal(t, "from stdin", events[0].Text)
}

func TestSpawnBuilder_DockerWrap(t *testing.T) {
	var gotName string
	var gotArgs []string
	var captured *exec.Cmd
	factory := func(ctx context.Context, name string, args ...string) *exec.Cmd {
		gotName = name
		gotArgs = args
		// Substitute a harmless command; the wrap itself is under test.
		captured = exec.CommandContext(ctx, "true")
		return captured
	}

	proc, err := NewSpawnBuilder(context.Background(), Config{
		Prompt:          "hi",
		WorkDir:         "/host/workdir",
		DockerContainer: "devbox",
		ChatID:          42,
	}).
		WithArgs([]string{"claude", "-p", "hi"}).
		WithParser(stubParser{}).
		WithEnv("GEMINI_SYSTEM_MD", "/tmp/sys.md").
		WithCommandFactory(factory).
		Build()
	require.NoError(t, err)
	_ = proc.Wait()

	require.Equal(t, "docker", gotName)
	require.Equal(t, []string{
		"exec", "-i",
		"-e", "DUCTOR_CHAT_ID=42",
		"-e", "GEMINI_SYSTEM_MD=/tmp/sys.md",
		"devbox",
		"claude", "-p", "hi",
	}, gotArgs)

	// The container decides its own working directory.
	require.Empty(t, captured.Dir)
}

func TestSpawnBuilder_DefaultTimeoutApplied(t *testing.T) {
	proc, err := NewSpawnBuilder(context.Background(), Config{Prompt: "hi"}).
		WithArgs([]string{"sleep", "5"}).
		WithParser(stubParser{}).
		WithDefaultTimeout(50 * time.Millisecond).
		Build()
	require.NoError(t, err)

	drainEvents(proc)
	require.ErrorIs(t, proc.Wait(), ErrTimeout)
	require.True(t, proc.TimedOut())
}

func TestFlattenEnv_Sorted(t *testing.T) {
	flat := flattenEnv(map[string]string{"B": "2", "A": "1", "C": "3"})
	require.Equal(t, []string{"A=1", "B=2", "C=3"}, flat)
	require.Nil(t, flattenEnv(nil))
}
