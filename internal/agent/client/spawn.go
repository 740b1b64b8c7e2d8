package client

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/ductor/ductor/internal/log"
)

// DefaultTimeout bounds a CLI run when the config does not set one.
const DefaultTimeout = 300 * time.Second

// ChatIDEnv is exported to Docker-wrapped children so agents inside the
// container can tell which conversation they serve.
const ChatIDEnv = "DUCTOR_CHAT_ID"

// CommandFactory builds the exec.Cmd for a spawn. Tests substitute their
// own to run fake CLIs.
type CommandFactory func(ctx context.Context, name string, args ...string) *exec.Cmd

// SpawnBuilder assembles and starts one supervised CLI process. Providers
// construct it with their argv and parser; options cover stdin delivery,
// extra environment, and the event filter.
type SpawnBuilder struct {
	ctx            context.Context
	config         Config
	providerName   string
	argv           []string
	parser         EventParser
	filter         EventFilter
	env            map[string]string
	stdinData      string
	defaultTimeout time.Duration
	factory        CommandFactory
}

// NewSpawnBuilder starts a builder for the given run config.
func NewSpawnBuilder(ctx context.Context, config Config) *SpawnBuilder {
	return &SpawnBuilder{
		ctx:            ctx,
		config:         config,
		providerName:   "base",
		env:            make(map[string]string),
		defaultTimeout: DefaultTimeout,
		factory:        exec.CommandContext,
	}
}

// WithProviderName labels the process in logs and error messages.
func (b *SpawnBuilder) WithProviderName(name string) *SpawnBuilder {
	b.providerName = name
	return b
}

// WithArgs sets the full argv, executable first.
func (b *SpawnBuilder) WithArgs(argv []string) *SpawnBuilder {
	b.argv = argv
	return b
}

// WithParser sets the provider's event parser.
func (b *SpawnBuilder) WithParser(parser EventParser) *SpawnBuilder {
	b.parser = parser
	return b
}

// WithFilter installs a stream post-processor between parser and consumer.
func (b *SpawnBuilder) WithFilter(filter EventFilter) *SpawnBuilder {
	b.filter = filter
	return b
}

// WithEnv adds one environment variable for the child.
func (b *SpawnBuilder) WithEnv(key, value string) *SpawnBuilder {
	b.env[key] = value
	return b
}

// WithStdinData delivers data on the child's stdin instead of the null
// device.
func (b *SpawnBuilder) WithStdinData(data string) *SpawnBuilder {
	b.stdinData = data
	return b
}

// WithDefaultTimeout overrides the fallback timeout applied when the
// config does not carry one.
func (b *SpawnBuilder) WithDefaultTimeout(d time.Duration) *SpawnBuilder {
	b.defaultTimeout = d
	return b
}

// WithCommandFactory substitutes the command constructor, for tests.
func (b *SpawnBuilder) WithCommandFactory(factory CommandFactory) *SpawnBuilder {
	b.factory = factory
	return b
}

// Build spawns the process and starts supervision.
func (b *SpawnBuilder) Build() (*BaseProcess, error) {
	if len(b.argv) == 0 {
		return nil, fmt.Errorf("no command arguments")
	}
	if b.parser == nil {
		return nil, fmt.Errorf("no event parser")
	}

	timeout := b.config.Timeout
	if timeout <= 0 {
		timeout = b.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(b.ctx, timeout)

	argv := b.argv
	workDir := b.config.WorkDir
	if b.config.DockerContainer != "" {
		argv = dockerWrap(b.config, b.env, argv)
		// The container decides its own working directory.
		workDir = ""
	}

	cmd := b.factory(ctx, argv[0], argv[1:]...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), flattenEnv(b.env)...)
	if b.stdinData != "" {
		cmd.Stdin = strings.NewReader(b.stdinData)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("starting process: %w", err)
	}

	log.Debug(log.CatProc, "spawned process",
		"provider", b.providerName,
		"pid", cmd.Process.Pid,
		"label", b.config.Label,
		"timeout", timeout.String())

	proc := NewBaseProcess(ctx, cancel, cmd, stdout, stderr,
		WithProviderName(b.providerName),
		WithEventParser(b.parser),
		WithEventFilter(b.filter),
		WithTimeoutBudget(timeout))
	proc.StartGoroutines()
	return proc, nil
}

// dockerWrap rewrites argv to run inside the configured container. The
// chat id and any explicit environment are forwarded with -e flags so
// paths and identity survive the boundary.
func dockerWrap(config Config, env map[string]string, argv []string) []string {
	wrapped := []string{"docker", "exec", "-i"}
	wrapped = append(wrapped, "-e", fmt.Sprintf("%s=%d", ChatIDEnv, config.ChatID))
	for _, kv := range flattenEnv(env) {
		wrapped = append(wrapped, "-e", kv)
	}
	wrapped = append(wrapped, config.DockerContainer)
	return append(wrapped, argv...)
}

func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	flat := make([]string, 0, len(keys))
	for _, k := range keys {
		flat = append(flat, k+"="+env[k])
	}
	return flat
}
