// Package chat is the local terminal chat surface. It speaks to the
// orchestrator in-process: a textarea for input, a viewport transcript
// with glamour-rendered replies, and a spinner while a turn is in
// flight. Observer messages (cron, heartbeat, webhook) arrive over the
// result bus and are folded into the transcript.
package chat

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ductor/ductor/internal/agent/service"
	"github.com/ductor/ductor/internal/orchestrator"
	"github.com/ductor/ductor/internal/pubsub"
)

// Engine is the slice of the orchestrator the chat surface drives.
type Engine interface {
	HandleMessageStreaming(ctx context.Context, chatID int64, text string, cb service.StreamCallbacks) orchestrator.Result
	Abort(chatID int64) int
}

// role tags a transcript entry for rendering.
type role int

const (
	roleUser role = iota
	roleAgent
	roleSystem
	roleObserver
)

// entry is one transcript line group.
type entry struct {
	role   role
	label  string // observer source for roleObserver
	text   string // raw markdown / plain text
	at     time.Time
	stream bool // partial text of the in-flight turn
}

// Messages delivered to Update.
type (
	// turnDoneMsg carries the finished reply for the in-flight turn.
	turnDoneMsg struct{ result orchestrator.Result }

	// streamEventMsg is one incremental event from the agent stream.
	streamEventMsg struct {
		thinking bool
		tool     string
		text     string
	}

	// streamClosedMsg signals the stream channel drained.
	streamClosedMsg struct{}

	// busReplyMsg is an observer message from the result bus.
	busReplyMsg struct{ reply orchestrator.Reply }

	// busClosedMsg signals the bus subscription ended.
	busClosedMsg struct{}
)

// Model is the bubbletea model for the chat surface.
type Model struct {
	chatID int64
	engine Engine
	bus    <-chan pubsub.Event[orchestrator.Reply]

	input    textarea.Model
	vp       viewport.Model
	spin     spinner.Model
	md       *mdRenderer
	renderMD bool

	entries []entry
	busy    bool
	stream  chan streamEventMsg

	width  int
	height int
	ready  bool

	// now is the time source, swappable in tests.
	now func() time.Time
}

// New builds a chat model bound to one chat ID. bus may be nil when no
// observers run (chat without serve).
func New(engine Engine, chatID int64, bus <-chan pubsub.Event[orchestrator.Reply]) Model {
	ta := textarea.New()
	ta.Placeholder = "Message the agent... (/quit to exit)"
	ta.Prompt = "> "
	ta.CharLimit = 0
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = spinnerStyle

	return Model{
		chatID:   chatID,
		engine:   engine,
		bus:      bus,
		input:    ta,
		spin:     sp,
		renderMD: true,
		now:      time.Now,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textarea.Blink}
	if m.bus != nil {
		cmds = append(cmds, waitBus(m.bus))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.resize(msg), nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case streamEventMsg:
		m = m.applyStreamEvent(msg)
		return m, waitStream(m.stream)

	case streamClosedMsg:
		return m, nil

	case turnDoneMsg:
		m = m.finishTurn(msg.result)
		return m, nil

	case busReplyMsg:
		m = m.applyBusReply(msg.reply)
		return m, waitBus(m.bus)

	case busClosedMsg:
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		if m.busy {
			n := m.engine.Abort(m.chatID)
			if n > 0 {
				m = m.append(entry{role: roleSystem, text: "Stopping...", at: m.now()})
			}
			return m, nil
		}
		return m, tea.Quit

	case tea.KeyEnter:
		// Shift-less enter submits; textarea newlines come from alt+enter.
		if msg.Alt {
			break
		}
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		if text == "/quit" || text == "/exit" {
			return m, tea.Quit
		}
		if m.busy {
			// One turn at a time; keep the draft in the textarea.
			return m, nil
		}
		return m.submit(text)

	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit starts a turn: records the user entry, opens the stream
// channel, and launches the orchestrator call off the UI goroutine.
func (m Model) submit(text string) (tea.Model, tea.Cmd) {
	m.input.Reset()
	m = m.append(entry{role: roleUser, text: text, at: m.now()})
	m = m.append(entry{role: roleAgent, at: m.now(), stream: true})
	m.busy = true

	events := make(chan streamEventMsg, 64)
	m.stream = events

	engine, chatID := m.engine, m.chatID
	// Drop events rather than block the agent when the UI lags; the
	// final reply text supersedes the streamed partials anyway.
	push := func(ev streamEventMsg) {
		select {
		case events <- ev:
		default:
		}
	}
	run := func() tea.Msg {
		defer close(events)
		cb := service.StreamCallbacks{
			OnText:     func(t string) { push(streamEventMsg{text: t}) },
			OnThinking: func(t string) { push(streamEventMsg{thinking: true, text: t}) },
			OnToolUse:  func(name string, _ json.RawMessage) { push(streamEventMsg{tool: name}) },
			OnStatus:   func(status string) { push(streamEventMsg{tool: status}) },
		}
		result := engine.HandleMessageStreaming(context.Background(), chatID, text, cb)
		return turnDoneMsg{result: result}
	}

	return m, tea.Batch(run, waitStream(events), m.spin.Tick)
}

func waitStream(ch chan streamEventMsg) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return ev
	}
}

func waitBus(ch <-chan pubsub.Event[orchestrator.Reply]) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return busClosedMsg{}
		}
		return busReplyMsg{reply: ev.Payload}
	}
}

// applyStreamEvent folds an incremental event into the in-flight
// agent entry. Thinking output is discarded; tool use is shown as an
// activity line that the final text replaces.
func (m Model) applyStreamEvent(ev streamEventMsg) Model {
	if len(m.entries) == 0 {
		return m
	}
	last := &m.entries[len(m.entries)-1]
	if !last.stream {
		return m
	}
	switch {
	case ev.thinking:
		// Not part of the reply.
	case ev.tool != "":
		last.text += "\n[" + ev.tool + "]"
	case ev.text != "":
		if last.text != "" {
			last.text += "\n"
		}
		last.text += ev.text
	}
	m.refreshViewport(true)
	return m
}

// finishTurn replaces the streamed partial with the final reply text.
func (m Model) finishTurn(result orchestrator.Result) Model {
	m.busy = false
	m.stream = nil
	if len(m.entries) > 0 && m.entries[len(m.entries)-1].stream {
		last := &m.entries[len(m.entries)-1]
		last.stream = false
		last.text = result.Text
		if result.Text == "" {
			// Aborted or suppressed turn; drop the placeholder.
			m.entries = m.entries[:len(m.entries)-1]
		}
	} else if result.Text != "" {
		m = m.append(entry{role: roleAgent, text: result.Text, at: m.now()})
	}
	m.refreshViewport(true)
	return m
}

// applyBusReply shows observer traffic; the surface's own replies are
// already in the transcript.
func (m Model) applyBusReply(r orchestrator.Reply) Model {
	if r.ChatID != m.chatID || r.Source == "message" || r.Text == "" {
		return m
	}
	return m.append(entry{role: roleObserver, label: r.Source, text: r.Text, at: m.now()})
}

func (m Model) append(e entry) Model {
	m.entries = append(m.entries, e)
	m.refreshViewport(true)
	return m
}

func (m *Model) resize(msg tea.WindowSizeMsg) Model {
	m.width = msg.Width
	m.height = msg.Height

	vpHeight := max(msg.Height-inputHeight-1, 1)
	if !m.ready {
		m.vp = viewport.New(msg.Width, vpHeight)
		m.ready = true
	} else {
		m.vp.Width = msg.Width
		m.vp.Height = vpHeight
	}
	m.input.SetWidth(msg.Width - 2)

	if md, err := newMarkdownRenderer(max(msg.Width-2, 20)); err == nil {
		m.md = md
	}
	m.refreshViewport(false)
	return *m
}

func (m *Model) refreshViewport(follow bool) {
	if !m.ready {
		return
	}
	m.vp.SetContent(m.renderTranscript())
	if follow {
		m.vp.GotoBottom()
	}
}
