package middleware

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"

	"github.com/ductor/ductor/internal/log"
)

// maxChatStates caps the per-chat bookkeeping map. When full, half of the
// idle chats are culled before a new one is added.
const maxChatStates = 1000

const previewWidth = 40

// quickCommands are read-only commands that must answer immediately even
// while the chat is busy with a long-running agent call.
var quickCommands = map[string]bool{
	"/status":    true,
	"/memory":    true,
	"/cron":      true,
	"/diagnose":  true,
	"/model":     true,
	"/showfiles": true,
}

// abortWords are single bare-word abort triggers, English and German.
var abortWords = map[string]bool{
	"stop": true, "abort": true, "cancel": true, "halt": true,
	"wait": true, "quit": true, "exit": true, "interrupt": true,
	"stopp": true, "warte": true, "abbruch": true, "abbrechen": true,
}

// IsQuickCommand reports whether text starts with a queue-bypassing
// command, with or without arguments.
func IsQuickCommand(text string) bool {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return false
	}
	return quickCommands[fields[0]]
}

// IsAbortMessage reports whether text is /stop or a bare abort word.
func IsAbortMessage(text string) bool {
	stripped := strings.TrimSpace(text)
	if strings.EqualFold(stripped, "/stop") {
		return true
	}
	lower := strings.ToLower(stripped)
	if strings.ContainsRune(lower, ' ') {
		return false
	}
	return abortWords[lower]
}

// InboundMessage is one message arriving from the chat surface.
type InboundMessage struct {
	ChatID    int64
	MessageID int64
	Text      string
}

// QueueEntry describes a message waiting behind an in-flight one.
type QueueEntry struct {
	ID         string
	ChatID     int64
	MessageID  int64
	Preview    string
	EnqueuedAt time.Time
	Cancelled  bool
}

// Handler processes one message while holding the chat's FIFO slot.
type Handler func(ctx context.Context, msg InboundMessage)

// GateHandler runs before the FIFO. Returning true consumes the message.
type GateHandler func(ctx context.Context, msg InboundMessage) bool

// Notifier receives queue lifecycle events so the chat surface can show
// and retire waiting indicators. All methods may be called concurrently.
type Notifier interface {
	MessageQueued(entry QueueEntry)
	MessageCancelled(entry QueueEntry)
	MessageDiscarded(entry QueueEntry)
}

type queueItem struct {
	entry *QueueEntry // nil for the message that starts a drain
	msg   InboundMessage
	run   func(ctx context.Context) // overrides the handler when set
}

type chatState struct {
	busy    bool
	pending []*queueItem
}

// Dispatcher enforces one in-flight message per chat in strict arrival
// order, with duplicate suppression and abort/quick-command bypass lanes.
type Dispatcher struct {
	mu     sync.Mutex
	chats  map[int64]*chatState
	dedup  *DedupeCache
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	handler  Handler
	abort    GateHandler
	quick    GateHandler
	notifier Notifier
}

// NewDispatcher builds a dispatcher around the message handler.
func NewDispatcher(handler Handler) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		chats:   make(map[int64]*chatState),
		dedup:   NewDedupeCache(),
		ctx:     ctx,
		cancel:  cancel,
		handler: handler,
	}
}

// SetAbortHandler registers the gate invoked for abort triggers before
// anything else. A true return also drains the chat's pending queue.
func (d *Dispatcher) SetAbortHandler(h GateHandler) { d.abort = h }

// SetQuickCommandHandler registers the gate for read-only commands that
// answer without waiting for the FIFO slot.
func (d *Dispatcher) SetQuickCommandHandler(h GateHandler) { d.quick = h }

// SetNotifier registers the queue event sink.
func (d *Dispatcher) SetNotifier(n Notifier) { d.notifier = n }

// Dispatch routes one inbound message: abort gate, quick-command gate,
// dedup, then the per-chat FIFO. Gates run on the caller's goroutine;
// the handler runs on the chat's drain goroutine.
func (d *Dispatcher) Dispatch(msg InboundMessage) {
	text := strings.TrimSpace(msg.Text)

	if d.abort != nil && text != "" && IsAbortMessage(text) {
		if d.abort(d.ctx, msg) {
			d.DrainPending(msg.ChatID)
			return
		}
	}

	if d.quick != nil && text != "" && IsQuickCommand(text) {
		if d.quick(d.ctx, msg) {
			return
		}
	}

	if d.dedup.IsDuplicate(DedupKey(msg.ChatID, msg.MessageID)) {
		log.Debug(log.CatChat, "message deduplicated", "chat_id", msg.ChatID, "message_id", msg.MessageID)
		return
	}

	d.enqueue(msg)
}

// IsBusy reports whether the chat holds its FIFO slot or has queued
// messages. Observers use it to skip busy chats.
func (d *Dispatcher) IsBusy(chatID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.chats[chatID]
	return st != nil && (st.busy || len(st.pending) > 0)
}

// HasPending reports whether the chat has messages waiting.
func (d *Dispatcher) HasPending(chatID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.chats[chatID]
	return st != nil && len(st.pending) > 0
}

// PendingEntries returns copies of the chat's queued entries in order.
func (d *Dispatcher) PendingEntries(chatID int64) []QueueEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.chats[chatID]
	if st == nil {
		return nil
	}
	entries := make([]QueueEntry, 0, len(st.pending))
	for _, item := range st.pending {
		if item.entry != nil {
			entries = append(entries, *item.entry)
		}
	}
	return entries
}

// CancelEntry cancels a single queued message by entry ID.
func (d *Dispatcher) CancelEntry(chatID int64, entryID string) bool {
	d.mu.Lock()
	var cancelled *QueueEntry
	if st := d.chats[chatID]; st != nil {
		for _, item := range st.pending {
			if item.entry != nil && item.entry.ID == entryID && !item.entry.Cancelled {
				item.entry.Cancelled = true
				copied := *item.entry
				cancelled = &copied
				break
			}
		}
	}
	d.mu.Unlock()

	if cancelled == nil {
		return false
	}
	log.Info(log.CatChat, "queue entry cancelled", "chat_id", chatID, "entry_id", entryID)
	if d.notifier != nil {
		d.notifier.MessageCancelled(*cancelled)
	}
	return true
}

// DrainPending cancels every queued message for the chat and returns the
// number discarded.
func (d *Dispatcher) DrainPending(chatID int64) int {
	d.mu.Lock()
	var discarded []QueueEntry
	if st := d.chats[chatID]; st != nil {
		for _, item := range st.pending {
			if item.entry != nil && !item.entry.Cancelled {
				item.entry.Cancelled = true
				discarded = append(discarded, *item.entry)
			}
		}
	}
	d.mu.Unlock()

	log.Info(log.CatChat, "queue drained", "chat_id", chatID, "discarded", len(discarded))
	if d.notifier != nil {
		for _, e := range discarded {
			d.notifier.MessageDiscarded(e)
		}
	}
	return len(discarded)
}

// RunExclusive queues fn behind the chat's in-flight work. Externally
// triggered prompts (webhook wakes) use it to respect the conversation
// order without competing for the user's FIFO slot.
func (d *Dispatcher) RunExclusive(chatID int64, fn func(ctx context.Context)) {
	d.mu.Lock()
	st := d.state(chatID)
	if st.busy {
		st.pending = append(st.pending, &queueItem{run: fn})
		d.mu.Unlock()
		return
	}
	st.busy = true
	d.mu.Unlock()

	d.wg.Add(1)
	go d.drain(chatID, &queueItem{run: fn})
}

// Stop cancels the dispatch context and waits for in-flight handlers.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) enqueue(msg InboundMessage) {
	d.mu.Lock()
	st := d.state(msg.ChatID)
	if st.busy {
		entry := &QueueEntry{
			ID:         uuid.NewString(),
			ChatID:     msg.ChatID,
			MessageID:  msg.MessageID,
			Preview:    runewidth.Truncate(msg.Text, previewWidth, ""),
			EnqueuedAt: time.Now(),
		}
		st.pending = append(st.pending, &queueItem{entry: entry, msg: msg})
		queued := *entry
		d.mu.Unlock()

		if d.notifier != nil {
			d.notifier.MessageQueued(queued)
		}
		return
	}

	st.busy = true
	d.mu.Unlock()

	d.wg.Add(1)
	go d.drain(msg.ChatID, &queueItem{msg: msg})
}

// drain runs the chat's FIFO slot until the queue is empty.
func (d *Dispatcher) drain(chatID int64, item *queueItem) {
	defer d.wg.Done()

	for item != nil {
		skip := item.entry != nil && item.entry.Cancelled
		if !skip && d.ctx.Err() == nil {
			if item.run != nil {
				item.run(d.ctx)
			} else {
				d.handler(d.ctx, item.msg)
			}
		}

		d.mu.Lock()
		st := d.chats[chatID]
		if st == nil || len(st.pending) == 0 {
			if st != nil {
				st.busy = false
			}
			d.mu.Unlock()
			return
		}
		item = st.pending[0]
		st.pending = st.pending[1:]
		d.mu.Unlock()
	}
}

// state returns the chat's bookkeeping, culling idle chats when the map
// is full. Callers hold d.mu.
func (d *Dispatcher) state(chatID int64) *chatState {
	st := d.chats[chatID]
	if st != nil {
		return st
	}
	if len(d.chats) >= maxChatStates {
		idle := make([]int64, 0, len(d.chats))
		for id, s := range d.chats {
			if !s.busy && len(s.pending) == 0 {
				idle = append(idle, id)
			}
		}
		for _, id := range idle[:len(idle)/2] {
			delete(d.chats, id)
		}
	}
	st = &chatState{}
	d.chats[chatID] = st
	return st
}
