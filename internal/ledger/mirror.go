package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrQueueFull is published when a write could not be queued.
var ErrQueueFull = errors.New("mirror queue full")

// Ops mirrored to the ledger.
const (
	OpRegisterUser       = "register_user"
	OpActivateUser       = "activate_user"
	OpActivateMiniAdmin  = "activate_mini_admin"
	OpActivateSuperAdmin = "activate_super_admin"
	OpCreateCard         = "create_card"
	OpDeleteCard         = "delete_card"
)

// Call is a single ledger write.
type Call func(ctx context.Context, gw Gateway) (Receipt, error)

// Event reports the outcome of a mirrored write. A non-nil Err means the
// ledger and the local store have drifted apart.
type Event struct {
	Op      string    `json:"op"`
	Key     string    `json:"key"`
	Receipt Receipt   `json:"receipt"`
	Err     error     `json:"-"`
	At      time.Time `json:"at"`
}

// Drift reports whether the write failed.
func (e Event) Drift() bool { return e.Err != nil }

type task struct {
	op   string
	key  string
	call Call
}

// Mirror replays local commits onto the ledger from a single worker goroutine.
type Mirror struct {
	gw      Gateway
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	closed  bool
	queue   chan task
	events  chan Event
	pending sync.WaitGroup
	done    chan struct{}
}

// NewMirror starts the worker. A nil gateway yields a mirror that drops every task.
func NewMirror(gw Gateway, queueSize int, timeout time.Duration, logger *slog.Logger) *Mirror {
	if queueSize <= 0 {
		queueSize = 128
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	m := &Mirror{
		gw:      gw,
		timeout: timeout,
		logger:  logger,
		queue:   make(chan task, queueSize),
		events:  make(chan Event, queueSize),
		done:    make(chan struct{}),
	}
	go m.run()
	return m
}

// Events yields one event per executed or rejected task. The channel is
// closed by Close. Events are dropped when nobody keeps up with the channel.
func (m *Mirror) Events() <-chan Event { return m.events }

// Submit queues call. It returns false when the task was not queued because
// no wallet is connected, the mirror is closed, or the queue is full.
func (m *Mirror) Submit(op, key string, call Call) bool {
	if m.gw == nil || !m.gw.IsConnected() {
		m.logger.Debug("ledger mirror skipped, wallet not connected", slog.String("op", op), slog.String("key", key))
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}

	m.pending.Add(1)
	select {
	case m.queue <- task{op: op, key: key, call: call}:
		return true
	default:
		m.pending.Done()
		m.publish(Event{Op: op, Key: key, Err: ErrQueueFull, At: time.Now().UTC()})
		return false
	}
}

// Flush blocks until every queued task has been executed.
func (m *Mirror) Flush() {
	m.pending.Wait()
}

// Close drains the queue, stops the worker and closes Events.
func (m *Mirror) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		<-m.done
		return
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	<-m.done
	close(m.events)
}

func (m *Mirror) run() {
	defer close(m.done)
	for t := range m.queue {
		m.execute(t)
		m.pending.Done()
	}
}

func (m *Mirror) execute(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	receipt, err := t.call(ctx, m.gw)
	ev := Event{Op: t.op, Key: t.key, Receipt: receipt, Err: err, At: time.Now().UTC()}
	m.publish(ev)
}

func (m *Mirror) publish(ev Event) {
	if ev.Err != nil {
		m.logger.Warn("ledger drift", slog.String("op", ev.Op), slog.String("key", ev.Key), slog.Any("error", ev.Err))
	} else {
		m.logger.Debug("ledger write confirmed", slog.String("op", ev.Op), slog.String("key", ev.Key), slog.String("tx_hash", ev.Receipt.TxHash))
	}
	select {
	case m.events <- ev:
	default:
		m.logger.Warn("ledger event dropped", slog.String("op", ev.Op), slog.String("key", ev.Key))
	}
}
