// Package broadcast fans messages out to connected observers. Each observer
// owns a bounded queue drained by a dedicated writer goroutine, so one slow
// connection never stalls the others.
package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const DefaultQueueSize = 64

var (
	ErrClosed          = errors.New("broadcaster closed")
	ErrUnknownObserver = errors.New("observer not registered")
	ErrQueueFull       = errors.New("observer send buffer full")
)

// Eviction reasons reported to Metrics.
const (
	ReasonQueueFull   = "queue_full"
	ReasonWriteFailed = "write_failed"
)

// Conn is the transport behind one observer.
type Conn interface {
	WriteMessage(data []byte) error
	Close() error
}

// Metrics receives fan-out counters.
type Metrics interface {
	ObserversChanged(count int)
	Delivered(count int)
	Evicted(reason string)
}

type noopMetrics struct{}

func (noopMetrics) ObserversChanged(int) {}
func (noopMetrics) Delivered(int)        {}
func (noopMetrics) Evicted(string)       {}

// Options configures a Broadcaster.
type Options struct {
	QueueSize int
	Logger    *slog.Logger
	Metrics   Metrics

	// Welcome builds the first message queued to every new observer. It
	// receives the observer count including the new one and must not call
	// back into the Broadcaster.
	Welcome func(clients int) any
}

// Broadcaster tracks observers and delivers messages to each in order.
type Broadcaster struct {
	mu        sync.RWMutex
	observers map[string]*Observer
	closed    bool

	queueSize int
	logger    *slog.Logger
	metrics   Metrics
	welcome   func(int) any

	wg sync.WaitGroup
}

// Observer is one registered connection.
type Observer struct {
	id    string
	conn  Conn
	queue chan []byte
	done  chan struct{}

	closeOnce sync.Once
}

// ID returns the observer's unique identifier.
func (o *Observer) ID() string {
	return o.id
}

// Done is closed once the observer has been unregistered.
func (o *Observer) Done() <-chan struct{} {
	return o.done
}

// New constructs an empty Broadcaster.
func New(opts Options) *Broadcaster {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	return &Broadcaster{
		observers: make(map[string]*Observer),
		queueSize: opts.QueueSize,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		welcome:   opts.Welcome,
	}
}

// Register adds conn as an observer and starts its writer. The welcome
// message, when configured, is queued ahead of any broadcast.
func (b *Broadcaster) Register(conn Conn) (*Observer, error) {
	o := &Observer{
		id:    uuid.NewString(),
		conn:  conn,
		queue: make(chan []byte, b.queueSize),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.observers[o.id] = o
	count := len(b.observers)
	if b.welcome != nil {
		if data, err := json.Marshal(b.welcome(count)); err != nil {
			b.logger.Error("marshal welcome failed", "error", err.Error())
		} else {
			o.queue <- data
		}
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go b.writer(o)

	b.metrics.ObserversChanged(count)
	b.logger.Info("observer connected", "observer", o.id, "clients", count)
	return o, nil
}

// Unregister removes o. Calling it more than once is harmless.
func (b *Broadcaster) Unregister(o *Observer) {
	b.remove(o)
}

func (b *Broadcaster) remove(o *Observer) bool {
	if o == nil {
		return false
	}
	b.mu.Lock()
	_, present := b.observers[o.id]
	delete(b.observers, o.id)
	count := len(b.observers)
	b.mu.Unlock()

	o.closeOnce.Do(func() { close(o.done) })

	if present {
		b.metrics.ObserversChanged(count)
		b.logger.Info("observer disconnected", "observer", o.id, "clients", count)
	}
	return present
}

// Broadcast serializes msg once and queues it to every observer. Observers
// whose queue is full are evicted. It returns the number of observers the
// message was queued to.
func (b *Broadcaster) Broadcast(msg any) int {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("marshal broadcast failed", "error", err.Error())
		return 0
	}

	var (
		delivered int
		overflow  []*Observer
	)
	b.mu.RLock()
	for _, o := range b.observers {
		select {
		case o.queue <- data:
			delivered++
		default:
			overflow = append(overflow, o)
		}
	}
	b.mu.RUnlock()

	for _, o := range overflow {
		b.evict(o, ReasonQueueFull)
	}
	b.metrics.Delivered(delivered)
	return delivered
}

// Send queues msg to a single observer.
func (b *Broadcaster) Send(o *Observer, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	b.mu.RLock()
	_, present := b.observers[o.id]
	if !present {
		b.mu.RUnlock()
		return ErrUnknownObserver
	}
	select {
	case o.queue <- data:
		b.mu.RUnlock()
		b.metrics.Delivered(1)
		return nil
	default:
		b.mu.RUnlock()
	}

	b.evict(o, ReasonQueueFull)
	return ErrQueueFull
}

// Count returns the number of registered observers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}

// Close unregisters every observer and waits for their writers to exit.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	b.closed = true
	observers := make([]*Observer, 0, len(b.observers))
	for _, o := range b.observers {
		observers = append(observers, o)
	}
	b.mu.Unlock()

	for _, o := range observers {
		b.Unregister(o)
	}
	b.wg.Wait()
}

func (b *Broadcaster) evict(o *Observer, reason string) {
	if !b.remove(o) {
		return
	}
	b.logger.Warn("evicted observer", "observer", o.id, "reason", reason)
	b.metrics.Evicted(reason)
}

// writer drains one observer's queue until it is unregistered or a write
// fails.
func (b *Broadcaster) writer(o *Observer) {
	defer b.wg.Done()
	defer func() {
		if err := o.conn.Close(); err != nil {
			b.logger.Debug("observer close failed", "observer", o.id, "error", err.Error())
		}
	}()

	for {
		select {
		case <-o.done:
			return
		case data := <-o.queue:
			if err := o.conn.WriteMessage(data); err != nil {
				b.logger.Debug("observer write failed", "observer", o.id, "error", err.Error())
				b.evict(o, ReasonWriteFailed)
				return
			}
		}
	}
}
