package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	messages []string
	writeErr error

	started chan struct{}
	release chan struct{}
	once    sync.Once

	closed atomic.Bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{}
}

func newBlockingConn() *fakeConn {
	return &fakeConn{started: make(chan struct{}), release: make(chan struct{})}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	if c.release != nil {
		c.once.Do(func() { close(c.started) })
		<-c.release
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.messages = append(c.messages, string(data))
	return nil
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *fakeConn) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages...)
}

type fakeMetrics struct {
	mu        sync.Mutex
	observers []int
	delivered int
	evicted   []string
}

func (m *fakeMetrics) ObserversChanged(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, count)
}

func (m *fakeMetrics) Delivered(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered += count
}

func (m *fakeMetrics) Evicted(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evicted = append(m.evicted, reason)
}

func (m *fakeMetrics) evictions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.evicted...)
}

type message struct {
	Seq int `json:"seq"`
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func expectedSeq(n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, fmt.Sprintf(`{"seq":%d}`, i))
	}
	return out
}

func TestBroadcastDeliversInOrderToEveryObserver(t *testing.T) {
	b := New(Options{Logger: testLogger()})
	defer b.Close()

	conns := []*fakeConn{newFakeConn(), newFakeConn(), newFakeConn()}
	for _, conn := range conns {
		_, err := b.Register(conn)
		require.NoError(t, err)
	}
	require.Equal(t, 3, b.Count())

	for i := 0; i < 20; i++ {
		require.Equal(t, 3, b.Broadcast(message{Seq: i}))
	}

	want := expectedSeq(20)
	for _, conn := range conns {
		conn := conn
		require.Eventually(t, func() bool { return len(conn.snapshot()) == 20 }, time.Second, 5*time.Millisecond)
		require.Equal(t, want, conn.snapshot())
	}
}

func TestRegisterQueuesWelcomeFirst(t *testing.T) {
	b := New(Options{
		Logger: testLogger(),
		Welcome: func(clients int) any {
			return map[string]any{"type": "status", "clients": clients}
		},
	})
	defer b.Close()

	first := newFakeConn()
	_, err := b.Register(first)
	require.NoError(t, err)
	second := newFakeConn()
	_, err = b.Register(second)
	require.NoError(t, err)

	b.Broadcast(message{Seq: 0})

	require.Eventually(t, func() bool { return len(second.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	require.JSONEq(t, `{"type":"status","clients":2}`, second.snapshot()[0])
	require.JSONEq(t, `{"seq":0}`, second.snapshot()[1])

	require.Eventually(t, func() bool { return len(first.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	require.JSONEq(t, `{"type":"status","clients":1}`, first.snapshot()[0])
}

func TestUnregisterIsIdempotent(t *testing.T) {
	metrics := &fakeMetrics{}
	b := New(Options{Logger: testLogger(), Metrics: metrics})
	defer b.Close()

	conn := newFakeConn()
	o, err := b.Register(conn)
	require.NoError(t, err)
	require.NotEmpty(t, o.ID())

	b.Unregister(o)
	b.Unregister(o)
	b.Unregister(nil)

	require.Equal(t, 0, b.Count())
	require.Eventually(t, conn.closed.Load, time.Second, 5*time.Millisecond)
	select {
	case <-o.Done():
	default:
		t.Fatal("expected observer done channel to be closed")
	}
	require.Equal(t, 0, b.Broadcast(message{Seq: 1}))

	metrics.mu.Lock()
	require.Equal(t, []int{1, 0}, metrics.observers)
	metrics.mu.Unlock()
}

func TestBroadcastEvictsObserverWithFullQueue(t *testing.T) {
	metrics := &fakeMetrics{}
	b := New(Options{QueueSize: 1, Logger: testLogger(), Metrics: metrics})
	defer b.Close()

	slow := newBlockingConn()
	defer close(slow.release)
	_, err := b.Register(slow)
	require.NoError(t, err)
	healthy := newFakeConn()
	_, err = b.Register(healthy)
	require.NoError(t, err)

	require.Equal(t, 2, b.Broadcast(message{Seq: 0}))
	<-slow.started
	require.Eventually(t, func() bool { return len(healthy.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	require.Equal(t, 2, b.Broadcast(message{Seq: 1}))
	require.Eventually(t, func() bool { return len(healthy.snapshot()) == 2 }, time.Second, 5*time.Millisecond)

	require.Equal(t, 1, b.Broadcast(message{Seq: 2}))
	require.Equal(t, 1, b.Count())
	require.Equal(t, []string{ReasonQueueFull}, metrics.evictions())

	require.Eventually(t, func() bool { return len(healthy.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	require.Equal(t, expectedSeq(3), healthy.snapshot())
}

func TestWriteFailureEvictsObserver(t *testing.T) {
	metrics := &fakeMetrics{}
	b := New(Options{Logger: testLogger(), Metrics: metrics})
	defer b.Close()

	broken := newFakeConn()
	broken.writeErr = errors.New("broken pipe")
	_, err := b.Register(broken)
	require.NoError(t, err)
	healthy := newFakeConn()
	_, err = b.Register(healthy)
	require.NoError(t, err)

	b.Broadcast(message{Seq: 0})

	require.Eventually(t, func() bool { return b.Count() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, broken.closed.Load, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{ReasonWriteFailed}, metrics.evictions())

	b.Broadcast(message{Seq: 1})
	require.Eventually(t, func() bool { return len(healthy.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestSendTargetsSingleObserver(t *testing.T) {
	b := New(Options{Logger: testLogger()})
	defer b.Close()

	target := newFakeConn()
	o, err := b.Register(target)
	require.NoError(t, err)
	other := newFakeConn()
	_, err = b.Register(other)
	require.NoError(t, err)

	require.NoError(t, b.Send(o, message{Seq: 7}))
	require.Eventually(t, func() bool { return len(target.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{`{"seq":7}`}, target.snapshot())
	require.Empty(t, other.snapshot())

	b.Unregister(o)
	require.ErrorIs(t, b.Send(o, message{Seq: 8}), ErrUnknownObserver)
}

func TestSendRejectsUnmarshalable(t *testing.T) {
	b := New(Options{Logger: testLogger()})
	defer b.Close()

	o, err := b.Register(newFakeConn())
	require.NoError(t, err)
	require.Error(t, b.Send(o, make(chan int)))
	require.Equal(t, 0, b.Broadcast(make(chan int)))
}

func TestCloseStopsWritersAndRejectsRegister(t *testing.T) {
	b := New(Options{Logger: testLogger()})

	conns := []*fakeConn{newFakeConn(), newFakeConn()}
	for _, conn := range conns {
		_, err := b.Register(conn)
		require.NoError(t, err)
	}

	b.Close()
	require.Equal(t, 0, b.Count())
	for _, conn := range conns {
		require.True(t, conn.closed.Load())
	}

	_, err := b.Register(newFakeConn())
	require.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentRegisterAndBroadcast(t *testing.T) {
	b := New(Options{Logger: testLogger()})
	defer b.Close()

	stable := newFakeConn()
	_, err := b.Register(stable)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				o, err := b.Register(newFakeConn())
				if err != nil {
					return
				}
				b.Unregister(o)
			}
		}()
	}

	for i := 0; i < 50; i++ {
		b.Broadcast(message{Seq: i})
	}
	wg.Wait()

	require.Equal(t, 1, b.Count())
	require.Eventually(t, func() bool { return len(stable.snapshot()) == 50 }, time.Second, 5*time.Millisecond)

	var got []message
	for _, raw := range stable.snapshot() {
		var msg message
		require.NoError(t, json.Unmarshal([]byte(raw), &msg))
		got = append(got, msg)
	}
	for i, msg := range got {
		require.Equal(t, i, msg.Seq)
	}
}
