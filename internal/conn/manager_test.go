package conn

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"durasched/internal/eventbus"
	"durasched/internal/storage"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("store down")

// flaky wraps one shared in-memory store; while down, dials and pings fail.
type flaky struct {
	mem   *storage.Memory
	down  atomic.Bool
	dials atomic.Int32
}

type flakyStore struct {
	*storage.Memory
	f *flaky
}

func (s flakyStore) Ping(ctx context.Context) error {
	if s.f.down.Load() {
		return errDown
	}
	return s.Memory.Ping(ctx)
}

func newFlaky() *flaky { return &flaky{mem: storage.NewMemory()} }

func (f *flaky) dial(ctx context.Context) (storage.Store, error) {
	f.dials.Add(1)
	if f.down.Load() {
		return nil, errDown
	}
	return flakyStore{Memory: f.mem, f: f}, nil
}

func testPolicy() Policy {
	return Policy{
		RetryInterval:  5 * time.Millisecond,
		MaxAttempts:    3,
		HealthInterval: -1,
		PingTimeout:    time.Second,
	}
}

func newManager(t *testing.T, f *flaky, p Policy) (*Manager, <-chan eventbus.Event) {
	t.Helper()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(256, "conn.")
	t.Cleanup(unsub)
	m := New(f.dial, p, WithBus(bus))
	t.Cleanup(func() { _ = m.Disconnect(context.Background()) })
	return m, events
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) eventbus.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
			return eventbus.Event{}
		}
	}
}

func TestConnectRunsHookBeforeReady(t *testing.T) {
	f := newFlaky()
	m, events := newManager(t, f, testPolicy())

	var calls atomic.Int32
	m.SetOnConnected(func(ctx context.Context) error {
		calls.Add(1)
		assert.False(t, m.IsReady(), "ready must stay false while the hook runs")
		_, err := m.Store()
		assert.NoError(t, err, "hook must see the live handle")
		return nil
	})

	_, err := m.Store()
	assert.True(t, errors.Is(err, storage.ErrNotReady))

	require.NoError(t, m.Connect(context.Background()))
	assert.True(t, m.IsReady())
	assert.Equal(t, Connected, m.State())
	assert.Equal(t, int32(1), calls.Load())
	waitEvent(t, events, EventConnecting)
	waitEvent(t, events, EventConnected)

	// Already connected: no new transition.
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
}

func TestConnectExhaustsBudget(t *testing.T) {
	f := newFlaky()
	f.down.Store(true)
	m, events := newManager(t, f, testPolicy())

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnectionFatal))
	assert.True(t, errors.Is(err, errDown))
	assert.Equal(t, int32(3), f.dials.Load())
	assert.False(t, m.IsReady())
	assert.Equal(t, Disconnected, m.State())

	e := waitEvent(t, events, EventFatal)
	tr, ok := e.Data.(Transition)
	require.True(t, ok)
	assert.Equal(t, 3, tr.Attempt)
}

func TestHookFailureRetriesAttempt(t *testing.T) {
	f := newFlaky()
	m, _ := newManager(t, f, testPolicy())

	var calls atomic.Int32
	m.SetOnConnected(func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("restore failed")
		}
		return nil
	})

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(2), f.dials.Load())
	assert.True(t, m.IsReady())
}

func TestConnectHonoursContext(t *testing.T) {
	f := newFlaky()
	f.down.Store(true)
	p := testPolicy()
	p.MaxAttempts = 1000
	p.RetryInterval = time.Hour
	m, _ := newManager(t, f, p)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.Connect(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, errors.Is(err, ErrConnectionFatal))
	assert.Equal(t, Disconnected, m.State())
}

func TestProbeDetectsLossAndReconnects(t *testing.T) {
	f := newFlaky()
	m, events := newManager(t, f, testPolicy())

	var calls atomic.Int32
	m.SetOnConnected(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Probe(context.Background()))

	f.down.Store(true)
	require.Error(t, m.Probe(context.Background()))
	assert.False(t, m.IsReady())
	_, err := m.Store()
	assert.True(t, errors.Is(err, storage.ErrNotReady))
	waitEvent(t, events, EventDisconnected)

	// Several failed reconnects, then recovery.
	require.Eventually(t, func() bool { return f.dials.Load() >= 4 }, 2*time.Second, time.Millisecond)
	assert.False(t, m.IsReady())
	f.down.Store(false)

	waitEvent(t, events, EventReconnected)
	assert.True(t, m.IsReady())
	assert.Equal(t, Connected, m.State())
	assert.Equal(t, int32(2), calls.Load())
}

func TestReconnectBoundGivesUp(t *testing.T) {
	f := newFlaky()
	p := testPolicy()
	p.ReconnectMaxAttempts = 2
	m, events := newManager(t, f, p)
	require.NoError(t, m.Connect(context.Background()))

	f.down.Store(true)
	require.Error(t, m.Probe(context.Background()))
	e := waitEvent(t, events, EventGaveUp)
	assert.Equal(t, 2, e.Data.(Transition).Attempt)
	assert.Equal(t, Disconnected, m.State())
	assert.False(t, m.IsReady())

	// A later Connect starts over.
	f.down.Store(false)
	require.NoError(t, m.Connect(context.Background()))
	assert.True(t, m.IsReady())
}

func TestDisconnectClosesAndStopsReconnect(t *testing.T) {
	f := newFlaky()
	m, events := newManager(t, f, testPolicy())
	require.NoError(t, m.Connect(context.Background()))

	f.down.Store(true)
	require.Error(t, m.Probe(context.Background()))

	require.NoError(t, m.Disconnect(context.Background()))
	waitEvent(t, events, EventClosed)
	assert.Equal(t, Closed, m.State())
	assert.False(t, m.IsReady())

	dials := f.dials.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, dials, f.dials.Load(), "no reconnect attempts after Disconnect")

	require.NoError(t, m.Disconnect(context.Background()))
}

func TestScheduledProbe(t *testing.T) {
	f := newFlaky()
	p := testPolicy()
	p.HealthInterval = time.Second
	m, events := newManager(t, f, p)
	require.NoError(t, m.Connect(context.Background()))

	f.down.Store(true)
	waitEventWithin(t, events, EventDisconnected, 5*time.Second)
}

func waitEventWithin(t *testing.T, ch <-chan eventbus.Event, typ string, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}
