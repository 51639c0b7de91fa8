package conn

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"durasched/internal/eventbus"
	"durasched/internal/runtime/supervisor"
	"durasched/internal/storage"
	logx "durasched/pkg/logx"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"
)

// Hook runs after a fresh handle passes its ping and before readiness is
// raised. A non-nil error fails the attempt.
type Hook func(ctx context.Context) error

type Option func(*Manager)

func WithLogger(log logx.Logger) Option { return func(m *Manager) { m.log = log } }
func WithBus(b eventbus.Bus) Option     { return func(m *Manager) { m.bus = b } }

// Manager implements storage.Provider over a Dialer.
type Manager struct {
	dial   storage.Dialer
	policy Policy
	log    logx.Logger
	bus    eventbus.Bus

	mu    sync.Mutex
	state State
	st    storage.Store
	hook  Hook
	cr    *cron.Cron
	sup   *supervisor.Supervisor

	ready atomic.Bool
	warn  rate.Sometimes
}

func New(dial storage.Dialer, p Policy, opts ...Option) *Manager {
	m := &Manager{
		dial:   dial,
		policy: p.withDefaults(),
		state:  Disconnected,
		warn:   rate.Sometimes{First: 3, Interval: time.Minute},
	}
	for _, o := range opts {
		o(m)
	}
	if m.log.IsZero() {
		m.log = logx.Nop()
	}
	m.log = m.log.With(logx.String("comp", "conn"))
	return m
}

func (m *Manager) Policy() Policy { return m.policy }

// SetOnConnected installs the hook run on every transition into Connected.
func (m *Manager) SetOnConnected(h Hook) {
	m.mu.Lock()
	m.hook = h
	m.mu.Unlock()
}

// IsReady reports whether the store is connected and the hook has completed.
func (m *Manager) IsReady() bool { return m.ready.Load() }

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Store returns the live handle. It is available to the hook before
// readiness is raised.
func (m *Manager) Store() (storage.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st == nil {
		return nil, errors.Wrapf(storage.ErrNotReady, "store %s", m.state)
	}
	return m.st, nil
}

// Connect makes up to Policy.MaxAttempts attempts, Policy.RetryInterval
// apart. It is a no-op when already connected.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case Connected:
		m.mu.Unlock()
		return nil
	case Connecting, Reconnecting:
		m.mu.Unlock()
		return ErrBusy
	}
	m.state = Connecting
	if m.sup == nil {
		m.sup = supervisor.New(context.Background(), supervisor.WithLogger(m.log))
	}
	m.mu.Unlock()
	m.publish(EventConnecting, Transition{State: Connecting.String()})

	var last error
	for attempt := 1; attempt <= m.policy.MaxAttempts; attempt++ {
		err := m.attempt(ctx, Connecting)
		if err == nil {
			m.log.Info("store connected", logx.Int("attempt", attempt))
			m.publish(EventConnected, Transition{State: Connected.String(), Attempt: attempt})
			m.startHealth()
			return nil
		}
		if errors.Is(err, ErrClosed) {
			return err
		}
		if ctx.Err() != nil {
			m.setStateIf(Connecting, Disconnected)
			return errors.Wrap(ctx.Err(), "connect")
		}
		last = err
		m.publish(EventError, Transition{State: Connecting.String(), Attempt: attempt, Err: err.Error()})
		m.warn.Do(func() {
			m.log.Warn("store connect failed", logx.Int("attempt", attempt), logx.Int("max_attempts", m.policy.MaxAttempts), logx.Err(err))
		})
		if attempt == m.policy.MaxAttempts {
			break
		}
		if !sleepCtx(ctx, m.policy.RetryInterval) {
			m.setStateIf(Connecting, Disconnected)
			return errors.Wrap(ctx.Err(), "connect")
		}
	}

	m.setStateIf(Connecting, Disconnected)
	m.publish(EventFatal, Transition{State: Disconnected.String(), Attempt: m.policy.MaxAttempts, Err: last.Error()})
	m.log.Error("store unreachable; giving up", logx.Int("attempts", m.policy.MaxAttempts), logx.Err(last))
	err := errors.Wrapf(last, "connect failed after %d attempts", m.policy.MaxAttempts)
	err = errors.WithHint(err, "check store.host/store.port and that the store is running")
	return errors.Mark(err, ErrConnectionFatal)
}

// attempt dials, pings, runs the hook, then commits. from is the state the
// caller holds; a concurrent Disconnect wins and the fresh handle is closed.
func (m *Manager) attempt(ctx context.Context, from State) error {
	st, err := m.dial(ctx)
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	pctx, cancel := context.WithTimeout(ctx, m.policy.PingTimeout)
	err = st.Ping(pctx)
	cancel()
	if err != nil {
		_ = st.Close()
		return errors.Wrap(err, "ping")
	}

	m.mu.Lock()
	if m.state != from {
		m.mu.Unlock()
		_ = st.Close()
		return ErrClosed
	}
	m.st = st
	hook := m.hook
	m.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			m.mu.Lock()
			if m.st == st {
				m.st = nil
			}
			m.mu.Unlock()
			_ = st.Close()
			return errors.Wrap(err, "on connected")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from {
		if m.st == st {
			m.st = nil
		}
		_ = st.Close()
		return ErrClosed
	}
	m.state = Connected
	m.ready.Store(true)
	return nil
}

func (m *Manager) startHealth() {
	if m.policy.HealthInterval < 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cr != nil || m.sup == nil {
		return
	}
	ctx := m.sup.Context()
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(cron.Every(m.policy.HealthInterval), cron.FuncJob(func() {
		_ = m.Probe(ctx)
	}))
	c.Start()
	m.cr = c
}

// Probe pings the live store once. A failed ping marks the connection lost
// and starts the reconnect loop; the ping error is returned.
func (m *Manager) Probe(ctx context.Context) error {
	m.mu.Lock()
	st, state := m.st, m.state
	m.mu.Unlock()
	if state != Connected || st == nil {
		return nil
	}
	pctx, cancel := context.WithTimeout(ctx, m.policy.PingTimeout)
	err := st.Ping(pctx)
	cancel()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.lost(st, err)
	return err
}

func (m *Manager) lost(st storage.Store, cause error) {
	m.mu.Lock()
	if m.state != Connected || m.st != st {
		m.mu.Unlock()
		return
	}
	m.ready.Store(false)
	m.st = nil
	m.state = Disconnected
	sup := m.sup
	m.mu.Unlock()

	_ = st.Close()
	m.log.Warn("store connection lost", logx.Err(cause))
	m.publish(EventDisconnected, Transition{State: Disconnected.String(), Err: cause.Error()})
	if sup != nil {
		sup.Go0("conn.reconnect", m.reconnect)
	}
}

func (m *Manager) reconnect(ctx context.Context) {
	if !m.setStateIf(Disconnected, Reconnecting) {
		return
	}
	limit := m.policy.ReconnectMaxAttempts
	for attempt := 1; ; attempt++ {
		err := m.attempt(ctx, Reconnecting)
		if err == nil {
			m.log.Info("store reconnected", logx.Int("attempt", attempt))
			m.publish(EventReconnected, Transition{State: Connected.String(), Attempt: attempt})
			return
		}
		if errors.Is(err, ErrClosed) || ctx.Err() != nil {
			return
		}
		m.publish(EventError, Transition{State: Reconnecting.String(), Attempt: attempt, Err: err.Error()})
		m.warn.Do(func() {
			m.log.Warn("store reconnect failed", logx.Int("attempt", attempt), logx.Err(err))
		})
		if limit > 0 && attempt >= limit {
			m.setStateIf(Reconnecting, Disconnected)
			m.log.Error("store reconnect gave up", logx.Int("attempts", attempt), logx.Err(err))
			m.publish(EventGaveUp, Transition{State: Disconnected.String(), Attempt: attempt, Err: err.Error()})
			return
		}
		if !sleepCtx(ctx, m.policy.RetryInterval) {
			return
		}
	}
}

// Disconnect stops probing and reconnecting, then closes the handle.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == Closed {
		m.mu.Unlock()
		return nil
	}
	m.state = Closed
	m.ready.Store(false)
	cr, sup, st := m.cr, m.sup, m.st
	m.cr, m.sup, m.st = nil, nil, nil
	m.mu.Unlock()

	var errs error
	if cr != nil {
		select {
		case <-cr.Stop().Done():
		case <-ctx.Done():
		}
	}
	if sup != nil {
		if err := sup.Stop(ctx); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrap(err, "stop reconnect"))
		}
	}
	if st != nil {
		if err := st.Close(); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrap(err, "close store"))
		}
	}
	m.log.Info("store disconnected")
	m.publish(EventClosed, Transition{State: Closed.String()})
	return errs
}

func (m *Manager) setStateIf(from, to State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from {
		return false
	}
	m.state = to
	return true
}

func (m *Manager) publish(typ string, t Transition) {
	eventbus.Publish(m.bus, typ, t)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
