package scheduler

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"durasched/internal/codec"
	"durasched/internal/conn"
	"durasched/internal/eventbus"
	"durasched/internal/storage"
	logx "durasched/pkg/logx"

	"github.com/cockroachdb/errors"
)

// entry is one slot of the timer table. A nil timer marks an id reserved by
// an in-progress AddJob.
type entry struct {
	timer *time.Timer
	ver   uint64
	due   time.Time
}

// Scheduler owns one namespace: its persisted jobs and the in-memory timers
// that fire them.
type Scheduler struct {
	name  string
	cfg   Config
	log   logx.Logger
	bus   eventbus.Bus
	reg   *codec.Registry
	clock Clock
	dial  storage.Dialer

	conn *conn.Manager
	jobs *storage.JobStore

	tmu     sync.Mutex
	timers  map[string]*entry
	fired   map[string]struct{} // fired, removal not yet persisted
	passRan map[string]struct{} // started running during the current restore
	seq     uint64
	stopped bool
	runCtx  context.Context
	stopRun context.CancelFunc

	runMu    sync.Mutex // one handler at a time
	inflight sync.WaitGroup
}

// New builds a scheduler for namespace name. Leading and trailing blanks in
// name are dropped; an empty result is ErrName.
func New(name string, cfg Config, opts ...Option) (*Scheduler, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrName
	}
	s := &Scheduler{
		name:   name,
		cfg:    cfg,
		timers: map[string]*entry{},
		fired:  map[string]struct{}{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	base := s.log.With(logx.String("namespace", name))
	s.log = base.With(logx.String("comp", "scheduler"))
	if s.reg == nil {
		s.reg = codec.Default
	}
	if s.clock == nil {
		s.clock = systemClock{}
	}
	if s.cfg.OpTimeout <= 0 {
		s.cfg.OpTimeout = DefaultOpTimeout
	}
	if s.dial == nil {
		d, err := storage.NewDialer(cfg.Store, base)
		if err != nil {
			return nil, errors.Wrap(err, "store")
		}
		s.dial = d
	}
	s.runCtx, s.stopRun = context.WithCancel(context.Background())

	s.conn = conn.New(s.dial, cfg.Connection, conn.WithLogger(base), conn.WithBus(s.bus))
	s.conn.SetOnConnected(s.restore)
	s.jobs = storage.NewJobStore(s.conn)
	return s, nil
}

// Name is the namespace the scheduler owns.
func (s *Scheduler) Name() string { return s.name }

// IsReady reports whether scheduling operations are currently permitted.
func (s *Scheduler) IsReady() bool { return s.conn.IsReady() }

// Connect blocks until the store is connected and the namespace restored,
// or the attempt budget is spent (ErrConnectionFatal).
func (s *Scheduler) Connect(ctx context.Context) error {
	s.tmu.Lock()
	if s.stopped {
		s.stopped = false
		s.runCtx, s.stopRun = context.WithCancel(context.Background())
	}
	s.tmu.Unlock()
	return s.conn.Connect(ctx)
}

// Disconnect cancels every timer, waits for running handlers until ctx is
// done, then closes the store connection.
func (s *Scheduler) Disconnect(ctx context.Context) error {
	s.tmu.Lock()
	s.stopped = true
	for id, e := range s.timers {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.timers, id)
	}
	stopRun := s.stopRun
	s.tmu.Unlock()

	var errs error
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		stopRun()
		errs = errors.Wrap(ctx.Err(), "wait for running handlers")
	}
	stopRun()
	if err := s.conn.Disconnect(ctx); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	return errs
}

// Snapshot is a point-in-time view for status output.
func (s *Scheduler) Snapshot() Snapshot {
	snap := Snapshot{
		Name:  s.name,
		State: s.conn.State().String(),
		Ready: s.conn.IsReady(),
	}
	s.tmu.Lock()
	for id, e := range s.timers {
		if e.timer == nil {
			continue
		}
		snap.Timers = append(snap.Timers, TimerInfo{ID: id, Due: e.due})
	}
	for id := range s.fired {
		snap.Pending = append(snap.Pending, id)
	}
	s.tmu.Unlock()
	sort.Slice(snap.Timers, func(i, j int) bool {
		if !snap.Timers[i].Due.Equal(snap.Timers[j].Due) {
			return snap.Timers[i].Due.Before(snap.Timers[j].Due)
		}
		return snap.Timers[i].ID < snap.Timers[j].ID
	})
	sort.Strings(snap.Pending)
	return snap
}

func (s *Scheduler) notReady() error {
	return errors.WithHint(
		errors.Wrapf(ErrNotReady, "scheduler %q", s.name),
		"the store is disconnected or still restoring; retry later",
	)
}

func (s *Scheduler) publish(typ string, data any) {
	eventbus.Publish(s.bus, typ, data)
}
