package supervisor

import (
	"context"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	logx "durasched/pkg/logx"

	"github.com/cockroachdb/errors"
)

// Supervisor owns a set of named goroutines tied to one context.
//
// Goroutines are panic-safe; the first failure is kept and, when configured,
// cancels the shared context. Stop cancels and waits, bounded by the caller's
// context.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	started uint64
	active  int64

	log         logx.Logger
	cancelOnErr bool
	errOnce     sync.Once
	firstErr    atomic.Value // error
	doneOnce    sync.Once
	doneCh      chan struct{}
	wg          sync.WaitGroup

	mu    sync.Mutex
	tasks map[string]*taskStats
}

type Option func(*Supervisor)

// Counters are operational signals only, not a synchronization primitive.
type Counters struct {
	Active  int64  `json:"active"`
	Started uint64 `json:"started"`
}

// TaskStats aggregates every goroutine started under one name.
type TaskStats struct {
	Name        string        `json:"name"`
	Active      int64         `json:"active"`
	Started     uint64        `json:"started"`
	Panics      uint64        `json:"panics"`
	LastStartAt time.Time     `json:"last_start_at"`
	LastStopAt  time.Time     `json:"last_stop_at"`
	LastErr     string        `json:"last_err,omitempty"`
	LastRuntime time.Duration `json:"last_runtime"`
}

type Snapshot struct {
	Counters   Counters    `json:"counters"`
	FirstError string      `json:"first_error,omitempty"`
	Tasks      []TaskStats `json:"tasks"`
}

type taskStats struct {
	TaskStats
}

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError makes the first non-nil error cancel the shared context.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		doneCh: make(chan struct{}),
		tasks:  map[string]*taskStats{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

func (s *Supervisor) Err() error {
	if err, ok := s.firstErr.Load().(error); ok {
		return err
	}
	return nil
}

func (s *Supervisor) Counters() Counters {
	if s == nil {
		return Counters{}
	}
	return Counters{
		Active:  atomic.LoadInt64(&s.active),
		Started: atomic.LoadUint64(&s.started),
	}
}

// Snapshot lists tasks active first, then by name.
func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	snap := Snapshot{Counters: s.Counters()}
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}
	s.mu.Lock()
	out := make([]TaskStats, 0, len(s.tasks))
	for _, st := range s.tasks {
		out = append(out, st.TaskStats)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Active != out[j].Active {
			return out[i].Active > out[j].Active
		}
		return out[i].Name < out[j].Name
	})
	snap.Tasks = out
	return snap
}

func (s *Supervisor) statsLocked(name string) *taskStats {
	st := s.tasks[name]
	if st == nil {
		st = &taskStats{TaskStats{Name: name}}
		s.tasks[name] = st
	}
	return st
}

func (s *Supervisor) noteStart(name string) time.Time {
	now := time.Now()
	s.mu.Lock()
	st := s.statsLocked(name)
	st.Started++
	st.Active++
	st.LastStartAt = now
	s.mu.Unlock()
	return now
}

func (s *Supervisor) noteStop(name string, startedAt time.Time, err error, panicked bool) {
	now := time.Now()
	s.mu.Lock()
	st := s.statsLocked(name)
	if st.Active > 0 {
		st.Active--
	}
	if panicked {
		st.Panics++
	}
	st.LastStopAt = now
	st.LastRuntime = now.Sub(startedAt)
	if err != nil {
		st.LastErr = err.Error()
	}
	s.mu.Unlock()
}

// Go runs fn under the shared context. A returned context.Canceled is a
// clean stop.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	atomic.AddUint64(&s.started, 1)
	atomic.AddInt64(&s.active, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer atomic.AddInt64(&s.active, -1)

		startedAt := s.noteStart(name)
		defer func() {
			if r := recover(); r != nil {
				err := errors.Newf("panic in %s: %v", name, r)
				s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				s.noteStop(name, startedAt, err, true)
				s.fail(err)
			}
		}()

		s.log.Debug("goroutine started", logx.String("name", name))
		err := fn(s.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			err = errors.Wrap(err, name)
			s.noteStop(name, startedAt, err, false)
			s.fail(err)
		} else {
			s.noteStop(name, startedAt, nil, false)
		}
		s.log.Debug("goroutine stopped", logx.String("name", name))
	}()
}

// Go0 is Go for functions without an error result.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// Stop cancels the shared context and waits for every goroutine.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return s.Err()
	}
}

func (s *Supervisor) fail(err error) {
	s.errOnce.Do(func() { s.firstErr.Store(err) })
	if s.cancelOnErr {
		s.cancel()
	}
}
