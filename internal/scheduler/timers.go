package scheduler

import (
	"context"
	"time"

	"durasched/internal/codec"
	logx "durasched/pkg/logx"
)

// reserve claims id in the timer table. It fails if id is already tracked.
func (s *Scheduler) reserve(id string, due time.Time) (uint64, bool) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	if _, ok := s.timers[id]; ok {
		return 0, false
	}
	s.seq++
	s.timers[id] = &entry{ver: s.seq, due: due}
	return s.seq, true
}

// release drops a reservation, unless it was replaced in the meantime.
func (s *Scheduler) release(id string, ver uint64) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	if e, ok := s.timers[id]; ok && e.ver == ver {
		delete(s.timers, id)
	}
}

type activation int

const (
	activated activation = iota
	activateStopped
	activateCancelled
)

// activate starts the timer for a reservation made by reserve. The
// reservation may have been removed or cleaned away while the insert was in
// flight, or the scheduler may have been disconnected.
func (s *Scheduler) activate(id string, ver uint64, act codec.Action) activation {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	if s.stopped {
		return activateStopped
	}
	e, ok := s.timers[id]
	if !ok || e.ver != ver {
		return activateCancelled
	}
	e.timer = time.AfterFunc(s.until(e.due), func() { s.fire(id, ver, act) })
	return activated
}

// arm cancels any timer for id and starts a new one for due. It reports
// false, arming nothing, if id already ran during the current restore.
func (s *Scheduler) arm(id string, due time.Time, act codec.Action) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	if s.stopped || s.ranThisPassLocked(id) {
		return false
	}
	if e, ok := s.timers[id]; ok && e.timer != nil {
		e.timer.Stop()
	}
	s.seq++
	ver := s.seq
	s.timers[id] = &entry{
		ver:   ver,
		due:   due,
		timer: time.AfterFunc(s.until(due), func() { s.fire(id, ver, act) }),
	}
	return true
}

// cancel stops and forgets the timer for id. Reports whether one existed.
func (s *Scheduler) cancel(id string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return s.cancelLocked(id)
}

func (s *Scheduler) cancelLocked(id string) bool {
	e, ok := s.timers[id]
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(s.timers, id)
	return true
}

func (s *Scheduler) cancelAll() int {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	n := 0
	for id := range s.timers {
		if s.cancelLocked(id) {
			n++
		}
	}
	return n
}

func (s *Scheduler) until(due time.Time) time.Duration {
	d := due.Sub(s.clock.Now())
	if d < 0 {
		return 0
	}
	return d
}

// fire is the timer callback. Callbacks for replaced or cancelled entries
// see a different version (or none) and return.
func (s *Scheduler) fire(id string, ver uint64, act codec.Action) {
	s.tmu.Lock()
	e, ok := s.timers[id]
	if !ok || e.ver != ver || s.stopped {
		s.tmu.Unlock()
		return
	}
	delete(s.timers, id)
	s.markRunLocked(id)
	ctx := s.runCtx
	s.inflight.Add(1)
	s.tmu.Unlock()
	defer s.inflight.Done()

	s.execute(ctx, id, act)
	s.finish(ctx, id)
}

// beginInline marks id as fired for a run outside a timer callback. It
// reports false if the scheduler is stopped or id has already fired, either
// still pending removal or earlier in the current restore.
func (s *Scheduler) beginInline(id string) (context.Context, bool) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	if _, ok := s.fired[id]; ok || s.stopped || s.ranThisPassLocked(id) {
		return nil, false
	}
	s.cancelLocked(id)
	s.markRunLocked(id)
	s.inflight.Add(1)
	return s.runCtx, true
}

func (s *Scheduler) markRunLocked(id string) {
	s.fired[id] = struct{}{}
	if s.passRan != nil {
		s.passRan[id] = struct{}{}
	}
}

// ranThisPassLocked reports whether id started running after the current
// restore read its records. Such a record copy is stale.
func (s *Scheduler) ranThisPassLocked(id string) bool {
	_, ok := s.passRan[id]
	return ok
}

func (s *Scheduler) beginPass() {
	s.tmu.Lock()
	s.passRan = map[string]struct{}{}
	s.tmu.Unlock()
}

func (s *Scheduler) endPass() {
	s.tmu.Lock()
	s.passRan = nil
	s.tmu.Unlock()
}

// execute runs one handler. Failures are reported, never retried.
func (s *Scheduler) execute(ctx context.Context, id string, act codec.Action) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	ev := JobEvent{ID: id, Namespace: s.name, Handler: act.Handler}
	s.publish(EventJobFired, ev)
	start := time.Now()
	if err := act.Run(ctx); err != nil {
		s.log.Error("job failed", logx.String("id", id), logx.String("handler", act.Handler), logx.Err(err))
		ev.Err = err.Error()
		s.publish(EventJobFailed, ev)
		return
	}
	s.log.Debug("job done", logx.String("id", id), logx.String("handler", act.Handler), logx.Duration("took", time.Since(start)))
}

// finish deletes the record of a fired job. If the store is unavailable the
// id stays marked as fired and the next restore deletes it without running
// it again.
func (s *Scheduler) finish(ctx context.Context, id string) {
	dctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()
	if err := s.jobs.DeleteByID(dctx, s.name, id); err != nil {
		s.log.Warn("fired job not removed; retrying on next restore", logx.String("id", id), logx.Err(err))
		return
	}
	s.tmu.Lock()
	delete(s.fired, id)
	s.tmu.Unlock()
	s.publish(EventJobRemoved, JobEvent{ID: id, Namespace: s.name})
}
