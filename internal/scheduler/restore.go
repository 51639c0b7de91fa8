package scheduler

import (
	"context"
	"sort"

	"durasched/internal/codec"
	"durasched/internal/storage"
	logx "durasched/pkg/logx"

	"github.com/cockroachdb/errors"
)

type dueJob struct {
	job storage.Job
	act codec.Action
}

// restore reconciles the namespace with the timer table. It runs on every
// transition into connected, before the scheduler reports ready; an error
// fails that connection attempt.
//
// Records are handled one by one: a record that cannot be decoded or deleted
// is logged and skipped, never aborting the rest.
func (s *Scheduler) restore(ctx context.Context) error {
	// Timers from before the outage may still fire while the records are
	// read; those runs must not repeat from the stale copies.
	s.beginPass()
	defer s.endPass()

	jobs, err := s.jobs.FindAll(ctx, s.name)
	if err != nil {
		return errors.Wrap(err, "restore")
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ShouldRun.Before(jobs[j].ShouldRun) })

	stats := RestoreStats{Namespace: s.name}
	seen := make(map[string]struct{}, len(jobs))
	now := s.clock.Now()
	var due []dueJob

	for _, j := range jobs {
		seen[j.ID] = struct{}{}

		if s.isFired(j.ID) {
			if err := s.jobs.DeleteByID(ctx, s.name, j.ID); err != nil {
				s.log.Warn("restore: fired job not removed", logx.String("id", j.ID), logx.Err(err))
				continue
			}
			s.clearFired(j.ID)
			stats.Cleared++
			continue
		}

		act, err := s.reg.Decode(codec.Payload{Action: j.Action, Arguments: j.Arguments})
		if err != nil {
			s.purge(ctx, j, err)
			stats.Purged++
			continue
		}

		if j.ShouldRun.After(now) {
			if s.arm(j.ID, j.ShouldRun, act) {
				stats.Armed++
			}
			continue
		}
		s.cancel(j.ID)
		due = append(due, dueJob{job: j, act: act})
	}

	s.dropOrphans(seen)

	for _, d := range due {
		rctx, ok := s.beginInline(d.job.ID)
		if !ok {
			continue
		}
		s.execute(rctx, d.job.ID, d.act)
		s.finishInline(ctx, d.job.ID)
		stats.Ran++
	}

	s.log.Info("namespace restored",
		logx.Int("armed", stats.Armed),
		logx.Int("ran", stats.Ran),
		logx.Int("purged", stats.Purged),
		logx.Int("cleared", stats.Cleared),
	)
	s.publish(EventRestoreCompleted, stats)
	return nil
}

// purge deletes a record whose action no longer decodes.
func (s *Scheduler) purge(ctx context.Context, j storage.Job, cause error) {
	s.cancel(j.ID)
	s.log.Error("purging undecodable job",
		logx.String("id", j.ID),
		logx.String("handler", j.Action),
		logx.Err(cause),
	)
	ev := JobEvent{ID: j.ID, Namespace: s.name, Handler: j.Action, Err: cause.Error()}
	if err := s.jobs.DeleteByID(ctx, s.name, j.ID); err != nil {
		s.log.Warn("purge failed", logx.String("id", j.ID), logx.Err(err))
		return
	}
	s.publish(EventJobPurged, ev)
}

// dropOrphans cancels armed timers whose record no longer exists, e.g. one
// removed by another process during an outage. Reservations are left alone.
func (s *Scheduler) dropOrphans(seen map[string]struct{}) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	for id, e := range s.timers {
		if _, ok := seen[id]; ok || e.timer == nil {
			continue
		}
		s.cancelLocked(id)
		s.log.Debug("restore: dropped timer without record", logx.String("id", id))
	}
	for id := range s.fired {
		if _, ok := seen[id]; !ok {
			delete(s.fired, id)
		}
	}
}

// finishInline is finish for a run made inside restore, which uses the
// restore context and balances beginInline.
func (s *Scheduler) finishInline(ctx context.Context, id string) {
	defer s.inflight.Done()
	s.finish(ctx, id)
}

func (s *Scheduler) isFired(id string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	_, ok := s.fired[id]
	return ok
}

func (s *Scheduler) clearFired(id string) {
	s.tmu.Lock()
	delete(s.fired, id)
	s.tmu.Unlock()
}
