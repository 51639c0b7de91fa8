package scheduler

import (
	"context"
	"sort"
	"strings"
	"time"

	"durasched/internal/codec"
	"durasched/internal/storage"
	logx "durasched/pkg/logx"

	"github.com/cockroachdb/errors"
)

// AddJob schedules handler to run with args after delay. A negative delay
// means now. The record is persisted before the timer is armed.
func (s *Scheduler) AddJob(ctx context.Context, id string, delay time.Duration, handler string, args any) (storage.Job, error) {
	if delay < 0 {
		delay = 0
	}
	now := s.clock.Now()
	return s.add(ctx, id, now, now.Add(delay), handler, args)
}

// AddJobAt schedules handler to run with args at the given time. Times in
// the past mean now.
func (s *Scheduler) AddJobAt(ctx context.Context, id string, at time.Time, handler string, args any) (storage.Job, error) {
	now := s.clock.Now()
	if at.Before(now) {
		at = now
	}
	return s.add(ctx, id, now, at, handler, args)
}

func (s *Scheduler) add(ctx context.Context, id string, now, at time.Time, handler string, args any) (storage.Job, error) {
	if strings.TrimSpace(id) == "" {
		return storage.Job{}, ErrInvalidID
	}
	if !s.IsReady() {
		return storage.Job{}, s.notReady()
	}
	payload, err := s.reg.Encode(handler, args)
	if err != nil {
		return storage.Job{}, err
	}
	act, err := s.reg.Decode(payload)
	if err != nil {
		return storage.Job{}, err
	}

	ver, ok := s.reserve(id, at)
	if !ok {
		return storage.Job{}, errors.Wrapf(ErrDuplicateID, "job %q is already scheduled", id)
	}
	job := storage.Job{
		ID:        id,
		Namespace: s.name,
		Created:   now,
		ShouldRun: at,
		Action:    payload.Action,
		Arguments: payload.Arguments,
	}
	if err := s.jobs.Insert(ctx, job); err != nil {
		s.release(id, ver)
		return storage.Job{}, err
	}
	switch s.activate(id, ver, act) {
	case activateStopped:
		// Disconnected mid-add; the record is restored on the next connect.
		s.log.Debug("job persisted while disconnecting", logx.String("id", id))
	case activateCancelled:
		if err := s.jobs.DeleteByID(ctx, s.name, id); err != nil {
			s.log.Warn("cancelled job not removed", logx.String("id", id), logx.Err(err))
		}
		return storage.Job{}, errors.Wrapf(ErrCancelled, "job %q", id)
	}
	s.log.Debug("job added", logx.String("id", id), logx.String("handler", payload.Action), logx.Time("should_run", at))
	s.publish(EventJobAdded, JobEvent{ID: id, Namespace: s.name, Handler: payload.Action})
	return job, nil
}

// RemoveJob cancels the timer for id and deletes its record. Removing an
// unknown id is not an error.
func (s *Scheduler) RemoveJob(ctx context.Context, id string) error {
	if !s.IsReady() {
		return s.notReady()
	}
	s.cancel(id)
	if err := s.jobs.DeleteByID(ctx, s.name, id); err != nil {
		return err
	}
	s.tmu.Lock()
	delete(s.fired, id)
	s.tmu.Unlock()
	s.publish(EventJobRemoved, JobEvent{ID: id, Namespace: s.name})
	return nil
}

// GetJob returns the persisted job, or ok=false if this namespace has none
// with that id.
func (s *Scheduler) GetJob(ctx context.Context, id string) (JobInfo, bool, error) {
	if !s.IsReady() {
		return JobInfo{}, false, s.notReady()
	}
	j, ok, err := s.jobs.FindByID(ctx, s.name, id)
	if err != nil || !ok {
		return JobInfo{}, false, err
	}
	return infoOf(j), true, nil
}

// GetJobs lists persisted jobs ordered by should_run.
func (s *Scheduler) GetJobs(ctx context.Context) ([]JobInfo, error) {
	if !s.IsReady() {
		return nil, s.notReady()
	}
	jobs, err := s.jobs.FindAll(ctx, s.name)
	if err != nil {
		return nil, err
	}
	out := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, infoOf(j))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ShouldRun.Equal(out[j].ShouldRun) {
			return out[i].ShouldRun.Before(out[j].ShouldRun)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Clean deletes every job in the namespace and cancels every timer.
func (s *Scheduler) Clean(ctx context.Context) error {
	if !s.IsReady() {
		return s.notReady()
	}
	if err := s.jobs.DeleteAll(ctx, s.name); err != nil {
		return err
	}
	n := s.cancelAll()
	s.tmu.Lock()
	s.fired = map[string]struct{}{}
	s.tmu.Unlock()
	s.log.Info("namespace cleaned", logx.Int("timers", n))
	return nil
}

// Registry returns the handler registry jobs are encoded with.
func (s *Scheduler) Registry() *codec.Registry { return s.reg }
