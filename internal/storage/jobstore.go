package storage

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
)

// Provider hands out the live store handle, or an error wrapping ErrNotReady
// while no connection is established.
type Provider interface {
	Store() (Store, error)
}

// JobStore is the namespace-scoped CRUD facade over whatever store handle the
// Provider currently holds. Every call resolves the handle afresh, so a call
// made during an outage fails with ErrNotReady instead of touching a stale
// connection.
type JobStore struct {
	p Provider
}

func NewJobStore(p Provider) *JobStore {
	return &JobStore{p: p}
}

func (s *JobStore) store() (Store, error) {
	if s == nil || s.p == nil {
		return nil, ErrNotReady
	}
	st, err := s.p.Store()
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrNotReady
	}
	return st, nil
}

// Insert persists job; ErrDuplicateID if (namespace, id) exists.
func (s *JobStore) Insert(ctx context.Context, job Job) error {
	if strings.TrimSpace(job.Namespace) == "" || strings.TrimSpace(job.ID) == "" {
		return errors.Wrap(ErrInvalidJob, "namespace and id required")
	}
	if job.ShouldRun.Before(job.Created) {
		return errors.Wrapf(ErrInvalidJob, "job %q: should_run before created", job.ID)
	}
	st, err := s.store()
	if err != nil {
		return err
	}
	if err := st.Insert(ctx, job); err != nil {
		if errors.Is(err, ErrDuplicateID) {
			return errors.Wrapf(ErrDuplicateID, "job %q in %q", job.ID, job.Namespace)
		}
		return errors.Wrapf(err, "insert job %q", job.ID)
	}
	return nil
}

// FindByID returns the record, or ok=false when it does not exist.
func (s *JobStore) FindByID(ctx context.Context, namespace, id string) (Job, bool, error) {
	st, err := s.store()
	if err != nil {
		return Job{}, false, err
	}
	j, ok, err := st.FindByID(ctx, namespace, id)
	if err != nil {
		return Job{}, false, errors.Wrapf(err, "find job %q", id)
	}
	return j, ok, nil
}

// FindAll returns every record in namespace, in no particular order.
func (s *JobStore) FindAll(ctx context.Context, namespace string) ([]Job, error) {
	st, err := s.store()
	if err != nil {
		return nil, err
	}
	jobs, err := st.FindAll(ctx, namespace)
	if err != nil {
		return nil, errors.Wrapf(err, "list jobs in %q", namespace)
	}
	return jobs, nil
}

// DeleteByID removes one record; missing records are not an error.
func (s *JobStore) DeleteByID(ctx context.Context, namespace, id string) error {
	st, err := s.store()
	if err != nil {
		return err
	}
	return errors.Wrapf(st.DeleteByID(ctx, namespace, id), "delete job %q", id)
}

// DeleteAll removes every record in namespace and nothing else.
func (s *JobStore) DeleteAll(ctx context.Context, namespace string) error {
	st, err := s.store()
	if err != nil {
		return err
	}
	return errors.Wrapf(st.DeleteAll(ctx, namespace), "delete jobs in %q", namespace)
}
