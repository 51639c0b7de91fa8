package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"durasched/internal/codec"
	rtsup "durasched/internal/runtime/supervisor"
	"durasched/internal/scheduler"
	"durasched/internal/storage"

	"github.com/cockroachdb/errors"
)

// Jobs is the scheduler surface the API exposes.
type Jobs interface {
	AddJob(ctx context.Context, id string, delay time.Duration, handler string, args any) (storage.Job, error)
	AddJobAt(ctx context.Context, id string, at time.Time, handler string, args any) (storage.Job, error)
	RemoveJob(ctx context.Context, id string) error
	GetJob(ctx context.Context, id string) (scheduler.JobInfo, bool, error)
	GetJobs(ctx context.Context) ([]scheduler.JobInfo, error)
	Clean(ctx context.Context) error
	Snapshot() scheduler.Snapshot
}

// Tasks reports the daemon's supervised goroutines for GET /tasks.
type Tasks func() rtsup.Snapshot

// AddRequest is the body of POST /jobs. Delay and At are exclusive; neither
// means now.
type AddRequest struct {
	ID      string          `json:"id"`
	Handler string          `json:"handler"`
	Delay   string          `json:"delay,omitempty"`
	At      *time.Time      `json:"at,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// Error codes carried in error bodies.
const (
	CodeBadRequest     = "bad_request"
	CodeInvalidID      = "invalid_id"
	CodeInvalidArgs    = "invalid_arguments"
	CodeUnknownHandler = "unknown_handler"
	CodeDuplicateID    = "duplicate_id"
	CodeNotFound       = "not_found"
	CodeCancelled      = "cancelled"
	CodeNotReady       = "not_ready"
	CodeUnauthorized   = "unauthorized"
	CodeInternal       = "internal"
)

var (
	ErrBadRequest   = errors.New("admin: bad request")
	ErrNotFound     = errors.New("admin: job not found")
	ErrUnauthorized = errors.New("admin: unauthorized")
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Hint  string `json:"hint,omitempty"`
}

// codeSentinels is shared by the server (status mapping) and the client
// (re-marking decoded errors so callers can use errors.Is).
var codeSentinels = []struct {
	code   string
	status int
	err    error
}{
	{CodeBadRequest, http.StatusBadRequest, ErrBadRequest},
	{CodeInvalidID, http.StatusBadRequest, scheduler.ErrInvalidID},
	{CodeInvalidArgs, http.StatusBadRequest, codec.ErrInvalidArguments},
	{CodeUnknownHandler, http.StatusUnprocessableEntity, scheduler.ErrUnknownHandler},
	{CodeDuplicateID, http.StatusConflict, scheduler.ErrDuplicateID},
	{CodeNotFound, http.StatusNotFound, ErrNotFound},
	{CodeCancelled, http.StatusConflict, scheduler.ErrCancelled},
	{CodeNotReady, http.StatusServiceUnavailable, scheduler.ErrNotReady},
	{CodeUnauthorized, http.StatusUnauthorized, ErrUnauthorized},
}

func classify(err error) (code string, status int) {
	for _, c := range codeSentinels {
		if errors.Is(err, c.err) {
			return c.code, c.status
		}
	}
	return CodeInternal, http.StatusInternalServerError
}

func sentinelFor(code string) error {
	for _, c := range codeSentinels {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
