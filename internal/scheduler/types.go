package scheduler

import (
	"time"

	"durasched/internal/codec"
	"durasched/internal/conn"
	"durasched/internal/eventbus"
	"durasched/internal/storage"
	logx "durasched/pkg/logx"

	"github.com/cockroachdb/errors"
)

var (
	ErrName      = errors.New("scheduler: name required")
	ErrInvalidID = errors.New("scheduler: job id required")
	// ErrCancelled is returned by AddJob when the job was removed or cleaned
	// before its timer could start. Nothing stays persisted.
	ErrCancelled = errors.New("scheduler: job cancelled while being added")

	ErrNotReady        = storage.ErrNotReady
	ErrDuplicateID     = storage.ErrDuplicateID
	ErrUnknownHandler  = codec.ErrUnknownHandler
	ErrCorruptPayload  = codec.ErrCorruptPayload
	ErrConnectionFatal = conn.ErrConnectionFatal
)

// Event types published on the bus.
const (
	EventJobAdded         = "job.added"
	EventJobFired         = "job.fired"
	EventJobFailed        = "job.failed"
	EventJobRemoved       = "job.removed"
	EventJobPurged        = "job.purged"
	EventRestoreCompleted = "restore.completed"
)

const DefaultOpTimeout = 10 * time.Second

// Config holds the store, connection policy and timeouts of one scheduler.
type Config struct {
	Store      storage.Config
	Connection conn.Policy
	// OpTimeout bounds store calls the scheduler makes on its own behalf
	// (removal after a fire). 0 means DefaultOpTimeout.
	OpTimeout time.Duration
}

// Clock supplies the current time for created/should_run stamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option configures New.
type Option func(*Scheduler)

func WithLogger(log logx.Logger) Option { return func(s *Scheduler) { s.log = log } }

// WithBus publishes job and connection events on b.
func WithBus(b eventbus.Bus) Option { return func(s *Scheduler) { s.bus = b } }

// WithRegistry resolves handlers from r instead of codec.Default.
func WithRegistry(r *codec.Registry) Option { return func(s *Scheduler) { s.reg = r } }

// WithClock stamps created and should_run from c.
func WithClock(c Clock) Option { return func(s *Scheduler) { s.clock = c } }

// WithDialer replaces the driver selected by Config.Store.
func WithDialer(d storage.Dialer) Option { return func(s *Scheduler) { s.dial = d } }

// JobInfo is the read projection of a persisted job.
type JobInfo struct {
	ID        string    `json:"id"`
	Namespace string    `json:"namespace"`
	ShouldRun time.Time `json:"should_run"`
}

func infoOf(j storage.Job) JobInfo {
	return JobInfo{ID: j.ID, Namespace: j.Namespace, ShouldRun: j.ShouldRun}
}

// JobEvent is the payload of job.* events.
type JobEvent struct {
	ID        string `json:"id"`
	Namespace string `json:"namespace"`
	Handler   string `json:"handler,omitempty"`
	Err       string `json:"err,omitempty"`
}

// RestoreStats is the payload of restore.completed.
type RestoreStats struct {
	Namespace string `json:"namespace"`
	Armed     int    `json:"armed"`
	Ran       int    `json:"ran"`
	Purged    int    `json:"purged"`
	Cleared   int    `json:"cleared"`
}

// TimerInfo is one armed timer.
type TimerInfo struct {
	ID  string    `json:"id"`
	Due time.Time `json:"due"`
}

// Snapshot is the scheduler state served by status output. Pending lists
// ids that fired but whose records are not yet deleted.
type Snapshot struct {
	Name    string      `json:"name"`
	State   string      `json:"state"`
	Ready   bool        `json:"ready"`
	Timers  []TimerInfo `json:"timers"`
	Pending []string    `json:"pending_removal,omitempty"`
}
