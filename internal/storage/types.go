package storage

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNotReady is returned when no live store connection is available.
	ErrNotReady = errors.New("storage: not ready")
	// ErrDuplicateID is returned by Insert when (namespace, id) already exists.
	ErrDuplicateID = errors.New("storage: duplicate job id")
	// ErrClosed is returned by a store handle after Close.
	ErrClosed = errors.New("storage: closed")
	// ErrInvalidJob is returned by JobStore.Insert for records missing required fields.
	ErrInvalidJob = errors.New("storage: invalid job")
)

// Config configures the store driver.
//
// Driver values:
//   - "redis": networked store addressed by Host/Port with optional Login/Password
//   - "sqlite": SQLite database file at Path
//   - "file": dependency-free file backend (snapshot + jsonl journal) at Path
//   - "memory": process-local, lost on exit
type Config struct {
	Driver string

	Host      string
	Port      int
	Login     string
	Password  string
	DB        int
	KeyPrefix string // redis only; default "durasched"

	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	DialTimeout time.Duration
}

// Job is a persisted deferred-action record. Records are immutable once inserted.
type Job struct {
	ID        string    `json:"id"`
	Namespace string    `json:"namespace"`
	Created   time.Time `json:"created"`
	ShouldRun time.Time `json:"should_run"`
	Action    string    `json:"action"`
	Arguments string    `json:"arguments"`
}

// Store is the driver contract. Implementations must make Insert atomic with
// respect to the (namespace, id) uniqueness check.
type Store interface {
	Ping(ctx context.Context) error
	Insert(ctx context.Context, job Job) error
	FindByID(ctx context.Context, namespace, id string) (Job, bool, error)
	FindAll(ctx context.Context, namespace string) ([]Job, error)
	DeleteByID(ctx context.Context, namespace, id string) error
	DeleteAll(ctx context.Context, namespace string) error
	Close() error
}

// Dialer opens a new store handle. The connection manager calls it on every
// (re)connect attempt.
type Dialer func(ctx context.Context) (Store, error)
