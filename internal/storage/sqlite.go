package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "durasched/pkg/logx"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqliteStore) Insert(ctx context.Context, job Job) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(namespace, id, created_ns, should_run_ns, action, arguments)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(namespace, id) DO NOTHING`,
		job.Namespace, job.ID, job.Created.UnixNano(), job.ShouldRun.UnixNano(), job.Action, job.Arguments,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicateID
	}
	return nil
}

func (s *sqliteStore) FindByID(ctx context.Context, namespace, id string) (Job, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT namespace, id, created_ns, should_run_ns, action, arguments
		 FROM jobs WHERE namespace = ? AND id = ?`, namespace, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	return j, true, nil
}

func (s *sqliteStore) FindAll(ctx context.Context, namespace string) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT namespace, id, created_ns, should_run_ns, action, arguments
		 FROM jobs WHERE namespace = ? ORDER BY should_run_ns`, namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (Job, error) {
	var j Job
	var createdNs, dueNs int64
	if err := r.Scan(&j.Namespace, &j.ID, &createdNs, &dueNs, &j.Action, &j.Arguments); err != nil {
		return Job{}, err
	}
	j.Created = time.Unix(0, createdNs)
	j.ShouldRun = time.Unix(0, dueNs)
	return j, nil
}

func (s *sqliteStore) DeleteByID(ctx context.Context, namespace, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE namespace = ? AND id = ?`, namespace, id)
	return err
}

func (s *sqliteStore) DeleteAll(ctx context.Context, namespace string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE namespace = ?`, namespace)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
