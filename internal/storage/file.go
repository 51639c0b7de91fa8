package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "durasched/pkg/logx"

	"github.com/cockroachdb/errors"
)

const fileCompactEvery = 500

// fileStore is a dependency-free backend for single-process deployments.
//
// Files:
//   - <prefix>.jobs.snapshot.json (periodic snapshot)
//   - <prefix>.jobs.journal.jsonl (append-only journal)
//
// The journal is compacted into the snapshot every fileCompactEvery writes
// and on Close.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	jobs         map[string]map[string]Job // namespace -> id -> job

	writes int
}

type journalOp string

const (
	opPut   journalOp = "put"
	opDel   journalOp = "del"
	opClear journalOp = "clear"
)

type journalRecord struct {
	Op        journalOp `json:"op"`
	Namespace string    `json:"namespace"`
	ID        string    `json:"id,omitempty"`
	Job       *Job      `json:"job,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("store.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".jobs.snapshot.json"
	journalPath := prefix + ".jobs.journal.jsonl"

	jobs := map[string]map[string]Job{}
	if err := loadSnapshot(snapPath, jobs); err != nil && !os.IsNotExist(err) {
		log.Warn("job snapshot unreadable; starting from journal", logx.String("path", snapPath), logx.Err(err))
	}
	if err := replayJournal(journalPath, jobs, log); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journal:      jf,
		jobs:         jobs,
	}, nil
}

func (s *fileStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	return nil
}

func (s *fileStore) Insert(ctx context.Context, job Job) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if _, ok := s.jobs[job.Namespace][job.ID]; ok {
		return ErrDuplicateID
	}
	j := job
	if err := s.appendLocked(journalRecord{Op: opPut, Namespace: job.Namespace, ID: job.ID, Job: &j}); err != nil {
		return err
	}
	applyRecord(s.jobs, journalRecord{Op: opPut, Namespace: job.Namespace, ID: job.ID, Job: &j})
	return nil
}

func (s *fileStore) FindByID(ctx context.Context, namespace, id string) (Job, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return Job{}, false, ErrClosed
	}
	j, ok := s.jobs[namespace][id]
	return j, ok, nil
}

func (s *fileStore) FindAll(ctx context.Context, namespace string) ([]Job, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	out := make([]Job, 0, len(s.jobs[namespace]))
	for _, j := range s.jobs[namespace] {
		out = append(out, j)
	}
	return out, nil
}

func (s *fileStore) DeleteByID(ctx context.Context, namespace, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if _, ok := s.jobs[namespace][id]; !ok {
		return nil
	}
	rec := journalRecord{Op: opDel, Namespace: namespace, ID: id}
	if err := s.appendLocked(rec); err != nil {
		return err
	}
	applyRecord(s.jobs, rec)
	return nil
}

func (s *fileStore) DeleteAll(ctx context.Context, namespace string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	rec := journalRecord{Op: opClear, Namespace: namespace}
	if err := s.appendLocked(rec); err != nil {
		return err
	}
	applyRecord(s.jobs, rec)
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	if err := s.compactLocked(); err != nil {
		s.log.Debug("job journal compact failed", logx.Err(err))
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) appendLocked(rec journalRecord) error {
	if err := json.NewEncoder(s.journal).Encode(rec); err != nil {
		return err
	}
	s.writes++
	if s.writes%fileCompactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("job journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.jobs); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func applyRecord(jobs map[string]map[string]Job, rec journalRecord) {
	switch rec.Op {
	case opPut:
		if rec.Job == nil {
			return
		}
		ns := jobs[rec.Namespace]
		if ns == nil {
			ns = map[string]Job{}
			jobs[rec.Namespace] = ns
		}
		ns[rec.ID] = *rec.Job
	case opDel:
		delete(jobs[rec.Namespace], rec.ID)
	case opClear:
		delete(jobs, rec.Namespace)
	}
}

func loadSnapshot(path string, out map[string]map[string]Job) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]map[string]Job
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for ns, jobs := range m {
		out[ns] = jobs
	}
	return nil
}

func replayJournal(path string, out map[string]map[string]Job, log logx.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		var rec journalRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			// A torn final write after a crash is expected; skip it.
			log.Debug("skipping unreadable journal line", logx.Int("line", line), logx.Err(err))
			continue
		}
		applyRecord(out, rec)
	}
	return sc.Err()
}
