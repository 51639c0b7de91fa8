package storage

import (
	"context"
	"path/filepath"
	"sort"
	"strconv"
	"testing"
	"time"

	logx "durasched/pkg/logx"

	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(ns, id string, due time.Duration) Job {
	now := time.Now()
	return Job{
		ID:        id,
		Namespace: ns,
		Created:   now,
		ShouldRun: now.Add(due),
		Action:    "log.message",
		Arguments: `{"text":"hi"}`,
	}
}

// driverCases returns one dialer per driver, each backed by fresh state.
func driverCases(t *testing.T) map[string]Dialer {
	t.Helper()
	dir := t.TempDir()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	cases := map[string]Config{
		"memory": {Driver: "memory"},
		"file":   {Driver: "file", Path: filepath.Join(dir, "file", "jobs")},
		"sqlite": {Driver: "sqlite", Path: filepath.Join(dir, "sqlite", "jobs.db")},
		"redis":  {Driver: "redis", Host: mr.Host(), Port: port},
	}
	out := map[string]Dialer{}
	for name, cfg := range cases {
		d, err := NewDialer(cfg, logx.Nop())
		require.NoError(t, err, name)
		out[name] = d
	}
	return out
}

func TestStoreConformance(t *testing.T) {
	for name, dial := range driverCases(t) {
		dial := dial
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st, err := dial(ctx)
			require.NoError(t, err)
			t.Cleanup(func() { _ = st.Close() })

			require.NoError(t, st.Ping(ctx))

			j := newJob("alpha", "1", time.Minute)
			require.NoError(t, st.Insert(ctx, j))
			err = st.Insert(ctx, j)
			assert.True(t, errors.Is(err, ErrDuplicateID), "got %v", err)

			// Same id in another namespace is a different record.
			require.NoError(t, st.Insert(ctx, newJob("beta", "1", time.Minute)))
			require.NoError(t, st.Insert(ctx, newJob("alpha", "2", 2*time.Minute)))

			got, ok, err := st.FindByID(ctx, "alpha", "1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, j.ID, got.ID)
			assert.Equal(t, j.Namespace, got.Namespace)
			assert.Equal(t, j.Action, got.Action)
			assert.Equal(t, j.Arguments, got.Arguments)
			assert.WithinDuration(t, j.ShouldRun, got.ShouldRun, time.Millisecond)
			assert.WithinDuration(t, j.Created, got.Created, time.Millisecond)

			_, ok, err = st.FindByID(ctx, "alpha", "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			all, err := st.FindAll(ctx, "alpha")
			require.NoError(t, err)
			ids := make([]string, 0, len(all))
			for _, j := range all {
				ids = append(ids, j.ID)
			}
			sort.Strings(ids)
			assert.Equal(t, []string{"1", "2"}, ids)

			require.NoError(t, st.DeleteByID(ctx, "alpha", "1"))
			require.NoError(t, st.DeleteByID(ctx, "alpha", "1"))
			_, ok, err = st.FindByID(ctx, "alpha", "1")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, st.DeleteAll(ctx, "alpha"))
			all, err = st.FindAll(ctx, "alpha")
			require.NoError(t, err)
			assert.Empty(t, all)

			other, err := st.FindAll(ctx, "beta")
			require.NoError(t, err)
			assert.Len(t, other, 1)
		})
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	for name, dial := range driverCases(t) {
		dial := dial
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st, err := dial(ctx)
			require.NoError(t, err)
			require.NoError(t, st.Insert(ctx, newJob("ns", "a", time.Hour)))
			require.NoError(t, st.Insert(ctx, newJob("ns", "b", time.Hour)))
			require.NoError(t, st.DeleteByID(ctx, "ns", "a"))
			require.NoError(t, st.Close())

			st2, err := dial(ctx)
			require.NoError(t, err)
			t.Cleanup(func() { _ = st2.Close() })
			all, err := st2.FindAll(ctx, "ns")
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, "b", all[0].ID)
		})
	}
}

func TestFileStoreSkipsTornJournalLine(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs")
	st, err := openFile(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Insert(ctx, newJob("ns", "a", time.Hour)))
	fs := st.(*fileStore)
	fs.mu.Lock()
	_, err = fs.journal.WriteString(`{"op":"put","namespace":"ns","id":"b","job":{"id"` + "\n")
	fs.mu.Unlock()
	require.NoError(t, err)
	// Close compacts; simulate a crash by closing the file handle directly.
	fs.mu.Lock()
	require.NoError(t, fs.journal.Close())
	fs.journal = nil
	fs.mu.Unlock()

	st2, err := openFile(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st2.Close() })
	all, err := st2.FindAll(ctx, "ns")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "a", all[0].ID)
}

func TestFileStoreClosed(t *testing.T) {
	ctx := context.Background()
	st, err := openFile(Config{Path: filepath.Join(t.TempDir(), "jobs")}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Close())
	assert.True(t, errors.Is(st.Ping(ctx), ErrClosed))
	assert.True(t, errors.Is(st.Insert(ctx, newJob("ns", "a", 0)), ErrClosed))
	require.NoError(t, st.Close())
}

func TestRedisUnreadableRecordSurfacesForPurge(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	st, err := Open(ctx, Config{Driver: "redis", Host: mr.Host(), Port: port, KeyPrefix: "t"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	mr.HSet("t:jobs:ns", "bad", "{not json")
	all, err := st.FindAll(ctx, "ns")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, Job{ID: "bad", Namespace: "ns"}, all[0])
}

func TestRedisDialFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	host := mr.Host()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = Open(ctx, Config{Driver: "redis", Host: host, Port: port, DialTimeout: 200 * time.Millisecond}, logx.Nop())
	assert.Error(t, err)
}

func TestNewDialerValidation(t *testing.T) {
	t.Parallel()
	_, err := NewDialer(Config{Driver: "mongo"}, logx.Nop())
	assert.Error(t, err)
	_, err = NewDialer(Config{Driver: "sqlite"}, logx.Nop())
	assert.Error(t, err)
	_, err = NewDialer(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)
	_, err = NewDialer(Config{}, logx.Nop())
	assert.NoError(t, err)
}
