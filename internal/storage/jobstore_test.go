package storage

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	st  Store
	err error
}

func (p *fakeProvider) Store() (Store, error) { return p.st, p.err }

func TestJobStoreNotReady(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cases := map[string]*JobStore{
		"nil provider": NewJobStore(nil),
		"nil handle":   NewJobStore(&fakeProvider{}),
		"provider err": NewJobStore(&fakeProvider{err: errors.Wrap(ErrNotReady, "reconnecting")}),
	}
	for name, js := range cases {
		js := js
		t.Run(name, func(t *testing.T) {
			_, err := js.FindAll(ctx, "ns")
			assert.True(t, errors.Is(err, ErrNotReady), "got %v", err)
			err = js.Insert(ctx, newJob("ns", "a", time.Second))
			assert.True(t, errors.Is(err, ErrNotReady), "got %v", err)
			_, _, err = js.FindByID(ctx, "ns", "a")
			assert.True(t, errors.Is(err, ErrNotReady), "got %v", err)
			assert.True(t, errors.Is(js.DeleteByID(ctx, "ns", "a"), ErrNotReady))
			assert.True(t, errors.Is(js.DeleteAll(ctx, "ns"), ErrNotReady))
		})
	}
}

func TestJobStoreValidatesRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	js := NewJobStore(&fakeProvider{st: NewMemory()})

	err := js.Insert(ctx, newJob("", "a", time.Second))
	assert.True(t, errors.Is(err, ErrInvalidJob))
	err = js.Insert(ctx, newJob("ns", "  ", time.Second))
	assert.True(t, errors.Is(err, ErrInvalidJob))

	j := newJob("ns", "a", 0)
	j.ShouldRun = j.Created.Add(-time.Second)
	assert.True(t, errors.Is(js.Insert(ctx, j), ErrInvalidJob))
}

func TestJobStoreDuplicate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	js := NewJobStore(&fakeProvider{st: NewMemory()})

	require.NoError(t, js.Insert(ctx, newJob("ns", "a", time.Second)))
	err := js.Insert(ctx, newJob("ns", "a", time.Minute))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateID))
	assert.Contains(t, err.Error(), `"a"`)

	got, ok, err := js.FindByID(ctx, "ns", "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.WithinDuration(t, got.Created.Add(time.Second), got.ShouldRun, time.Millisecond)
}

func TestJobStoreDeleteMissingIsNoop(t *testing.T) {
	t.Parallel()
	js := NewJobStore(&fakeProvider{st: NewMemory()})
	assert.NoError(t, js.DeleteByID(context.Background(), "ns", "nope"))
	assert.NoError(t, js.DeleteAll(context.Background(), "ns"))
}
