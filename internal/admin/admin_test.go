package admin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"durasched/internal/codec"
	"durasched/internal/conn"
	rtsup "durasched/internal/runtime/supervisor"
	"durasched/internal/scheduler"
	"durasched/internal/storage"
	logx "durasched/pkg/logx"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeting struct {
	Name string `json:"name"`
}

func newSched(t *testing.T, ran chan<- string) *scheduler.Scheduler {
	t.Helper()
	reg := codec.NewRegistry()
	require.NoError(t, codec.RegisterFunc(reg, "greet", func(ctx context.Context, g greeting) error {
		ran <- g.Name
		return nil
	}))
	mem := storage.NewMemory()
	s, err := scheduler.New("admin-test", scheduler.Config{
		Connection: conn.Policy{RetryInterval: 5 * time.Millisecond, MaxAttempts: 2, HealthInterval: -1},
	},
		scheduler.WithRegistry(reg),
		scheduler.WithDialer(func(context.Context) (storage.Store, error) { return mem, nil }),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Disconnect(context.Background()) })
	return s
}

func serve(t *testing.T, jobs Jobs, token string) *Client {
	t.Helper()
	srv := httptest.NewServer(newRouter(jobs, nil, Config{Token: token}, logx.Nop()))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, token, srv.Client())
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	ran := make(chan string, 1)
	s := newSched(t, ran)
	require.NoError(t, s.Connect(context.Background()))
	c := serve(t, s, "")
	ctx := context.Background()

	job, err := c.Add(ctx, AddRequest{ID: "later", Handler: "greet", Delay: "1h", Args: []byte(`{"name":"x"}`)})
	require.NoError(t, err)
	assert.Equal(t, "later", job.ID)
	assert.Equal(t, "admin-test", job.Namespace)
	assert.Equal(t, "greet", job.Action)

	at := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	_, err = c.Add(ctx, AddRequest{ID: "much-later", Handler: "greet", At: &at, Args: []byte(`{"name":"y"}`)})
	require.NoError(t, err)

	info, err := c.Get(ctx, "much-later")
	require.NoError(t, err)
	assert.True(t, info.ShouldRun.Equal(at))

	list, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "later", list[0].ID)

	snap, err := c.Status(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Ready)
	assert.Len(t, snap.Timers, 2)

	require.NoError(t, c.Remove(ctx, "later"))
	require.NoError(t, c.Remove(ctx, "later"))
	_, err = c.Get(ctx, "later")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	require.NoError(t, c.Clean(ctx))
	list, err = c.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = c.Add(ctx, AddRequest{ID: "now", Handler: "greet", Args: []byte(`{"name":"z"}`)})
	require.NoError(t, err)
	select {
	case name := <-ran:
		assert.Equal(t, "z", name)
	case <-time.After(2 * time.Second):
		t.Fatal("job added over HTTP did not fire")
	}
}

func TestErrorsKeepTheirIdentity(t *testing.T) {
	s := newSched(t, make(chan string, 1))
	c := serve(t, s, "")
	ctx := context.Background()

	_, err := c.List(ctx)
	assert.True(t, errors.Is(err, scheduler.ErrNotReady), "got %v", err)

	require.NoError(t, s.Connect(ctx))

	_, err = c.Add(ctx, AddRequest{ID: "a", Handler: "greet", Delay: "1h", Args: []byte(`{"name":"a"}`)})
	require.NoError(t, err)

	cases := []struct {
		name string
		req  AddRequest
		want error
	}{
		{"duplicate", AddRequest{ID: "a", Handler: "greet", Delay: "1h", Args: []byte(`{"name":"a"}`)}, scheduler.ErrDuplicateID},
		{"unknown handler", AddRequest{ID: "b", Handler: "nope"}, scheduler.ErrUnknownHandler},
		{"blank id", AddRequest{ID: "  ", Handler: "greet", Args: []byte(`{"name":"a"}`)}, scheduler.ErrInvalidID},
		{"bad args", AddRequest{ID: "c", Handler: "greet", Args: []byte(`{"nick":"a"}`)}, codec.ErrInvalidArguments},
		{"bad delay", AddRequest{ID: "d", Handler: "greet", Delay: "soon"}, ErrBadRequest},
		{"delay and at", AddRequest{ID: "e", Handler: "greet", Delay: "1s", At: &time.Time{}}, ErrBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Add(ctx, tc.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestTokenRequired(t *testing.T) {
	s := newSched(t, make(chan string, 1))
	srv := httptest.NewServer(newRouter(s, nil, Config{Token: "sekret", Pprof: true}, logx.Nop()))
	t.Cleanup(srv.Close)
	ctx := context.Background()

	_, err := NewClient(srv.URL, "wrong", srv.Client()).Status(ctx)
	assert.True(t, errors.Is(err, ErrUnauthorized), "got %v", err)

	_, err = NewClient(srv.URL, "sekret", srv.Client()).Status(ctx)
	assert.NoError(t, err)

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = srv.Client().Get(srv.URL + "/status?token=sekret")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = srv.Client().Get(srv.URL + "/debug/pprof/cmdline")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "profiling sits behind the token")

	resp, err = srv.Client().Get(srv.URL + "/debug/pprof/cmdline?token=sekret")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTokenMustMatchExactly(t *testing.T) {
	t.Parallel()
	h := withAuth("sekret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	cases := map[string]struct {
		header string
		want   int
	}{
		"exact":     {"Bearer sekret", http.StatusNoContent},
		"prefix":    {"Bearer sekre", http.StatusUnauthorized},
		"longer":    {"Bearer sekret2", http.StatusUnauthorized},
		"empty":     {"", http.StatusUnauthorized},
		"no scheme": {"sekret", http.StatusUnauthorized},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/status", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestPprofOffByDefault(t *testing.T) {
	s := newSched(t, make(chan string, 1))
	srv := httptest.NewServer(newRouter(s, nil, Config{}, logx.Nop()))
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Get(srv.URL + "/debug/pprof/cmdline")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTasksRoute(t *testing.T) {
	s := newSched(t, make(chan string, 1))
	sup := rtsup.New(context.Background())
	release := make(chan struct{})
	sup.Go0("worker", func(ctx context.Context) { <-release })
	t.Cleanup(func() {
		close(release)
		_ = sup.Stop(context.Background())
	})

	srv := httptest.NewServer(newRouter(s, sup.Snapshot, Config{}, logx.Nop()))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "", srv.Client())
	require.Eventually(t, func() bool {
		snap, err := c.Tasks(context.Background())
		return err == nil && len(snap.Tasks) == 1 && snap.Tasks[0].Active == 1
	}, time.Second, 5*time.Millisecond)
	snap, err := c.Tasks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Counters.Active)
	assert.Equal(t, "worker", snap.Tasks[0].Name)

	srv2 := httptest.NewServer(newRouter(s, nil, Config{}, logx.Nop()))
	t.Cleanup(srv2.Close)
	_, err = NewClient(srv2.URL, "", srv2.Client()).Tasks(context.Background())
	assert.Error(t, err)
}

func TestServiceLifecycle(t *testing.T) {
	s := newSched(t, make(chan string, 1))
	ctx := context.Background()

	svc := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, s, logx.Nop())
	require.NoError(t, svc.Start(ctx))
	addr := svc.Addr()
	require.NotEmpty(t, addr)

	snap, err := NewClient(addr, "", nil).Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "admin-test", snap.Name)
	assert.False(t, snap.Ready)

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	svc.Stop(stopCtx)
	assert.Empty(t, svc.Addr())
	assert.Nil(t, svc.Supervisor())

	require.NoError(t, svc.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", Token: "t"}))
	assert.NotEmpty(t, svc.Addr())
	require.NoError(t, svc.Reconfigure(ctx, Config{Enabled: false}))
	assert.Empty(t, svc.Addr())
}

func TestInsecureBindRefused(t *testing.T) {
	svc := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, nil, logx.Nop())
	err := svc.Start(context.Background())
	assert.True(t, errors.Is(err, ErrInsecureBind))
	assert.Empty(t, svc.Addr())

	assert.True(t, isLoopbackAddr("localhost:1"))
	assert.True(t, isLoopbackAddr("[::1]:1"))
	assert.False(t, isLoopbackAddr(":8089"))
	assert.False(t, isLoopbackAddr("10.0.0.1:80"))
}
