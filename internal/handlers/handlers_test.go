package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"durasched/internal/codec"
	logx "durasched/pkg/logx"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuf struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuf) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuf) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func registry(t *testing.T, opts Options) *codec.Registry {
	t.Helper()
	reg := codec.NewRegistry()
	require.NoError(t, Register(reg, opts))
	return reg
}

func run(t *testing.T, reg *codec.Registry, name string, args any) error {
	t.Helper()
	p, err := reg.Encode(name, args)
	require.NoError(t, err)
	act, err := reg.Decode(p)
	require.NoError(t, err)
	return act.Run(context.Background())
}

func TestRegisterAddsBuiltins(t *testing.T) {
	reg := registry(t, Options{})
	assert.True(t, reg.Has(LogMessage))
	assert.True(t, reg.Has(WebhookPost))
	assert.Error(t, Register(reg, Options{}), "second registration collides")
}

func TestLogMessageWritesAtLevel(t *testing.T) {
	var buf syncBuf
	log := logx.NewFrom(zerolog.New(&buf).Level(zerolog.TraceLevel))
	reg := registry(t, Options{Log: log})

	require.NoError(t, run(t, reg, LogMessage, Message{Text: "disk almost full", Level: "WARN"}))
	require.NoError(t, run(t, reg, LogMessage, json.RawMessage(`{"text":"hello"}`)))

	out := buf.String()
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, "disk almost full")
	assert.Contains(t, out, `"level":"info"`)
	assert.Contains(t, out, `"handler":"log.message"`)
}

func TestLogMessageRejectedAtSchedulingTime(t *testing.T) {
	reg := registry(t, Options{})
	for name, raw := range map[string]string{
		"blank text":    `{"text":"  "}`,
		"unknown level": `{"text":"x","level":"loud"}`,
		"unknown field": `{"text":"x","colour":"red"}`,
		"wrong type":    `{"text":1}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Encode(LogMessage, json.RawMessage(raw))
			assert.True(t, errors.Is(err, codec.ErrInvalidArguments), "got %v", err)
		})
	}
}

func TestWebhookPostsBodyAndHeaders(t *testing.T) {
	type hit struct {
		body    string
		auth    string
		ctype   string
		method  string
		counter int
	}
	var (
		mu  sync.Mutex
		got hit
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = hit{body: string(b), auth: r.Header.Get("Authorization"), ctype: r.Header.Get("Content-Type"), method: r.Method, counter: got.counter + 1}
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	reg := registry(t, Options{Client: srv.Client(), AllowedHosts: []string{"127.0.0.1"}})
	err := run(t, reg, WebhookPost, Webhook{
		URL:     srv.URL + "/hook",
		Body:    json.RawMessage(`{"event":"due"}`),
		Headers: map[string]string{"Authorization": "Bearer abc"},
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, got.counter)
	assert.Equal(t, http.MethodPost, got.method)
	assert.JSONEq(t, `{"event":"due"}`, got.body)
	assert.Equal(t, "Bearer abc", got.auth)
	assert.Equal(t, "application/json", got.ctype)
}

func TestWebhookFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/slow":
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		default:
			http.Error(w, "nope", http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	reg := registry(t, Options{Client: srv.Client(), Timeout: 50 * time.Millisecond})
	err := run(t, reg, WebhookPost, Webhook{URL: srv.URL + "/broken"})
	assert.True(t, errors.Is(err, ErrStatus), "got %v", err)

	err = run(t, reg, WebhookPost, Webhook{URL: srv.URL + "/slow"})
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)

	limited := registry(t, Options{Client: srv.Client(), AllowedHosts: []string{"hooks.example.com"}})
	err = run(t, limited, WebhookPost, Webhook{URL: srv.URL + "/broken"})
	assert.True(t, errors.Is(err, ErrHostNotAllowed), "got %v", err)
}

func TestWebhookURLValidatedAtSchedulingTime(t *testing.T) {
	reg := registry(t, Options{})
	for _, raw := range []string{
		`{"url":"ftp://example.com/x"}`,
		`{"url":"/relative"}`,
		`{"url":""}`,
		`{"url":"https://example.com","method":"GET"}`,
	} {
		_, err := reg.Encode(WebhookPost, json.RawMessage(raw))
		assert.True(t, errors.Is(err, codec.ErrInvalidArguments), "%s: got %v", raw, err)
	}
}

func TestWebhookRateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	reg := registry(t, Options{Client: srv.Client(), RatePerSec: 0.5})
	p, err := reg.Encode(WebhookPost, Webhook{URL: srv.URL})
	require.NoError(t, err)
	act, err := reg.Decode(p)
	require.NoError(t, err)

	require.NoError(t, act.Run(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, act.Run(ctx), "second post waits for a token past the deadline")
}
