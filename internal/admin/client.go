package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	rtsup "durasched/internal/runtime/supervisor"
	"durasched/internal/scheduler"
	"durasched/internal/storage"

	"github.com/cockroachdb/errors"
)

// Client talks to a running daemon's admin API.
type Client struct {
	base  string
	token string
	hc    *http.Client
}

// NewClient returns a client for addr ("host:port" or a full URL).
func NewClient(addr, token string, hc *http.Client) *Client {
	base := strings.TrimRight(strings.TrimSpace(addr), "/")
	if base == "" {
		base = DefaultAddr
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{base: base, token: strings.TrimSpace(token), hc: hc}
}

func (c *Client) Add(ctx context.Context, req AddRequest) (storage.Job, error) {
	var job storage.Job
	err := c.do(ctx, http.MethodPost, "/jobs", req, &job)
	return job, err
}

func (c *Client) Get(ctx context.Context, id string) (scheduler.JobInfo, error) {
	var info scheduler.JobInfo
	err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, &info)
	return info, err
}

func (c *Client) List(ctx context.Context) ([]scheduler.JobInfo, error) {
	var out []scheduler.JobInfo
	err := c.do(ctx, http.MethodGet, "/jobs", nil, &out)
	return out, err
}

func (c *Client) Remove(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/jobs/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Clean(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/jobs", nil, nil)
}

func (c *Client) Status(ctx context.Context) (scheduler.Snapshot, error) {
	var snap scheduler.Snapshot
	err := c.do(ctx, http.MethodGet, "/status", nil, &snap)
	return snap, err
}

// Tasks returns the daemon's supervised goroutines.
func (c *Client) Tasks(ctx context.Context) (rtsup.Snapshot, error) {
	var snap rtsup.Snapshot
	err := c.do(ctx, http.MethodGet, "/tasks", nil, &snap)
	return snap, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return errors.WithHint(errors.Wrapf(err, "%s %s", method, path), "is the daemon running with admin enabled?")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		var eb errorBody
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		if json.Unmarshal(raw, &eb) != nil || eb.Error == "" {
			return errors.Newf("%s %s: %s", method, path, resp.Status)
		}
		err := errors.New(eb.Error)
		if s := sentinelFor(eb.Code); s != nil {
			err = errors.Mark(err, s)
		}
		if eb.Hint != "" {
			err = errors.WithHint(err, eb.Hint)
		}
		return err
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}
