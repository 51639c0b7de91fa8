package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "durasched/pkg/logx"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

var (
	ErrHostNotAllowed = errors.New("webhook: host not allowed")
	ErrStatus         = errors.New("webhook: non-2xx response")
)

// Webhook is the argument of webhook.post.
type Webhook struct {
	URL     string            `json:"url"`
	Body    json.RawMessage   `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (w *Webhook) UnmarshalJSON(b []byte) error {
	type plain Webhook
	var p plain
	if err := strictUnmarshal(b, &p); err != nil {
		return err
	}
	u, err := url.Parse(strings.TrimSpace(p.URL))
	if err != nil {
		return errors.Wrap(err, "url")
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Newf("url must be absolute http(s): %q", p.URL)
	}
	p.URL = u.String()
	*w = Webhook(p)
	return nil
}

type webhook struct {
	log     logx.Logger
	client  *http.Client
	timeout time.Duration
	allowed map[string]struct{}
	lim     *rate.Limiter
}

func (h *webhook) run(ctx context.Context, w Webhook) error {
	u, err := url.Parse(w.URL)
	if err != nil || u.Host == "" {
		return errors.Newf("invalid url %q", w.URL)
	}
	host := strings.ToLower(u.Hostname())
	if len(h.allowed) > 0 {
		if _, ok := h.allowed[host]; !ok {
			return errors.WithHint(
				errors.Wrapf(ErrHostNotAllowed, "%q", host),
				"add the host to handlers.webhook.allowed_hosts",
			)
		}
	}
	if h.lim != nil {
		if err := h.lim.Wait(ctx); err != nil {
			return errors.Wrap(err, "webhook rate limit")
		}
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(w.Body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "durasched")
	for k, v := range w.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "post %s", host)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Wrapf(ErrStatus, "post %s: %s", host, resp.Status)
	}
	h.log.Debug("webhook delivered",
		logx.String("host", host),
		logx.Int("status", resp.StatusCode),
		logx.Duration("took", time.Since(start)),
	)
	return nil
}
