package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"durasched/internal/codec"
	logx "durasched/pkg/logx"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

const (
	LogMessage  = "log.message"
	WebhookPost = "webhook.post"
)

const DefaultTimeout = 10 * time.Second

// Options configure the built-ins. Zero values are usable.
type Options struct {
	Log logx.Logger
	// Timeout bounds one webhook POST.
	Timeout time.Duration
	// AllowedHosts restricts webhook targets; empty allows any host.
	AllowedHosts []string
	// RatePerSec caps webhook POSTs; 0 means unlimited.
	RatePerSec float64
	Client     *http.Client
}

// Register adds every built-in handler to reg (codec.Default when nil).
func Register(reg *codec.Registry, opts Options) error {
	if reg == nil {
		reg = codec.Default
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}

	lm := &logMessage{log: opts.Log.With(logx.String("handler", LogMessage))}
	if err := codec.RegisterFunc(reg, LogMessage, lm.run); err != nil {
		return err
	}

	wh := &webhook{
		log:     opts.Log.With(logx.String("handler", WebhookPost)),
		client:  opts.Client,
		timeout: opts.Timeout,
		allowed: map[string]struct{}{},
	}
	for _, h := range opts.AllowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			wh.allowed[h] = struct{}{}
		}
	}
	if opts.RatePerSec > 0 {
		burst := int(opts.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		wh.lim = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}
	return codec.RegisterFunc(reg, WebhookPost, wh.run)
}

// strictUnmarshal decodes one JSON value into v, rejecting unknown fields.
func strictUnmarshal(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data")
	}
	return nil
}
