package config

import (
	"net"
	"strings"
	"time"

	"durasched/internal/admin"
	"durasched/internal/conn"
	"durasched/internal/handlers"
	"durasched/internal/scheduler"
	"durasched/internal/storage"
	logx "durasched/pkg/logx"

	"github.com/cockroachdb/errors"
)

const DefaultWebhookTimeout = handlers.DefaultTimeout

// Validate checks everything Resolve would, without building anything.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Scheduler.Name) == "" {
		return errors.WithHint(errors.New("scheduler.name is required"), `set scheduler.name, e.g. "default"`)
	}
	if _, err := cfg.Store.Resolve(); err != nil {
		return err
	}
	if _, err := cfg.Connection.Resolve(); err != nil {
		return err
	}
	if _, err := cfg.Admin.Resolve(); err != nil {
		return err
	}
	if _, err := cfg.HandlerOptions(logx.Nop()); err != nil {
		return err
	}
	return nil
}

// Resolve converts the store section into driver settings.
func (c StoreConfig) Resolve() (storage.Config, error) {
	busy, err := ParseDurationField("store.busy_timeout", c.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	dial, err := ParseDurationField("store.dial_timeout", c.DialTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	if c.Port < 0 || c.Port > 65535 {
		return storage.Config{}, errors.Newf("store.port: out of range: %d", c.Port)
	}
	out := storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(c.Driver)),
		Host:        strings.TrimSpace(c.Host),
		Port:        c.Port,
		Login:       c.Login,
		Password:    c.Password,
		DB:          c.DB,
		KeyPrefix:   strings.TrimSpace(c.KeyPrefix),
		Path:        strings.TrimSpace(c.Path),
		BusyTimeout: busy,
		DialTimeout: dial,
	}
	if _, err := storage.NewDialer(out, logx.Nop()); err != nil {
		return storage.Config{}, errors.Wrap(err, "store")
	}
	return out, nil
}

// ResolvedConnection is the parsed connection section. Zero values take the
// defaults of conn.Policy and scheduler.Config.
type ResolvedConnection struct {
	Policy    conn.Policy
	OpTimeout time.Duration
}

func (c ConnectionConfig) Resolve() (ResolvedConnection, error) {
	var (
		out ResolvedConnection
		err error
	)
	if out.Policy.RetryInterval, err = ParseDurationField("connection.retry_interval", c.RetryInterval); err != nil {
		return out, err
	}
	if out.Policy.HealthInterval, err = parseSignedDuration("connection.health_interval", c.HealthInterval); err != nil {
		return out, err
	}
	if out.Policy.PingTimeout, err = ParseDurationField("connection.ping_timeout", c.PingTimeout); err != nil {
		return out, err
	}
	if out.OpTimeout, err = ParseDurationField("connection.op_timeout", c.OpTimeout); err != nil {
		return out, err
	}
	if c.MaxAttempts < 0 {
		return out, errors.New("connection.max_attempts must be >= 0")
	}
	if c.ReconnectMaxAttempts < 0 {
		return out, errors.New("connection.reconnect_max_attempts must be >= 0")
	}
	out.Policy.MaxAttempts = c.MaxAttempts
	out.Policy.ReconnectMaxAttempts = c.ReconnectMaxAttempts
	return out, nil
}

// SchedulerSettings builds the scheduler settings from cfg.
func (cfg *Config) SchedulerSettings() (scheduler.Config, error) {
	st, err := cfg.Store.Resolve()
	if err != nil {
		return scheduler.Config{}, err
	}
	rc, err := cfg.Connection.Resolve()
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{Store: st, Connection: rc.Policy, OpTimeout: rc.OpTimeout}, nil
}

// Resolve converts the admin section into server settings.
func (c AdminConfig) Resolve() (admin.Config, error) {
	out := admin.Config{
		Enabled:       c.Enabled == nil || *c.Enabled,
		Addr:          strings.TrimSpace(c.Addr),
		Token:         strings.TrimSpace(c.Token),
		AllowInsecure: c.AllowInsecure,
		Pprof:         c.Pprof,
	}
	if out.Addr == "" {
		out.Addr = admin.DefaultAddr
	}
	if _, _, err := net.SplitHostPort(out.Addr); err != nil {
		return admin.Config{}, errors.Wrapf(err, "admin.addr: invalid %q", out.Addr)
	}
	var err error
	if out.ReadTimeout, err = ParseDurationOrDefault("admin.read_timeout", c.ReadTimeout, 10*time.Second); err != nil {
		return admin.Config{}, err
	}
	if out.WriteTimeout, err = ParseDurationOrDefault("admin.write_timeout", c.WriteTimeout, 30*time.Second); err != nil {
		return admin.Config{}, err
	}
	if out.IdleTimeout, err = ParseDurationOrDefault("admin.idle_timeout", c.IdleTimeout, 60*time.Second); err != nil {
		return admin.Config{}, err
	}
	return out, nil
}

func (c LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

func (cfg *Config) WebhookTimeout() (time.Duration, error) {
	if cfg.Handlers == nil {
		return DefaultWebhookTimeout, nil
	}
	return ParseDurationOrDefault("handlers.webhook.timeout", cfg.Handlers.Webhook.Timeout, DefaultWebhookTimeout)
}

func (cfg *Config) WebhookAllowedHosts() []string {
	if cfg.Handlers == nil {
		return nil
	}
	return cfg.Handlers.Webhook.AllowedHosts
}

// HandlerOptions builds the built-in handler settings from cfg.
func (cfg *Config) HandlerOptions(log logx.Logger) (handlers.Options, error) {
	timeout, err := cfg.WebhookTimeout()
	if err != nil {
		return handlers.Options{}, err
	}
	var rps float64
	if cfg.Handlers != nil {
		rps = cfg.Handlers.Webhook.RatePerSec
	}
	if rps < 0 {
		return handlers.Options{}, errors.New("handlers.webhook.rate_per_sec must be >= 0")
	}
	return handlers.Options{
		Log:          log,
		Timeout:      timeout,
		AllowedHosts: cfg.WebhookAllowedHosts(),
		RatePerSec:   rps,
	}, nil
}
