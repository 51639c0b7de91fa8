package storage

import (
	"context"
	"strings"

	logx "durasched/pkg/logx"

	"github.com/cockroachdb/errors"
)

// Open dials the configured store once.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dial, err := NewDialer(cfg, log)
	if err != nil {
		return nil, err
	}
	return dial(ctx)
}

// NewDialer validates cfg and returns a Dialer for its driver.
//
// The memory driver hands out one shared instance so data survives reconnects
// within the process.
func NewDialer(cfg Config, log logx.Logger) (Dialer, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("driver", driver))

	switch driver {
	case "", "redis":
		cfg.Driver = "redis"
		return func(ctx context.Context) (Store, error) { return openRedis(ctx, cfg, log) }, nil
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, errors.New("store.path is required for sqlite driver")
		}
		return func(ctx context.Context) (Store, error) { return openSQLite(ctx, cfg, log) }, nil
	case "file":
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, errors.New("store.path is required for file driver")
		}
		return func(ctx context.Context) (Store, error) { return openFile(cfg, log) }, nil
	case "memory":
		mem := NewMemory()
		return func(ctx context.Context) (Store, error) { return mem, nil }, nil
	default:
		return nil, errors.Newf("unknown store driver: %s", driver)
	}
}
