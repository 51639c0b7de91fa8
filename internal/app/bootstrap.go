package app

import (
	"io/fs"

	"durasched/internal/config"
	logx "durasched/pkg/logx"

	"github.com/cockroachdb/errors"
)

// loadConfig loads path, falling back to config.Default() when the file
// does not exist. The watcher picks the file up once it is created.
func loadConfig(cfgm *config.ConfigManager, bootLog logx.Logger) (*config.Config, error) {
	cfg, err := cfgm.Load()
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrapf(err, "load config %s", cfgm.Path())
	}
	bootLog.Warn("config file not found; using defaults", logx.String("path", cfgm.Path()))
	cfg = config.Default()
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	cfgm.Commit(cfg)
	return cfg, nil
}

// LoadConfig is loadConfig for callers that only need the settings (the CLI
// admin subcommands).
func LoadConfig(path string) (*config.Config, error) {
	return loadConfig(config.NewConfigManager(path), logx.Nop())
}
