package config

import (
	"reflect"
	"sort"
	"strings"

	logx "durasched/pkg/logx"
)

// SummarizeConfigChange returns the changed sections, safe fields for logging
// them (never the store password or admin token), and the subset of sections that only take
// effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if strings.TrimSpace(oldCfg.Scheduler.Name) != strings.TrimSpace(newCfg.Scheduler.Name) {
		changed = append(changed, "scheduler")
		restart = append(restart, "scheduler")
		attrs = append(attrs, logx.String("scheduler.name", strings.TrimSpace(newCfg.Scheduler.Name)))
	}

	oldStore, newStore := oldCfg.Store, newCfg.Store
	passwordChanged := oldStore.Password != newStore.Password
	oldStore.Password, newStore.Password = "", ""
	if passwordChanged || oldStore != newStore {
		changed = append(changed, "store")
		restart = append(restart, "store")
		attrs = append(attrs,
			logx.String("store.driver", strings.TrimSpace(newStore.Driver)),
			logx.String("store.host", strings.TrimSpace(newStore.Host)),
			logx.Int("store.port", newStore.Port),
			logx.Bool("store.login_set", strings.TrimSpace(newStore.Login) != ""),
			logx.Bool("store.password_changed", passwordChanged),
			logx.Bool("store.path_set", strings.TrimSpace(newStore.Path) != ""),
		)
	}

	if oldCfg.Connection != newCfg.Connection {
		changed = append(changed, "connection")
		restart = append(restart, "connection")
		nc := newCfg.Connection
		attrs = append(attrs,
			logx.String("connection.retry_interval", strings.TrimSpace(nc.RetryInterval)),
			logx.Int("connection.max_attempts", nc.MaxAttempts),
			logx.Int("connection.reconnect_max_attempts", nc.ReconnectMaxAttempts),
			logx.String("connection.health_interval", strings.TrimSpace(nc.HealthInterval)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Admin, newCfg.Admin) {
		changed = append(changed, "admin")
		na := newCfg.Admin
		attrs = append(attrs,
			logx.Bool("admin.enabled", na.Enabled == nil || *na.Enabled),
			logx.String("admin.addr", strings.TrimSpace(na.Addr)),
			logx.Bool("admin.token_set", strings.TrimSpace(na.Token) != ""),
			logx.Bool("admin.token_changed", oldCfg.Admin.Token != na.Token),
			logx.Bool("admin.pprof", na.Pprof),
		)
	}

	if !reflect.DeepEqual(derefHandlers(oldCfg.Handlers), derefHandlers(newCfg.Handlers)) {
		changed = append(changed, "handlers")
		restart = append(restart, "handlers")
		nh := derefHandlers(newCfg.Handlers)
		attrs = append(attrs,
			logx.String("handlers.webhook.timeout", strings.TrimSpace(nh.Webhook.Timeout)),
			logx.Int("handlers.webhook.allowed_hosts", len(nh.Webhook.AllowedHosts)),
			logx.Any("handlers.webhook.rate_per_sec", nh.Webhook.RatePerSec),
		)
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}

func derefHandlers(h *HandlersConfig) HandlersConfig {
	if h == nil {
		return HandlersConfig{}
	}
	return *h
}
