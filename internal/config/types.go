package config

// Config is the on-disk daemon configuration (JSON, or YAML by extension).
//
// Durations are Go duration strings ("500ms", "3s", "1m").
type Config struct {
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Store      StoreConfig      `json:"store"`
	Connection ConnectionConfig `json:"connection"`
	Logging    LoggingConfig    `json:"logging"`
	Admin      AdminConfig      `json:"admin"`
	Handlers   *HandlersConfig  `json:"handlers,omitempty"`
}

type SchedulerConfig struct {
	// Name is the job namespace. Blank is rejected.
	Name string `json:"name"`
}

// StoreConfig selects and addresses the job store.
//
// Example:
//
//	"store": { "driver": "redis", "host": "127.0.0.1", "port": 6379 }
//	"store": { "driver": "sqlite", "path": "./data/jobs.db" }
type StoreConfig struct {
	Driver string `json:"driver"`

	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Login    string `json:"login,omitempty"`
	Password string `json:"password,omitempty"` // never logged
	DB       int    `json:"db,omitempty"`

	// KeyPrefix namespaces redis keys (default "durasched").
	KeyPrefix string `json:"key_prefix,omitempty"`

	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	DialTimeout string `json:"dial_timeout,omitempty"`
}

// ConnectionConfig controls connect/reconnect.
//
// Defaults (when omitted/zero):
//   - retry_interval: "3s"
//   - max_attempts: 10000 (initial connect only)
//   - reconnect_max_attempts: 0 (retry until shutdown)
//   - health_interval: "5s"; "-1s" disables scheduled probing
//   - ping_timeout: "2s"
//   - op_timeout: "10s"
type ConnectionConfig struct {
	RetryInterval        string `json:"retry_interval,omitempty"`
	MaxAttempts          int    `json:"max_attempts,omitempty"`
	ReconnectMaxAttempts int    `json:"reconnect_max_attempts,omitempty"`
	HealthInterval       string `json:"health_interval,omitempty"`
	PingTimeout          string `json:"ping_timeout,omitempty"`
	OpTimeout            string `json:"op_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// AdminConfig controls the daemon's HTTP job API; the CLI reads the same
// section to find it.
//
// Defaults (when omitted/zero):
//   - enabled: true
//   - addr: "127.0.0.1:8089"
//   - read_timeout: "10s", write_timeout: "30s", idle_timeout: "60s"
//
// A non-loopback addr requires token or allow_insecure.
type AdminConfig struct {
	Enabled       *bool  `json:"enabled,omitempty"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // never logged
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"` // mount /debug/pprof
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}

// HandlersConfig tunes the built-in handlers.
type HandlersConfig struct {
	Webhook WebhookConfig `json:"webhook"`
}

type WebhookConfig struct {
	// Timeout bounds one POST (default "10s").
	Timeout string `json:"timeout,omitempty"`
	// AllowedHosts restricts target hosts; empty allows any.
	AllowedHosts []string `json:"allowed_hosts,omitempty"`
	// RatePerSec caps outgoing POSTs; 0 means unlimited.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

// Default is used when no config file exists.
func Default() *Config {
	return &Config{
		Scheduler: SchedulerConfig{Name: "default"},
		Store:     StoreConfig{Driver: "redis", Host: "localhost", Port: 6379},
		Logging:   LoggingConfig{Level: "info", Console: true},
	}
}
