package config

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "durasched/pkg/logx"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
)

const (
	reloadDebounce     = 250 * time.Millisecond
	restartBackoffBase = 250 * time.Millisecond
	restartBackoffMax  = 5 * time.Second
)

// ConfigManager loads the config file and republishes it on change.
type ConfigManager struct {
	path string

	mu       sync.RWMutex
	cfg      *Config
	lastHash uint64

	// subsMu also guards against sending on a channel Unsubscribe is closing.
	subsMu sync.Mutex
	subs   []chan *Config

	log logx.Logger
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path, log: logx.Nop()}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log.With(logx.String("comp", "config"))
}

// Parse reads and strictly decodes the file. Unknown keys and trailing data
// are errors. The result is validated but not committed.
func (m *ConfigManager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return Decode(m.path, b)
}

// Decode parses data as the format implied by path's extension.
func Decode(path string, data []byte) (*Config, error) {
	jb, format, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, err
	}
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrapf(err, "decode %s config", format)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, errors.New("invalid config: trailing data")
		}
		return nil, errors.Wrap(err, "invalid config")
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (m *ConfigManager) Commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = hashConfig(cfg)
	m.mu.Unlock()
}

func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// publish delivers the newest config; a full subscriber loses its oldest
// pending config instead.
func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- cfg:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
			m.log.Debug("config update dropped (subscriber slow)", logx.Int("queue_cap", cap(ch)))
		}
	}
}

// reload parses the file and publishes it if it changed.
func (m *ConfigManager) reload() {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config reload rejected", logx.String("path", m.path), logx.Err(err))
		return
	}
	h := hashConfig(cfg)
	m.mu.RLock()
	unchanged := h != 0 && h == m.lastHash
	m.mu.RUnlock()
	if unchanged {
		m.log.Debug("config unchanged; skipping publish", logx.String("path", m.path))
		return
	}
	m.Commit(cfg)
	m.publish(cfg)
	m.log.Info("config reloaded", logx.String("path", m.path))
}

// Watch follows the config file until ctx is done. The parent directory is
// watched so editors that replace the file by rename are handled; a broken
// watcher is recreated with jittered backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	backoff := restartBackoffBase

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDebounce, m.reload)
	}

	for {
		err := m.watchOnce(ctx, dir, file, debounce)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = restartBackoffBase
		}
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		m.log.Warn("config watcher stopped; restarting", logx.String("dir", dir), logx.Duration("backoff", wait), logx.Err(err))
		backoff *= 2
		if backoff > restartBackoffMax {
			backoff = restartBackoffMax
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// watchOnce runs one fsnotify watcher until it breaks or ctx is done. A nil
// error means the watcher was healthy before it broke.
func (m *ConfigManager) watchOnce(ctx context.Context, dir, file string, changed func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "watcher init")
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return errors.Wrapf(err, "watch %s", dir)
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Chmod) != 0 {
				changed()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch overflow; forcing reload", logx.String("dir", dir))
				changed()
				continue
			}
			m.log.Warn("config watch error", logx.String("dir", dir), logx.Err(err))
		}
	}
}
