package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	xlog "github.com/yoyo3287258/wol-gateway/internal/log"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultYAML []byte

// Manager owns the current configuration and reloads it on demand.
type Manager struct {
	configPath string
	mode       Mode

	config *Config
	// fromFile is false when the embedded defaults were used
	fromFile bool

	mu sync.RWMutex

	// onReload callbacks receive the new configuration
	onReload []func(*Config)

	logger zerolog.Logger
}

// NewManager creates a manager. configPath may point to a missing file; the
// embedded environment-driven defaults are used then.
func NewManager(configPath string, mode Mode) *Manager {
	return &Manager{
		configPath: configPath,
		mode:       mode,
		logger:     xlog.WithComponent("config"),
	}
}

// Load reads and validates the configuration.
func (m *Manager) Load() error {
	config, fromFile, err := m.read()
	if err != nil {
		return err
	}
	if err := config.Validate(m.mode); err != nil {
		return err
	}

	m.mu.Lock()
	m.config = config
	m.fromFile = fromFile
	m.mu.Unlock()
	return nil
}

func (m *Manager) read() (*Config, bool, error) {
	if m.configPath != "" {
		data, err := os.ReadFile(m.configPath)
		switch {
		case err == nil:
			config, err := parse(data)
			if err != nil {
				return nil, false, fmt.Errorf("parse %s: %w", m.configPath, err)
			}
			return config, true, nil
		case errors.Is(err, fs.ErrNotExist):
			m.logger.Debug().Str("path", m.configPath).Msg("config file not found, using environment")
		default:
			return nil, false, fmt.Errorf("read %s: %w", m.configPath, err)
		}
	}

	config, err := parse(defaultYAML)
	if err != nil {
		return nil, false, fmt.Errorf("parse environment config: %w", err)
	}
	return config, false, nil
}

// parse decodes YAML, expands environment variables in scalar values and
// applies defaults. Expansion happens on the parsed tree, so variable values
// are never read as YAML syntax.
func parse(data []byte) (*Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	expandNode(&doc)

	var config Config
	if doc.Kind != 0 {
		if err := doc.Decode(&config); err != nil {
			return nil, err
		}
	}

	setDefaults(&config)
	return &config, nil
}

// expandNode expands scalar values in place. Mapping keys are left alone.
func expandNode(n *yaml.Node) {
	switch n.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, child := range n.Content {
			expandNode(child)
		}
	case yaml.MappingNode:
		for i := 1; i < len(n.Content); i += 2 {
			expandNode(n.Content[i])
		}
	case yaml.ScalarNode:
		expanded := expandEnvVars(n.Value)
		if expanded == n.Value {
			return
		}
		n.Value = expanded
		// a plain ${PORT:-8000} must still decode as an int
		if n.Style == 0 {
			n.Tag = ""
		}
	}
}

// Reload re-reads the configuration. On failure the current one is kept.
func (m *Manager) Reload() error {
	config, fromFile, err := m.read()
	if err != nil {
		m.logger.Error().Err(err).Str(xlog.FieldEvent, "config.reload_failed").Msg("failed to load configuration")
		return err
	}
	if err := config.Validate(m.mode); err != nil {
		m.logger.Error().Err(err).Str(xlog.FieldEvent, "config.validation_failed").Msg("new configuration failed validation")
		return err
	}

	m.mu.Lock()
	m.config = config
	m.fromFile = fromFile
	callbacks := append([]func(*Config){}, m.onReload...)
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(config)
	}

	m.logger.Info().Str(xlog.FieldEvent, "config.reloaded").Msg("configuration reloaded")
	return nil
}

// OnReload registers a callback run after every successful reload.
func (m *Manager) OnReload(callback func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReload = append(m.onReload, callback)
}

// WatchChanges reloads when the config file is written. The returned stop
// function closes the watcher. Without a config file it is a no-op.
func (m *Manager) WatchChanges() (stop func(), err error) {
	m.mu.RLock()
	fromFile := m.fromFile
	m.mu.RUnlock()
	if !fromFile {
		return func() {}, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					// let the writer finish
					time.Sleep(100 * time.Millisecond)
					_ = m.Reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.Warn().Err(err).Str(xlog.FieldEvent, "config.watch_error").Msg("config watcher error")
			}
		}
	}()

	if err := watcher.Add(m.configPath); err != nil {
		watcher.Close()
		<-done
		return nil, fmt.Errorf("watch %s: %w", m.configPath, err)
	}

	return func() {
		watcher.Close()
		<-done
	}, nil
}

// Get returns the current configuration. Callers must not modify it.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Mode returns the mode the configuration was validated for.
func (m *Manager) Mode() Mode {
	return m.mode
}
