// Package pconfig is the typed configuration registry for plugins.
//
// Each config-bearing plugin registers a prototype carrying its defaults.
// Load strict-decodes <dir>/<name>.toml over the prototype, validates the
// result, and publishes it into the dependency container. Loaded values
// are immutable by convention: nothing mutates a config after Load.
package pconfig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chiobot/chio/deps"
)

var (
	// ErrConfigNameMissing is reported when a prototype has no name.
	ErrConfigNameMissing = errors.New("config name missing")
	// ErrDuplicateConfig is reported when two different prototypes claim
	// the same name.
	ErrDuplicateConfig = errors.New("duplicate config name")
	// ErrAlreadyRegistered is reported when one prototype is enrolled twice.
	ErrAlreadyRegistered = errors.New("config already registered")
	// ErrNotRegistered is reported by Get for unknown names.
	ErrNotRegistered = errors.New("config not registered")
	// ErrLoadFailed is reported by Load when any variant failed to load.
	ErrLoadFailed = errors.New("config load failed")
)

// Config is one plugin's configuration variant. The registered value
// carries the defaults; decoding fills it in place.
type Config interface {
	// ConfigName is the unique document name; the value is loaded from
	// <config path>/<name>.toml.
	ConfigName() string
	// Validate checks the decoded value.
	Validate() error
	// Publish installs the loaded value into the container under the
	// variant's own dependency key.
	Publish(c *deps.Container)
}

// Manager maps config names to loaded values.
type Manager struct {
	protos map[string]Config
	order  []string
	loaded map[string]Config
}

// NewManager creates an empty config registry.
func NewManager() *Manager {
	return &Manager{
		protos: make(map[string]Config),
		loaded: make(map[string]Config),
	}
}

// Register enrols a config prototype for the next Load.
func (m *Manager) Register(proto Config) error {
	name := proto.ConfigName()
	if name == "" {
		return fmt.Errorf("%w: %T", ErrConfigNameMissing, proto)
	}
	if got, ok := m.protos[name]; ok {
		if got == proto {
			return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
		}
		return fmt.Errorf("%w: %s", ErrDuplicateConfig, name)
	}
	m.protos[name] = proto
	m.order = append(m.order, name)
	return nil
}

// Unregister removes an enrolled prototype before Load. Used by the
// plugin manager to roll back a failed attach.
func (m *Manager) Unregister(name string) {
	if _, ok := m.protos[name]; !ok {
		return
	}
	delete(m.protos, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Load materialises every enrolled variant from dir and publishes the
// results into c. A missing file keeps the registered defaults with a
// warning; a decode, unknown-field, or validation failure is collected.
// If anything failed, every offending name and path is logged and
// ErrLoadFailed is returned; the enrolment list is kept so a corrected
// Load can be retried. On success the enrolment list is cleared.
func (m *Manager) Load(ctx context.Context, dir string, c *deps.Container) error {
	type failure struct {
		name, path string
		err        error
	}
	var failed []failure
	done := make(map[string]Config, len(m.order))
	for _, name := range m.order {
		proto := m.protos[name]
		path := filepath.Join(dir, name+".toml")
		switch md, err := toml.DecodeFile(path, proto); {
		case errors.Is(err, os.ErrNotExist):
			slog.WarnContext(ctx, "no config file, using defaults",
				slog.String("config", name),
				slog.String("path", path),
			)
		case err != nil:
			failed = append(failed, failure{name, path, err})
			continue
		case len(md.Undecoded()) > 0:
			err := fmt.Errorf("unknown keys %v", md.Undecoded())
			failed = append(failed, failure{name, path, err})
			continue
		}
		if err := proto.Validate(); err != nil {
			failed = append(failed, failure{name, path, err})
			continue
		}
		done[name] = proto
	}
	if len(failed) > 0 {
		for _, f := range failed {
			slog.ErrorContext(ctx, "couldn't load plugin config",
				slog.String("config", f.name),
				slog.String("path", f.path),
				slog.Any("err", f.err),
			)
		}
		return fmt.Errorf("%w: %d of %d variants", ErrLoadFailed, len(failed), len(m.order))
	}
	for _, name := range m.order {
		cfg := done[name]
		cfg.Publish(c)
		m.loaded[name] = cfg
	}
	m.protos = make(map[string]Config)
	m.order = nil
	return nil
}

// Get returns the loaded value for a name.
func (m *Manager) Get(name string) (Config, error) {
	cfg, ok := m.loaded[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	return cfg, nil
}
