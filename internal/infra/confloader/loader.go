package confloader

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the default environment variable prefix.
const DefaultEnvPrefix = "CTS_"

// envLevelSeparator separates nesting levels in environment variable names.
const envLevelSeparator = "__"

// Loader loads configuration from multiple sources.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
	defaults  map[string]any
}

// Option configures a Loader.
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithConfigFile sets the configuration file path.
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
	}
}

// WithDefaults sets the lowest-priority values, as a nested map keyed like
// the file.
func WithDefaults(defaults map[string]any) Option {
	return func(l *Loader) {
		l.defaults = defaults
	}
}

// NewLoader creates a new configuration loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FilePath returns the configured file path, "" when none.
func (l *Loader) FilePath() string {
	return l.filePath
}

// Load reads defaults, the file and the environment in that order and
// unmarshals the result into target. Call it again to reload; earlier
// values are discarded.
func (l *Loader) Load(target any) error {
	l.k = koanf.New(".")

	if l.defaults != nil {
		if err := l.LoadMap(l.defaults); err != nil {
			return fmt.Errorf("load defaults: %w", err)
		}
	}
	if err := l.LoadFile(l.filePath); err != nil {
		return fmt.Errorf("load config file: %w", err)
	}
	if err := l.LoadEnv(); err != nil {
		return err
	}
	if err := l.Unmarshal(target); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

// LoadFile merges a YAML file. An empty path is a no-op.
func (l *Loader) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	if err := l.k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("load file %s: %w", path, err)
	}
	return nil
}

// LoadEnv merges environment variables carrying the prefix.
func (l *Loader) LoadEnv() error {
	provider := env.Provider(l.envPrefix, ".", func(s string) string {
		return envKey(l.envPrefix, s)
	})
	if err := l.k.Load(provider, nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

// envKey maps CTS_SECTION__SOME_KEY to section.some_key.
func envKey(prefix, name string) string {
	name = strings.ToLower(strings.TrimPrefix(name, prefix))
	return strings.ReplaceAll(name, envLevelSeparator, ".")
}

// LoadMap merges a nested map (flags or tests).
func (l *Loader) LoadMap(data map[string]any) error {
	if err := l.k.Load(mapProvider(data), nil); err != nil {
		return fmt.Errorf("load map: %w", err)
	}
	return nil
}

// Set overrides one dotted key.
func (l *Loader) Set(key string, value any) error {
	return l.k.Set(key, value)
}

// Unmarshal decodes the merged configuration into target using koanf tags.
func (l *Loader) Unmarshal(target any) error {
	return l.k.Unmarshal("", target)
}

// Get returns a value by dotted key.
func (l *Loader) Get(key string) any {
	return l.k.Get(key)
}

// GetString returns a string value.
func (l *Loader) GetString(key string) string {
	return l.k.String(key)
}

// All returns the merged configuration as a flat map.
func (l *Loader) All() map[string]any {
	return l.k.All()
}
