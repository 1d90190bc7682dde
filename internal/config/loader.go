package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	appErrors "analytics-hub-backend/pkg/errors"
)

// FileLoader decodes one configuration file format.
type FileLoader interface {
	Load(reader io.Reader, target interface{}) error
	Extensions() []string
}

// Loader builds a Config from, in increasing priority: defaults, the
// base and environment files under a directory (or one explicit file),
// then environment variables. The result is validated.
type Loader struct {
	// file is an explicit configuration file; when set the directory is
	// not searched and the file must exist.
	file string
	// dir is searched for base.<ext> and <environment>.<ext>.
	dir string
	// environ overrides the process environment, mainly for tests.
	environ map[string]string

	loaders map[string]FileLoader
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithFile loads exactly path instead of searching the directory.
func WithFile(path string) LoaderOption {
	return func(l *Loader) { l.file = path }
}

// WithDir sets the directory searched for layered files.
func WithDir(dir string) LoaderOption {
	return func(l *Loader) { l.dir = dir }
}

// WithEnviron replaces the process environment as the variable source.
func WithEnviron(environ map[string]string) LoaderOption {
	return func(l *Loader) { l.environ = environ }
}

// NewLoader creates a loader with YAML and JSON support.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		dir:     "config",
		loaders: make(map[string]FileLoader),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.RegisterLoader(&YAMLLoader{})
	l.RegisterLoader(&JSONLoader{})
	return l
}

// RegisterLoader registers a decoder for its file extensions.
func (l *Loader) RegisterLoader(loader FileLoader) {
	for _, ext := range loader.Extensions() {
		l.loaders[ext] = loader
	}
}

// Load assembles and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()
	sources := []string{"defaults"}

	if l.file != "" {
		if err := l.loadFile(l.file, cfg); err != nil {
			return nil, err
		}
		sources = append(sources, l.file)
	} else {
		envName := strings.ToLower(l.lookup("ENVIRONMENT"))
		if envName == "" {
			envName = string(cfg.Environment)
		}
		for _, name := range []string{"base", envName} {
			path, ok := l.find(name)
			if !ok {
				continue
			}
			if err := l.loadFile(path, cfg); err != nil {
				return nil, err
			}
			sources = append(sources, path)
		}
	}

	opts := env.Options{}
	if l.environ != nil {
		opts.Environment = l.environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, appErrors.NewValidation("failed to parse environment variables", err)
	}
	sources = append(sources, "environment")
	cfg.LoadedFrom = sources

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Files returns the configuration files Load would read, for watching.
func (l *Loader) Files() []string {
	if l.file != "" {
		return []string{l.file}
	}
	var files []string
	for _, name := range []string{"base", strings.ToLower(l.lookup("ENVIRONMENT"))} {
		if name == "" {
			name = string(Development)
		}
		if path, ok := l.find(name); ok {
			files = append(files, path)
		}
	}
	return files
}

func (l *Loader) find(name string) (string, bool) {
	for _, ext := range []string{"yaml", "yml", "json"} {
		path := filepath.Join(l.dir, name+"."+ext)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

func (l *Loader) loadFile(path string, cfg *Config) error {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	loader, ok := l.loaders[ext]
	if !ok {
		return appErrors.NewValidation(fmt.Sprintf("unsupported config file type %q", path), nil)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	if err := loader.Load(f, cfg); err != nil {
		return appErrors.NewValidation(fmt.Sprintf("failed to parse %s", path), err)
	}
	return nil
}

func (l *Loader) lookup(key string) string {
	if l.environ != nil {
		return l.environ[key]
	}
	return os.Getenv(key)
}

// YAMLLoader loads configuration from YAML files.
type YAMLLoader struct{}

func (y *YAMLLoader) Load(reader io.Reader, target interface{}) error {
	err := yaml.NewDecoder(reader).Decode(target)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (y *YAMLLoader) Extensions() []string {
	return []string{"yaml", "yml"}
}

// JSONLoader loads configuration from JSON files. The document is
// re-encoded as YAML before decoding so that both formats share field
// names and duration syntax such as "30s".
type JSONLoader struct{}

func (j *JSONLoader) Load(reader io.Reader, target interface{}) error {
	var doc interface{}
	if err := json.NewDecoder(reader).Decode(&doc); err != nil {
		return err
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	return yaml.NewDecoder(bytes.NewReader(data)).Decode(target)
}

func (j *JSONLoader) Extensions() []string {
	return []string{"json"}
}

// LoaderFor returns a loader for path, or for the CONFIG_FILE variable, or
// for the config directory when neither is set.
func LoaderFor(path string) *Loader {
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		return NewLoader(WithFile(path))
	}
	return NewLoader()
}

// Load is LoaderFor(path).Load().
func Load(path string) (*Config, error) {
	return LoaderFor(path).Load()
}
