// Package config loads the oca configuration file.
//
// The file lives at .oca/config.yaml. The working directory is searched
// first, then the home directory. Without any file the defaults apply,
// rooted in the home directory.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DirName is the per-project configuration directory.
	DirName = ".oca"

	// FileName is the configuration file inside DirName.
	FileName = "config.yaml"

	// RepositoryDir holds the local object store inside the repository path.
	RepositoryDir = "oca_repository"

	DefaultPublishTimeout = 30 * time.Second
	DefaultWorkers        = 4
	DefaultCompression    = "zstd"
	DefaultLogLevel       = "info"
)

var (
	compressions = []string{"none", "lz4", "zstd"}
	logLevels    = []string{"debug", "info", "warn", "error"}
)

// Error reports a problem with a configuration file.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return "config: " + e.Err.Error()
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Config is the effective configuration.
type Config struct {
	// LocalRepositoryPath is the directory holding the local object store.
	LocalRepositoryPath string `yaml:"local_repository_path"`

	// RemoteRepoURL is the default publish target. Always ends with "/".
	RemoteRepoURL string `yaml:"remote_repo_url,omitempty"`

	PublishTimeout time.Duration `yaml:"publish_timeout"`
	Workers        int           `yaml:"workers"`

	// Compression is the storage payload codec: none, lz4 or zstd.
	Compression string `yaml:"compression"`

	LogLevel string `yaml:"log_level"`

	// Path is the file the configuration was read from, empty for defaults.
	Path string `yaml:"-"`
}

// Default returns the configuration rooted at dir.
func Default(dir string) *Config {
	return &Config{
		LocalRepositoryPath: filepath.Join(dir, DirName),
		PublishTimeout:      DefaultPublishTimeout,
		Workers:             DefaultWorkers,
		Compression:         DefaultCompression,
		LogLevel:            DefaultLogLevel,
	}
}

// RepositoryPath is the directory of the local object store.
func (c *Config) RepositoryPath() string {
	return filepath.Join(c.LocalRepositoryPath, RepositoryDir)
}

// Load finds and reads the configuration for a command run in dir.
func Load(dir string) (*Config, error) {
	candidates := []string{filepath.Join(dir, DirName, FileName)}
	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, DirName, FileName))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}

	root := home
	if root == "" {
		root = dir
	}
	cfg := Default(root)
	return cfg, cfg.Validate()
}

// LoadFile reads one configuration file over the defaults. Relative paths
// in the file are resolved against the directory containing .oca.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	root := filepath.Dir(filepath.Dir(path))
	cfg := Default(root)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	cfg.Path = path
	if cfg.LocalRepositoryPath != "" && !filepath.IsAbs(cfg.LocalRepositoryPath) {
		cfg.LocalRepositoryPath = filepath.Join(root, cfg.LocalRepositoryPath)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every value and normalizes the remote URL.
func (c *Config) Validate() error {
	var errs []error
	if c.LocalRepositoryPath == "" {
		errs = append(errs, errors.New("local_repository_path is required"))
	}
	if c.PublishTimeout <= 0 {
		errs = append(errs, fmt.Errorf("publish_timeout must be positive, got %s", c.PublishTimeout))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if !slices.Contains(compressions, c.Compression) {
		errs = append(errs, fmt.Errorf("compression must be one of %s, got %q", strings.Join(compressions, ", "), c.Compression))
	}
	if !slices.Contains(logLevels, c.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level must be one of %s, got %q", strings.Join(logLevels, ", "), c.LogLevel))
	}
	if c.RemoteRepoURL != "" {
		normalized, err := NormalizeURL(c.RemoteRepoURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("remote_repo_url: %w", err))
		} else {
			c.RemoteRepoURL = normalized
		}
	}
	if len(errs) > 0 {
		return &Error{Path: c.Path, Err: errors.Join(errs...)}
	}
	return nil
}

// NormalizeURL checks that s is an http(s) URL and makes it end with "/".
func NormalizeURL(s string) (string, error) {
	u, err := url.Parse(s)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%q is not an http(s) URL", s)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%q has no host", s)
	}
	if !strings.HasSuffix(s, "/") {
		s += "/"
	}
	return s, nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Init writes a default configuration into dir/.oca and creates the local
// repository directory. An existing file is loaded instead of overwritten.
func Init(dir string) (cfg *Config, created bool, err error) {
	path := filepath.Join(dir, DirName, FileName)
	if _, err := os.Stat(path); err == nil {
		cfg, err := LoadFile(path)
		return cfg, false, err
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, &Error{Path: path, Err: err}
	}

	cfg = Default(dir)
	cfg.Path = path
	if err := os.MkdirAll(cfg.RepositoryPath(), 0o755); err != nil {
		return nil, false, &Error{Path: path, Err: err}
	}
	data, err := cfg.Marshal()
	if err != nil {
		return nil, false, &Error{Path: path, Err: err}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, false, &Error{Path: path, Err: err}
	}
	return cfg, true, nil
}
