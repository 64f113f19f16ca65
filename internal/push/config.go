package push

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	defaultUpstream  = "origin"
	defaultMaxPushes = 4
)

var validID = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// IsValidID reports whether id is usable as a repository identifier.
// IDs become path components under the view root and the record root,
// so path separators and traversal sequences are rejected.
func IsValidID(id string) bool {
	return id != "." && id != ".." && validID.MatchString(id)
}

// RepoConfig is an auxiliary struct for Config, one per bridged repository.
type RepoConfig struct {
	// Destinations are opaque push URLs. They are passed through to
	// "git push --mirror" without validation.
	Destinations []string `toml:"destinations"`
}

// Check validates the repository configuration.
func (repoConfig *RepoConfig) Check() error {
	if len(repoConfig.Destinations) == 0 {
		return errors.New("no destinations")
	}
	for _, destination := range repoConfig.Destinations {
		if strings.TrimSpace(destination) == "" {
			return errors.New("empty destination")
		}
	}
	return nil
}

// LogConfig represents slog configuration options.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// Apply configures the global slog logger based on the configuration.
func (logConfig *LogConfig) Apply() error {
	var level slog.Level
	switch strings.ToLower(logConfig.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return errors.New("invalid log level: " + logConfig.Level)
	}

	sink := os.Stderr
	if logConfig.File != "" {
		if !filepath.IsAbs(logConfig.File) {
			return errors.New("log file must be an absolute path: " + logConfig.File)
		}
		f, err := os.OpenFile(logConfig.File, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0640) // #nosec G304 - path comes from the operator's own config file
		if err != nil {
			return err
		}
		sink = f
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(logConfig.Format) {
	case "json":
		handler = slog.NewJSONHandler(sink, opts)
	case "plain", "", "text":
		handler = slog.NewTextHandler(sink, opts)
	default:
		return errors.New("invalid log format: " + logConfig.Format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// Config is a struct to read TOML configurations.
//
// Use https://github.com/BurntSushi/toml as follows:
//
//	config := push.NewConfig()
//	md, err := toml.DecodeFile("/path/to/config.toml", config)
//	if err != nil {
//	    ...
//	}
type Config struct {
	// ViewRoot is the directory holding one mirror working directory
	// per repository, laid out as <ViewRoot>/<repo-id>/git.
	ViewRoot string `toml:"view_root"`

	// RecordRoot is the directory holding fingerprint records, laid
	// out as <RecordRoot>/<repo-id>/<destination-fingerprint>.
	RecordRoot string `toml:"record_root"`

	// Upstream is the remote alias fetched before every push to force
	// the bridging product to synchronize its view of the repository.
	Upstream string `toml:"upstream"`

	// MaxPushes bounds how many repositories "sync" pushes in parallel.
	MaxPushes int `toml:"max_pushes"`

	Log   LogConfig              `toml:"log"`
	Repos map[string]*RepoConfig `toml:"repos"`
}

// Check validates the configuration.
func (c *Config) Check() error {
	if c.ViewRoot == "" {
		return errors.New("view_root is not set")
	}
	if !filepath.IsAbs(c.ViewRoot) {
		return errors.New("view_root must be an absolute path")
	}
	if c.RecordRoot == "" {
		return errors.New("record_root is not set")
	}
	if !filepath.IsAbs(c.RecordRoot) {
		return errors.New("record_root must be an absolute path")
	}
	if c.Upstream == "" {
		return errors.New("upstream is not set")
	}
	if c.MaxPushes < 1 {
		return errors.New("max_pushes must be at least 1")
	}
	return nil
}

// RepoDir returns the mirror working directory for a repository.
func (c *Config) RepoDir(repoID string) string {
	return filepath.Join(c.ViewRoot, repoID, "git")
}

// NewConfig creates Config with default values.
func NewConfig() *Config {
	return &Config{
		Upstream:  defaultUpstream,
		MaxPushes: defaultMaxPushes,
	}
}
