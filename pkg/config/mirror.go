package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ghodss/yaml"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/sidkik/mirrord/pkg/errors"
)

const (
	// DefaultConfigPath is where mirrord looks for a config file when no path
	// is given.
	DefaultConfigPath = "mirrord.yaml"

	// DefaultInterval is how often the replica is reconciled when no changes
	// are detected.
	DefaultInterval = 10 * time.Second

	// InitialConfigVersion is the first version of the mirrord config. Config
	// files that do not specify a version will default to this version.
	InitialConfigVersion = "v1alpha1"

	// SupportedConfigVersion is the config version understood by the current
	// binary.
	SupportedConfigVersion = "v1alpha1"
)

// Environment variables that override the config file.
const (
	SourceEnvKey         = "MIRRORD_SOURCE"
	ReplicaEnvKey        = "MIRRORD_REPLICA"
	IntervalEnvKey       = "MIRRORD_INTERVAL"
	LogFileEnvKey        = "MIRRORD_LOG_FILE"
	MetricsAddressEnvKey = "MIRRORD_METRICS_ADDRESS"
)

// Config describes what to mirror, and how.
type Config struct {
	Version string `json:"version,omitempty"`

	// Source is the root of the tree that's mirrored.
	Source string `json:"source"`

	// Replica is the root of the tree that's kept in sync with Source.
	Replica string `json:"replica"`

	// Interval is the period of the safety-net timer that triggers syncs
	// even if no changes are detected.
	Interval Duration `json:"interval,omitempty"`

	// PruneEmptyDirs removes directories from the replica once they're
	// empty and no longer exist in the source.
	PruneEmptyDirs bool `json:"pruneEmptyDirs"`

	// QuickCheck treats files with the same size, mode and modification
	// time as identical without comparing their contents.
	QuickCheck bool `json:"quickCheck,omitempty"`

	// LogFile is a path that log records are appended to in addition to
	// stderr.
	LogFile string `json:"logFile,omitempty"`

	// MetricsAddress is the address to serve Prometheus metrics on. Metrics
	// aren't served if it's empty.
	MetricsAddress string `json:"metricsAddress,omitempty"`
}

func (c Config) getVersion() string {
	return c.Version
}

// Default returns the configuration used when nothing is specified. The
// source and replica default to directories in the working directory.
func Default() Config {
	return Config{
		Version:        InitialConfigVersion,
		Source:         "source",
		Replica:        "replica",
		Interval:       Duration{DefaultInterval},
		PruneEmptyDirs: true,
	}
}

// Load builds the configuration by applying the config file at `path` and
// then the environment variables on top of the defaults. If `path` is empty,
// DefaultConfigPath is used if it exists.
func Load(path string, getenv func(string) string) (Config, error) {
	config := Default()

	if path == "" {
		exists, err := afero.Exists(fs, DefaultConfigPath)
		if err != nil {
			return Config{}, errors.WithContext(err, "check default config")
		}
		if exists {
			path = DefaultConfigPath
		}
	}

	if path != "" {
		var err error
		config, err = Parse(path)
		if err != nil {
			return Config{}, err
		}
	}

	if err := config.applyEnv(getenv); err != nil {
		return Config{}, errors.WithContext(err, "parse environment")
	}
	return config, nil
}

// Parse parses the config file at `path`. Fields that aren't set in the file
// keep their default values. Relative paths are evaluated relative to the
// directory containing the config file.
func Parse(path string) (Config, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return Config{}, errors.WithContext(err, "expand config path")
	}

	config := Default()
	config.Source = ""
	config.Replica = ""
	if err := parseConfig(path, &config, SupportedConfigVersion); err != nil {
		if _, ok := err.(errors.FileNotFound); ok {
			return Config{}, errors.NewFriendlyError(
				"The mirrord config file doesn't exist at %q.", path)
		}
		return Config{}, errors.WithContext(err, "parse")
	}

	for _, field := range []*string{&config.Source, &config.Replica, &config.LogFile} {
		if *field == "" {
			continue
		}

		expanded, err := homedir.Expand(*field)
		if err != nil {
			return Config{}, errors.WithContext(err, "expand path")
		}

		if !filepath.IsAbs(expanded) {
			expanded = filepath.Join(filepath.Dir(path), expanded)
		}
		*field = expanded
	}
	return config, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(SourceEnvKey); v != "" {
		c.Source = v
	}
	if v := getenv(ReplicaEnvKey); v != "" {
		c.Replica = v
	}
	if v := getenv(LogFileEnvKey); v != "" {
		c.LogFile = v
	}
	if v := getenv(MetricsAddressEnvKey); v != "" {
		c.MetricsAddress = v
	}
	if v := getenv(IntervalEnvKey); v != "" {
		interval, err := ParseDuration(v)
		if err != nil {
			return errors.WithContext(err, IntervalEnvKey)
		}
		c.Interval = interval
	}
	return nil
}

// Normalize expands home directories and converts the source and replica
// paths into clean absolute paths.
func (c *Config) Normalize() error {
	for _, field := range []*string{&c.Source, &c.Replica} {
		expanded, err := homedir.Expand(*field)
		if err != nil {
			return errors.WithContext(err, "expand path")
		}

		abs, err := filepath.Abs(expanded)
		if err != nil {
			return errors.WithContext(err, "get absolute path")
		}
		*field = abs
	}
	return nil
}

// Validate checks that the configuration can be used to start mirroring.
// The source must be an existing directory. The replica may be missing, in
// which case it's created by the first sync.
func (c Config) Validate() error {
	if c.Source == "" {
		return errors.NewFriendlyError("A source directory is required.")
	}
	if c.Replica == "" {
		return errors.NewFriendlyError("A replica directory is required.")
	}
	if c.Interval.Duration <= 0 {
		return errors.NewFriendlyError(
			"The sync interval must be positive, but got %s.", c.Interval)
	}

	fi, err := fs.Stat(c.Source)
	switch {
	case os.IsNotExist(err):
		return errors.NewFriendlyError("The source directory %q does not exist.", c.Source)
	case err != nil:
		return errors.WithContext(err, "stat source")
	case !fi.IsDir():
		return errors.NewFriendlyError("The source %q is not a directory.", c.Source)
	}

	fi, err = fs.Stat(c.Replica)
	switch {
	case err == nil && !fi.IsDir():
		return errors.NewFriendlyError("The replica %q is not a directory.", c.Replica)
	case err != nil && !os.IsNotExist(err):
		return errors.WithContext(err, "stat replica")
	}

	source, replica := filepath.Clean(c.Source), filepath.Clean(c.Replica)
	if source == replica || isWithin(source, replica) || isWithin(replica, source) {
		return errors.NewFriendlyError("The source (%q) and replica (%q) "+
			"directories must not contain each other.", c.Source, c.Replica)
	}
	return nil
}

// isWithin returns whether `path` is a child of `dir`.
func isWithin(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != "." && rel != ".." &&
		!strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Write writes `cfg` to `path` as YAML.
func Write(path string, cfg Config) error {
	cfg.Version = SupportedConfigVersion
	yamlBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	if err := afero.WriteFile(fs, path, yamlBytes, 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

// Duration is a time.Duration that's written in config files either as a
// duration string such as "1m30s", or as a number of seconds.
type Duration struct {
	time.Duration
}

// ParseDuration parses either a duration string or a number of seconds.
func ParseDuration(s string) (Duration, error) {
	var d Duration
	if err := d.UnmarshalJSON([]byte(s)); err == nil {
		return d, nil
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return Duration{}, errors.WithContext(err, "parse duration")
	}
	return Duration{parsed}, nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var seconds float64
	if err := json.Unmarshal(b, &seconds); err == nil {
		d.Duration = time.Duration(seconds * float64(time.Second))
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.New("duration must be a string such as \"10s\" or a number of seconds")
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}
