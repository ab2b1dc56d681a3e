package util

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/mirrord/pkg/config"
	"github.com/sidkik/mirrord/pkg/errors"
)

// Mocked for unit testing.
var (
	stderr io.Writer = os.Stderr
	exit             = os.Exit
	getenv           = os.Getenv
)

// HandleFatalError handles errors that are severe enough to terminate the
// program.
func HandleFatalError(err error) {
	log.WithError(err).Debug("Fatal error")
	fmt.Fprintln(stderr, errors.GetPrintableMessage(err))
	exit(1)
}

// HandlePanic logs the stack trace of a panic before exiting.
func HandlePanic() {
	if r := recover(); r != nil {
		log.Errorf("Unexpected crash: %v\n%s", r, debug.Stack())
		exit(1)
	}
}

// SetupLogging configures the standard logger. When `logFile` is set, log
// records are appended to it in addition to being written to stderr. The
// returned function closes the log file.
func SetupLogging(logFile string) (func(), error) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if logFile == "" {
		return func() {}, nil
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.WithContext(err, "open log file")
	}

	log.SetOutput(io.MultiWriter(stderr, f))
	return func() {
		log.SetOutput(stderr)
		if err := f.Close(); err != nil {
			log.WithError(err).Warn("Failed to close log file")
		}
	}, nil
}

// IsWatchLimitError returns whether `err` was caused by the operating
// system's limit on the number of watched files.
func IsWatchLimitError(err error) bool {
	msg := errors.RootCause(err).Error()
	return strings.Contains(msg, "too many open files") ||
		strings.Contains(msg, "no space left on device")
}

// ConfigOptions are the command line flags that override the mirrord
// configuration.
type ConfigOptions struct {
	path           string
	source         string
	replica        string
	interval       time.Duration
	pruneEmptyDirs bool
	quickCheck     bool
	logFile        string
}

// Register adds the configuration flags to `cmd`.
func (opts *ConfigOptions) Register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&opts.path, "config", "c", "",
		fmt.Sprintf("Path to the mirrord config file. Defaults to %s if it exists.",
			config.DefaultConfigPath))
	flags.StringVar(&opts.source, "source", "",
		"The directory to mirror.")
	flags.StringVar(&opts.replica, "replica", "",
		"The directory to keep identical to the source.")
	flags.DurationVar(&opts.interval, "interval", config.DefaultInterval,
		"How often to sync when no changes are detected.")
	flags.BoolVar(&opts.pruneEmptyDirs, "prune-empty-dirs", true,
		"Remove directories from the replica that no longer exist in the source.")
	flags.BoolVar(&opts.quickCheck, "quick-check", false,
		"Assume files with the same size, mode and modification time are identical.")
	flags.StringVar(&opts.logFile, "log-file", "",
		"Append logs to this file in addition to stderr.")
}

// Load resolves the configuration from the defaults, the config file, the
// environment, and the flags that were explicitly set on `cmd`, in order of
// increasing precedence. The returned config is normalized and validated.
func (opts ConfigOptions) Load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(opts.path, getenv)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("source") {
		cfg.Source = opts.source
	}
	if flags.Changed("replica") {
		cfg.Replica = opts.replica
	}
	if flags.Changed("interval") {
		cfg.Interval = config.Duration{Duration: opts.interval}
	}
	if flags.Changed("prune-empty-dirs") {
		cfg.PruneEmptyDirs = opts.pruneEmptyDirs
	}
	if flags.Changed("quick-check") {
		cfg.QuickCheck = opts.quickCheck
	}
	if flags.Changed("log-file") {
		cfg.LogFile = opts.logFile
	}

	if err := cfg.Normalize(); err != nil {
		return config.Config{}, errors.WithContext(err, "normalize config")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
