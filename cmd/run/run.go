package run

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sidkik/mirrord/cmd/util"
	"github.com/sidkik/mirrord/pkg/config"
	"github.com/sidkik/mirrord/pkg/errors"
	"github.com/sidkik/mirrord/pkg/fswatch"
	"github.com/sidkik/mirrord/pkg/metrics"
	"github.com/sidkik/mirrord/pkg/sync"
	"github.com/sidkik/mirrord/pkg/trigger"
)

// New creates a new `run` command.
func New() *cobra.Command {
	var opts util.ConfigOptions
	var metricsAddress string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Continuously mirror the source directory into the replica",
		Long: "Mirror the source directory into the replica, and keep the replica " +
			"in sync as the source changes.\n\n" +
			"The replica is synced once on startup, whenever a change is detected " +
			"in the source, and periodically in case a change was missed.",
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cfg, err := opts.Load(cmd)
			if err != nil {
				util.HandleFatalError(err)
			}
			if cmd.Flags().Changed("metrics-address") {
				cfg.MetricsAddress = metricsAddress
			}

			ctx, stop := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	opts.Register(cmd)
	cmd.Flags().StringVar(&metricsAddress, "metrics-address", "",
		"Serve Prometheus metrics on this address, e.g. `:9090`.")
	return cmd
}

// run mirrors the source into the replica until `ctx` is done.
func run(ctx context.Context, cfg config.Config) error {
	closeLog, err := util.SetupLogging(cfg.LogFile)
	if err != nil {
		return errors.WithContext(err, "setup logging")
	}
	defer closeLog()

	notifications, watchErrs, closeWatcher := watch(cfg)
	defer closeWatcher()

	logger := log.StandardLogger()
	recorder := metrics.Recorder{}
	reconciler := sync.NewReconciler(afero.NewOsFs(),
		sync.Sinks{sync.LogSink{Log: logger}, recorder},
		sync.Options{
			PruneEmptyDirs: cfg.PruneEmptyDirs,
			QuickCheck:     cfg.QuickCheck,
		})
	coordinator := trigger.New(cfg, reconciler, logger, trigger.WithRecorder(recorder))

	log.WithFields(log.Fields{
		"source":   cfg.Source,
		"replica":  cfg.Replica,
		"interval": cfg.Interval,
	}).Info("Starting mirror")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return coordinator.Run(ctx, notifications, watchErrs)
	})
	if cfg.MetricsAddress != "" {
		g.Go(func() error {
			return metrics.Serve(ctx, cfg.MetricsAddress)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("Stopped mirror")
	return nil
}

// watch starts watching the source for changes. If the watcher can't be
// created, the returned channels are nil and the replica is only synced
// periodically.
func watch(cfg config.Config) (<-chan struct{}, <-chan error, func()) {
	watcher, err := fswatch.Watch(cfg.Source)
	if err != nil {
		if util.IsWatchLimitError(err) {
			log.WithError(err).Warnf("Too many files to watch for changes. "+
				"mirrord will poll for changes every %s instead.", cfg.Interval)
			log.Warn("Raise fs.inotify.max_user_watches or the open file " +
				"limit to watch for changes.")
		} else {
			log.WithError(err).Warnf("Failed to watch for changes. "+
				"mirrord will poll for changes every %s instead.", cfg.Interval)
		}
		return nil, nil, func() {}
	}

	return watcher.Events, watcher.Errors, func() {
		if err := watcher.Close(); err != nil {
			log.WithError(err).Warn("Failed to close file watcher")
		}
	}
}
