// Package trigger decides when the replica is reconciled. Passes are started
// once at startup, whenever the source tree reports a change, and
// periodically as a safety net for missed notifications. At most one pass runs
// at a time. Triggers that arrive while a pass is running are collapsed into a
// single follow-up pass.
package trigger

import (
	"context"
	goSync "sync"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/mirrord/pkg/config"
	"github.com/sidkik/mirrord/pkg/errors"
	"github.com/sidkik/mirrord/pkg/sync"
)

// Source is what caused a pass to be requested.
type Source string

const (
	// Startup is the pass that runs before anything else is watched.
	Startup Source = "startup"

	// Notification is a pass requested by the filesystem watcher.
	Notification Source = "notification"

	// Timer is a pass requested by the periodic ticker.
	Timer Source = "timer"

	// Coalesced is the follow-up pass that runs when triggers arrived while
	// the previous pass was running.
	Coalesced Source = "coalesced"
)

// Reconciler runs a single reconciliation pass.
type Reconciler interface {
	Reconcile(sourceRoot, replicaRoot string) (sync.Report, error)
}

// Recorder observes the coordinator's decisions.
type Recorder interface {
	// Triggered is called for every trigger. `coalesced` is true if the
	// trigger arrived while a pass was running.
	Triggered(source Source, coalesced bool)

	// PassCompleted is called after every pass.
	PassCompleted(report sync.Report, err error)
}

type noopRecorder struct{}

func (noopRecorder) Triggered(Source, bool)            {}
func (noopRecorder) PassCompleted(sync.Report, error) {}

// Coordinator serializes reconciliation passes.
type Coordinator struct {
	cfg        config.Config
	reconciler Reconciler
	log        log.FieldLogger
	clock      clockwork.Clock
	recorder   Recorder

	lock    goSync.Mutex
	running bool
	pending bool
	stopped bool

	// inFlight tracks the worker goroutine so that shutdown can wait for the
	// current pass.
	inFlight goSync.WaitGroup
}

// Option configures optional Coordinator behavior.
type Option func(*Coordinator)

// WithClock sets the clock used for the periodic timer.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// WithRecorder sets the Recorder notified about triggers and passes.
func WithRecorder(recorder Recorder) Option {
	return func(c *Coordinator) {
		c.recorder = recorder
	}
}

// New creates a Coordinator that reconciles `cfg.Replica` onto `cfg.Source`.
func New(cfg config.Config, reconciler Reconciler, logger log.FieldLogger,
	opts ...Option) *Coordinator {

	c := &Coordinator{
		cfg:        cfg,
		reconciler: reconciler,
		log:        logger,
		clock:      clockwork.NewRealClock(),
		recorder:   noopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Trigger requests a pass. If a pass is already running, the request is
// remembered and a single follow-up pass runs after the current one
// completes, no matter how many requests arrived in the meantime. Trigger
// never blocks on the pass itself.
func (c *Coordinator) Trigger(source Source) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.stopped {
		return
	}

	c.recorder.Triggered(source, c.running)
	if c.running {
		c.pending = true
		return
	}

	c.running = true
	c.inFlight.Add(1)
	go c.work(source)
}

func (c *Coordinator) work(source Source) {
	defer c.inFlight.Done()

	for {
		c.runPass(source)

		c.lock.Lock()
		if !c.pending || c.stopped {
			c.running = false
			c.pending = false
			c.lock.Unlock()
			return
		}
		c.pending = false
		c.lock.Unlock()

		source = Coalesced
	}
}

func (c *Coordinator) runPass(source Source) {
	report, err := c.reconciler.Reconcile(c.cfg.Source, c.cfg.Replica)
	c.recorder.PassCompleted(report, err)

	passLog := c.log.WithFields(log.Fields{
		"pass":    report.ID,
		"trigger": source,
	})
	if err != nil {
		passLog.WithError(err).Error("Sync failed")
		return
	}

	passLog = passLog.WithField("duration", report.Duration())
	if report.Mutations() == 0 && len(report.Failures) == 0 {
		passLog.Debug("Replica already up to date")
		return
	}

	removed := report.Count(sync.ActionDeleteFile) + report.Count(sync.ActionDeleteDir)
	passLog.Infof("Copied %d files, removed %d.",
		report.Count(sync.ActionCopyFile), removed)
	if len(report.Failures) != 0 {
		passLog.Warnf("Failed to sync %d entries. They will be retried on "+
			"the next sync.", len(report.Failures))
	}
}

// Stop refuses any further passes and waits for the running pass, if any,
// to complete.
func (c *Coordinator) Stop() {
	c.lock.Lock()
	c.stopped = true
	c.lock.Unlock()

	c.inFlight.Wait()
}

// Run triggers a pass immediately, and then again whenever `notifications`
// receives a value or the configured interval elapses. Either channel may be
// nil, in which case the replica is only reconciled on the timer. Run returns
// once `ctx` is done and the in-flight pass has finished.
func (c *Coordinator) Run(ctx context.Context, notifications <-chan struct{},
	watchErrs <-chan error) error {

	c.Trigger(Startup)

	ticker := c.clock.NewTicker(c.cfg.Interval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Stop()
			return nil
		case _, ok := <-notifications:
			if !ok {
				c.log.WithError(errors.NotificationStreamError{}).Warnf(
					"Falling back to syncing every %s", c.cfg.Interval)
				notifications = nil
				continue
			}
			c.Trigger(Notification)
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			c.log.WithError(errors.NotificationStreamError{Err: err}).Warn(
				"File watcher failed")
		case <-ticker.Chan():
			c.Trigger(Timer)
		}
	}
}
