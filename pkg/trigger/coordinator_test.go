package trigger

import (
	"context"
	goSync "sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/mirrord/pkg/config"
	"github.com/sidkik/mirrord/pkg/errors"
	"github.com/sidkik/mirrord/pkg/sync"
)

const waitTimeout = 5 * time.Second

// blockingReconciler signals `started` at the beginning of every pass, and
// then blocks the pass until `proceed` receives a value or is closed.
type blockingReconciler struct {
	started chan struct{}
	proceed chan struct{}

	lock  goSync.Mutex
	calls int
	err   error
}

func newBlockingReconciler() *blockingReconciler {
	return &blockingReconciler{
		started: make(chan struct{}, 100),
		proceed: make(chan struct{}),
	}
}

func (r *blockingReconciler) Reconcile(source, replica string) (sync.Report, error) {
	r.lock.Lock()
	r.calls++
	r.lock.Unlock()

	r.started <- struct{}{}
	<-r.proceed
	return sync.Report{ID: "pass", SourceRoot: source, ReplicaRoot: replica}, r.err
}

func (r *blockingReconciler) numCalls() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.calls
}

func (r *blockingReconciler) waitForPass(t *testing.T) {
	select {
	case <-r.started:
	case <-time.After(waitTimeout):
		t.Fatal("Timed out waiting for pass to start")
	}
}

type trigger struct {
	source    Source
	coalesced bool
}

type fakeRecorder struct {
	lock     goSync.Mutex
	triggers []trigger
	passes   int
}

func (r *fakeRecorder) Triggered(source Source, coalesced bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.triggers = append(r.triggers, trigger{source, coalesced})
}

func (r *fakeRecorder) PassCompleted(sync.Report, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.passes++
}

func (r *fakeRecorder) getTriggers() []trigger {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]trigger(nil), r.triggers...)
}

func testConfig() config.Config {
	return config.Config{
		Source:   "/source",
		Replica:  "/replica",
		Interval: config.Duration{Duration: 10 * time.Second},
	}
}

func TestCoalescing(t *testing.T) {
	reconciler := newBlockingReconciler()
	recorder := &fakeRecorder{}
	logger, _ := test.NewNullLogger()
	c := New(testConfig(), reconciler, logger, WithRecorder(recorder))

	c.Trigger(Notification)
	reconciler.waitForPass(t)

	// None of these start a pass since one is already running.
	for i := 0; i < 5; i++ {
		c.Trigger(Notification)
	}
	c.Trigger(Timer)
	assert.Equal(t, 1, reconciler.numCalls())

	// Finishing the first pass starts exactly one follow-up pass.
	reconciler.proceed <- struct{}{}
	reconciler.waitForPass(t)
	close(reconciler.proceed)

	c.Stop()
	assert.Equal(t, 2, reconciler.numCalls())
	assert.Equal(t, 2, recorder.passes)

	triggers := recorder.getTriggers()
	require.Len(t, triggers, 7)
	assert.Equal(t, trigger{Notification, false}, triggers[0])
	for _, trig := range triggers[1:] {
		assert.True(t, trig.coalesced)
	}
}

func TestTriggerAfterPassCompletes(t *testing.T) {
	reconciler := newBlockingReconciler()
	close(reconciler.proceed)
	logger, _ := test.NewNullLogger()
	c := New(testConfig(), reconciler, logger)

	c.Trigger(Notification)
	reconciler.waitForPass(t)

	// Wait for the worker to go idle so that the next trigger starts a new
	// pass rather than a follow-up.
	c.inFlight.Wait()

	c.Trigger(Notification)
	reconciler.waitForPass(t)
	c.Stop()
	assert.Equal(t, 2, reconciler.numCalls())
}

func TestRunTriggers(t *testing.T) {
	reconciler := newBlockingReconciler()
	close(reconciler.proceed)
	recorder := &fakeRecorder{}
	clock := clockwork.NewFakeClock()
	logger, _ := test.NewNullLogger()
	c := New(testConfig(), reconciler, logger,
		WithClock(clock), WithRecorder(recorder))

	ctx, cancel := context.WithCancel(context.Background())
	notifications := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- c.Run(ctx, notifications, nil)
	}()

	// The startup pass runs before anything else.
	reconciler.waitForPass(t)
	c.inFlight.Wait()

	// The ticker is only armed after the startup trigger.
	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)
	reconciler.waitForPass(t)
	c.inFlight.Wait()

	notifications <- struct{}{}
	reconciler.waitForPass(t)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Run didn't return after cancellation")
	}

	var sources []Source
	for _, trig := range recorder.getTriggers() {
		sources = append(sources, trig.source)
	}
	assert.Equal(t, []Source{Startup, Timer, Notification}, sources)
	assert.Equal(t, 3, reconciler.numCalls())
}

func TestShutdownWaitsForPass(t *testing.T) {
	reconciler := newBlockingReconciler()
	logger, _ := test.NewNullLogger()
	c := New(testConfig(), reconciler, logger, WithClock(clockwork.NewFakeClock()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- c.Run(ctx, nil, nil)
	}()
	reconciler.waitForPass(t)

	cancel()
	select {
	case <-done:
		t.Fatal("Run returned while a pass was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	// Triggers after shutdown are ignored.
	c.Trigger(Notification)

	close(reconciler.proceed)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Run didn't return after the pass completed")
	}
	assert.Equal(t, 1, reconciler.numCalls())
}

func TestNotificationStreamClosed(t *testing.T) {
	reconciler := newBlockingReconciler()
	close(reconciler.proceed)
	clock := clockwork.NewFakeClock()
	logger, hook := test.NewNullLogger()
	c := New(testConfig(), reconciler, logger, WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	notifications := make(chan struct{})
	watchErrs := make(chan error)
	close(notifications)

	done := make(chan error)
	go func() {
		done <- c.Run(ctx, notifications, watchErrs)
	}()
	reconciler.waitForPass(t)

	watchErrs <- errors.New("queue overflow")

	// The timer keeps working after the stream closed.
	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)
	reconciler.waitForPass(t)

	cancel()
	require.NoError(t, <-done)

	var streamErrs []error
	for _, entry := range hook.AllEntries() {
		if err, ok := entry.Data["error"].(error); ok {
			if errors.As(err, new(errors.NotificationStreamError)) {
				streamErrs = append(streamErrs, err)
			}
		}
	}
	assert.Equal(t, []error{
		errors.NotificationStreamError{},
		errors.NotificationStreamError{Err: errors.New("queue overflow")},
	}, streamErrs)
}

func TestPassErrorsDontStopLoop(t *testing.T) {
	reconciler := newBlockingReconciler()
	reconciler.err = errors.RootUnavailable{Role: "source", Path: "/source",
		Err: errors.New("not a directory")}
	close(reconciler.proceed)
	clock := clockwork.NewFakeClock()
	logger, hook := test.NewNullLogger()
	c := New(testConfig(), reconciler, logger, WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- c.Run(ctx, nil, nil)
	}()
	reconciler.waitForPass(t)
	c.inFlight.Wait()

	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)
	reconciler.waitForPass(t)

	cancel()
	require.NoError(t, <-done)

	var failures int
	for _, entry := range hook.AllEntries() {
		if entry.Message == "Sync failed" {
			failures++
		}
	}
	assert.Equal(t, 2, failures)
}
