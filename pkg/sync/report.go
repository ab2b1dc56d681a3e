package sync

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// ActionKind is the type of mutation made to the replica.
type ActionKind string

const (
	// ActionCreateDir creates a directory in the replica.
	ActionCreateDir ActionKind = "create-dir"

	// ActionCopyFile copies a source file over the replica path, either
	// because the replica file is missing or because its contents differ.
	ActionCopyFile ActionKind = "copy"

	// ActionUpdateAttributes fixes the mode and modification time of a
	// replica file whose contents already match the source.
	ActionUpdateAttributes ActionKind = "update-attributes"

	// ActionDeleteFile removes a replica file without a source counterpart.
	ActionDeleteFile ActionKind = "delete"

	// ActionDeleteDir removes a replica directory without a source
	// counterpart.
	ActionDeleteDir ActionKind = "delete-dir"
)

// Description returns a short past-tense description of the action.
func (kind ActionKind) Description() string {
	switch kind {
	case ActionCreateDir:
		return "Created directory"
	case ActionCopyFile:
		return "Copied"
	case ActionUpdateAttributes:
		return "Updated attributes"
	case ActionDeleteFile:
		return "Removed"
	case ActionDeleteDir:
		return "Removed directory"
	}
	return string(kind)
}

// Action is a mutation that was successfully applied to the replica.
type Action struct {
	Kind ActionKind
	Path string
}

// Failure is an entry that couldn't be synced during a pass. The error is
// always an errors.EntryError.
type Failure struct {
	Path string
	Err  error
}

// Report describes the outcome of a single reconciliation pass.
type Report struct {
	// ID uniquely identifies the pass in logs.
	ID string

	SourceRoot  string
	ReplicaRoot string

	Started  time.Time
	Finished time.Time

	Actions  []Action
	Failures []Failure
}

// Mutations returns the number of changes made to the replica.
func (r Report) Mutations() int {
	return len(r.Actions)
}

// Count returns the number of actions of the given kind.
func (r Report) Count(kind ActionKind) (n int) {
	for _, action := range r.Actions {
		if action.Kind == kind {
			n++
		}
	}
	return n
}

// Duration returns how long the pass took.
func (r Report) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Event is emitted once for every applied action and every failed entry.
type Event struct {
	Pass string
	Time time.Time
	Path string

	// Kind is empty for failures.
	Kind ActionKind

	// Err is set for failures.
	Err error
}

// An EventSink receives the events of reconciliation passes as they happen.
type EventSink interface {
	Handle(Event)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(Event)

// Handle calls f(e).
func (f EventSinkFunc) Handle(e Event) {
	f(e)
}

// Sinks fans events out to multiple sinks.
type Sinks []EventSink

// Handle passes `e` to each sink in order.
func (sinks Sinks) Handle(e Event) {
	for _, sink := range sinks {
		sink.Handle(e)
	}
}

// LogSink writes one log record per event.
type LogSink struct {
	Log log.FieldLogger
}

// Handle logs `e`.
func (sink LogSink) Handle(e Event) {
	entry := sink.Log.WithFields(log.Fields{
		"pass": e.Pass,
		"path": e.Path,
	})
	if e.Err != nil {
		entry.WithError(e.Err).Warn("Failed to sync entry")
		return
	}
	entry.WithField("action", string(e.Kind)).Info(e.Kind.Description())
}
