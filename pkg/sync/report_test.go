package sync

import (
	"testing"

	log "github.com/sirupsen/logrus"
	logrusTest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/mirrord/pkg/errors"
)

func TestLogSink(t *testing.T) {
	logger, hook := logrusTest.NewNullLogger()
	sink := LogSink{Log: logger}

	sink.Handle(Event{Pass: "pass-id", Path: "dir/file", Kind: ActionCopyFile})
	sink.Handle(Event{Pass: "pass-id", Path: "locked", Err: errors.EntryError{
		Op: "copy", Path: "locked", Err: errors.New("permission denied")}})

	entries := hook.AllEntries()
	require.Len(t, entries, 2)

	assert.Equal(t, log.InfoLevel, entries[0].Level)
	assert.Equal(t, "Copied", entries[0].Message)
	assert.Equal(t, log.Fields{
		"pass":   "pass-id",
		"path":   "dir/file",
		"action": "copy",
	}, entries[0].Data)

	assert.Equal(t, log.WarnLevel, entries[1].Level)
	assert.Equal(t, "locked", entries[1].Data["path"])
	assert.EqualError(t, entries[1].Data[log.ErrorKey].(error),
		`copy "locked": permission denied`)
}

func TestSinks(t *testing.T) {
	var first, second []Event
	sinks := Sinks{
		EventSinkFunc(func(e Event) { first = append(first, e) }),
		EventSinkFunc(func(e Event) { second = append(second, e) }),
	}

	e := Event{Path: "file", Kind: ActionDeleteFile}
	sinks.Handle(e)
	assert.Equal(t, []Event{e}, first)
	assert.Equal(t, []Event{e}, second)
}

func TestReportCounts(t *testing.T) {
	report := Report{
		Actions: []Action{
			{Kind: ActionCopyFile, Path: "a"},
			{Kind: ActionCopyFile, Path: "b"},
			{Kind: ActionDeleteFile, Path: "c"},
		},
	}
	assert.Equal(t, 3, report.Mutations())
	assert.Equal(t, 2, report.Count(ActionCopyFile))
	assert.Equal(t, 1, report.Count(ActionDeleteFile))
	assert.Equal(t, 0, report.Count(ActionDeleteDir))
}
