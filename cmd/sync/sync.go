package sync

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/buger/goterm"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/sidkik/mirrord/cmd/util"
	"github.com/sidkik/mirrord/pkg/config"
	"github.com/sidkik/mirrord/pkg/errors"
	mirror "github.com/sidkik/mirrord/pkg/sync"
)

// Mocked for unit testing.
var (
	stdout     io.Writer = os.Stdout
	fs                   = afero.NewOsFs()
	isTerminal           = func() bool { return terminal.IsTerminal(int(os.Stdout.Fd())) }
)

// New creates a new `sync` command.
func New() *cobra.Command {
	var opts util.ConfigOptions
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync the replica with the source once, and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cfg, err := opts.Load(cmd)
			if err != nil {
				util.HandleFatalError(err)
			}

			if err := syncOnce(cfg); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	opts.Register(cmd)
	return cmd
}

func syncOnce(cfg config.Config) error {
	closeLog, err := util.SetupLogging(cfg.LogFile)
	if err != nil {
		return errors.WithContext(err, "setup logging")
	}
	defer closeLog()

	reconciler := mirror.NewReconciler(fs,
		mirror.LogSink{Log: log.StandardLogger()},
		mirror.Options{
			PruneEmptyDirs: cfg.PruneEmptyDirs,
			QuickCheck:     cfg.QuickCheck,
		})

	report, err := reconciler.Reconcile(cfg.Source, cfg.Replica)
	if err != nil {
		return errors.WithContext(err, "sync")
	}

	printSummary(stdout, report, isTerminal())
	if len(report.Failures) != 0 {
		return errors.NewFriendlyError("Failed to sync %d entries. "+
			"See the log above for details.", len(report.Failures))
	}
	return nil
}

// printSummary writes the number of changes made by `report`. The counts are
// only coloured when `colored` is set, so that redirected output stays plain.
func printSummary(out io.Writer, report mirror.Report, colored bool) {
	color := func(s string, c int) string {
		if !colored {
			return s
		}
		return goterm.Color(s, c)
	}

	if report.Mutations() == 0 && len(report.Failures) == 0 {
		fmt.Fprintln(out, color("Already synced.", goterm.GREEN))
		return
	}

	rows := []struct {
		label string
		count int
		color int
	}{
		{"Copied", report.Count(mirror.ActionCopyFile), goterm.GREEN},
		{"Updated attributes", report.Count(mirror.ActionUpdateAttributes), goterm.GREEN},
		{"Created directories", report.Count(mirror.ActionCreateDir), goterm.GREEN},
		{"Removed", report.Count(mirror.ActionDeleteFile), goterm.YELLOW},
		{"Removed directories", report.Count(mirror.ActionDeleteDir), goterm.YELLOW},
		{"Failed", len(report.Failures), goterm.RED},
	}
	for _, row := range rows {
		if row.count == 0 {
			continue
		}
		fmt.Fprintf(out, "%-20s %s\n", row.label+":",
			color(fmt.Sprintf("%d", row.count), row.color))
	}
	fmt.Fprintf(out, "Finished in %s.\n", report.Duration().Round(time.Millisecond))
}
