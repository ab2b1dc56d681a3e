package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	configCmd "github.com/sidkik/mirrord/cmd/config"
	"github.com/sidkik/mirrord/cmd/run"
	syncCmd "github.com/sidkik/mirrord/cmd/sync"
	"github.com/sidkik/mirrord/cmd/util"
	"github.com/sidkik/mirrord/cmd/version"
)

// verboseLogKey is the environment variable used to enable verbose logging.
// When it's set to `true`, Debug events are logged, rather than just Info and
// above.
const verboseLogKey = "MIRRORD_LOG_VERBOSE"

// Execute runs the main CLI process.
func Execute() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if os.Getenv(verboseLogKey) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	var verbose bool
	rootCmd := &cobra.Command{
		Use:   "mirrord",
		Short: "Mirror a source directory into a replica directory",
		Long: "mirrord keeps a replica directory identical to a source directory. " +
			"Files are copied into the replica when they're created or changed, and " +
			"removed from the replica when they're removed from the source.",
		SilenceUsage: true,

		// The call to rootCmd.Execute prints the error, so we silence errors
		// here to avoid double printing.
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Log debug messages.")
	rootCmd.AddCommand(
		configCmd.New(),
		run.New(),
		syncCmd.New(),
		version.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		util.HandleFatalError(err)
	}
}
