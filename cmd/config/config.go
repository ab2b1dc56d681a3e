package config

import (
	"fmt"
	"io"
	"os"

	"github.com/ghodss/yaml"
	"github.com/spf13/cobra"

	"github.com/sidkik/mirrord/cmd/util"
	"github.com/sidkik/mirrord/pkg/config"
	"github.com/sidkik/mirrord/pkg/errors"
)

// Mocked for unit testing.
var (
	stdout io.Writer = os.Stdout
	stat             = os.Stat
)

// New creates a new `config` command.
func New() *cobra.Command {
	var opts util.ConfigOptions
	var output string
	var force bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write a mirrord config file",
		Long: "Write the configuration resolved from the flags, the environment, " +
			"and any existing config file to a new config file.",
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cfg, err := opts.Load(cmd)
			if err != nil {
				util.HandleFatalError(err)
			}

			if err := writeConfig(output, force, cfg); err != nil {
				err = errors.NewFriendlyError("Failed to write configuration:\n%s", err)
				util.HandleFatalError(err)
			}
		},
	}
	opts.Register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", config.DefaultConfigPath,
		"Where to write the config file.")
	cmd.Flags().BoolVar(&force, "force", false,
		"Overwrite the config file if it already exists.")

	var showOpts util.ConfigOptions
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cfg, err := showOpts.Load(cmd)
			if err != nil {
				util.HandleFatalError(err)
			}

			if err := showConfig(cfg); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	showOpts.Register(showCmd)
	cmd.AddCommand(showCmd)
	return cmd
}

func writeConfig(path string, force bool, cfg config.Config) error {
	if !force {
		if _, err := stat(path); err == nil {
			return errors.New("%s already exists. Use --force to overwrite it.", path)
		} else if !os.IsNotExist(err) {
			return errors.WithContext(err, "stat")
		}
	}

	if err := config.Write(path, cfg); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Wrote config to %s\n", path)
	return nil
}

func showConfig(cfg config.Config) error {
	yamlBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}
	_, err = stdout.Write(yamlBytes)
	return err
}
