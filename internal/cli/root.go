// Package cli implements the oracled command tree.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/oracle_layer/internal/config"
)

// Version is overridden at build time with -ldflags "-X ...cli.Version=".
var Version = "0.1.0-dev"

var configFile string

// NewRootCommand builds the command tree. A fresh tree per call keeps tests
// independent of flag state.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "oracled",
		Short:         "Price and data oracle resolving exchange-rate and custom feeds",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "configuration file path (YAML)")

	root.AddCommand(
		newServeCommand(),
		newResolveCommand(),
		newMigrateCommand(),
		newVersionCommand(),
	)
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(configFile)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "oracled %s\n", Version)
}
