// Package cmd provides the command-line interface of vmmctl.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vmmctl",
	Short: "vmmctl runs virtual memory scripts against a simulated MMU.",
	Long: `vmmctl builds a virtual memory manager over a simulated RAM, ` +
		`runs scripts of mapping and translation commands against it, ` +
		`records what happens, and serves the state of the manager over ` +
		`HTTP. The layout is read from VMM_* environment variables, ` +
		`optionally loaded from a .env file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("env-file", ".env",
		"File to load VMM_* variables from, if it exists.")
	rootCmd.PersistentFlags().String("mode", "",
		"Translation mode (bare, sv32, sv39, sv48). Overrides VMM_MODE.")
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Buffered recordings are flushed before the process exits.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
