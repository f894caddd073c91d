package cmd

import (
	"fmt"
	"sort"

	"github.com/fatih/structs"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := configFromFlags(cmd)
		if err != nil {
			return err
		}

		fields := structs.Map(cfg)

		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}

		sort.Strings(names)

		for _, name := range names {
			switch v := fields[name].(type) {
			case uint64:
				fmt.Fprintf(cmd.OutOrStdout(), "%-18s 0x%x\n", name, v)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "%-18s %v\n", name, v)
			}
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
