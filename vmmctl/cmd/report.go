package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sarchlab/vortexvm/datarecording"
	"github.com/sarchlab/vortexvm/mem/vm/trace"
)

var reportCmd = &cobra.Command{
	Use:   "report <recording.sqlite3>",
	Short: "Print the events stored in a recording.",
	Long: "`report recording.sqlite3 --table vm_faults` prints the rows of a " +
		"table written by `run --record`, one JSON object per line.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(args[0]); err != nil {
			return err
		}

		reader := datarecording.NewReader(args[0])
		defer reader.Close()

		trace.MapTables(reader)

		params := datarecording.QueryParams{}
		params.OrderBy, _ = cmd.Flags().GetString("order-by")
		params.Descending, _ = cmd.Flags().GetBool("desc")
		params.Limit, _ = cmd.Flags().GetInt("limit")
		params.Offset, _ = cmd.Flags().GetInt("offset")

		conditions, _ := cmd.Flags().GetStringArray("where")
		for _, s := range conditions {
			c, err := datarecording.ParseCondition(s)
			if err != nil {
				return err
			}

			params.Where = append(params.Where, c)
		}

		table, _ := cmd.Flags().GetString("table")

		rows, total, err := reader.Query(cmd.Context(), table, params)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, row := range rows {
			if err := enc.Encode(row); err != nil {
				return err
			}
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d rows in %s\n",
			len(rows), total, table)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().String("table", trace.MappingTable,
		fmt.Sprintf("Table to print (%s, %s, %s, %s).", trace.MappingTable,
			trace.NodeTable, trace.TranslationTable, trace.FaultTable))
	reportCmd.Flags().StringArray("where", nil,
		"Condition on the rows such as PPN>=0x20 or Kind=invalid entry. "+
			"Repeat to combine conditions.")
	reportCmd.Flags().String("order-by", "Seq", "Column to sort by.")
	reportCmd.Flags().Bool("desc", false, "Sort in descending order.")
	reportCmd.Flags().Int("limit", 0, "Maximum number of rows, 0 for all.")
	reportCmd.Flags().Int("offset", 0, "Number of rows to skip.")
}
