package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/sarchlab/vortexvm/monitoring"
	"github.com/sarchlab/vortexvm/vmmctl/script"
)

var runCmd = &cobra.Command{
	Use:   "run [script]",
	Short: "Run a script of mapping and translation commands.",
	Long: "`run script.vmm` initializes a manager and executes the script. " +
		"Without a script, or with `-`, commands are read from stdin. With " +
		"--serve the manager stays available over HTTP until interrupted.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFromFlags(cmd)
		if err != nil {
			return err
		}

		opts := sessionOptions{}
		opts.name, _ = cmd.Flags().GetString("name")
		opts.record, _ = cmd.Flags().GetBool("record")
		opts.recordPath, _ = cmd.Flags().GetString("record-path")

		if traceOn, _ := cmd.Flags().GetBool("trace"); traceOn {
			opts.traceTo = cmd.ErrOrStderr()
		}

		lines, err := readScript(cmd, args)
		if err != nil {
			return err
		}

		s, err := newSession(cfg, opts)
		if err != nil {
			return err
		}
		defer s.close()

		executor := script.NewExecutor(s.manager, cmd.OutOrStdout()).
			WithMemory(s.storage)

		serve, _ := cmd.Flags().GetBool("serve")
		if !serve {
			return executor.Run(lines)
		}

		monitor := startMonitor(cmd, s)

		bar := monitor.CreateProgressBar("script", uint64(len(lines)))
		err = executor.WithProgress(bar).Run(lines)
		monitor.CompleteProgressBar(bar)

		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		fmt.Fprintln(cmd.ErrOrStderr(), "Script finished, press Ctrl+C to exit.")
		<-ctx.Done()

		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("name", "VMM", "Name of the manager.")
	runCmd.Flags().Bool("trace", false, "Log every event of the manager to stderr.")
	runCmd.Flags().Bool("record", false,
		"Record the events of the manager into a SQLite database.")
	runCmd.Flags().String("record-path", "",
		"Database path without the .sqlite3 suffix. Defaults to a unique name.")
	runCmd.Flags().Bool("serve", false, "Serve the manager over HTTP.")
	runCmd.Flags().Int("port", 0, "Port of the monitoring server.")
	runCmd.Flags().Bool("open", false, "Open the monitoring server in a browser.")
}

func readScript(cmd *cobra.Command, args []string) ([]script.Line, error) {
	var r io.Reader = cmd.InOrStdin()

	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, err
		}
		defer f.Close()

		r = f
	}

	return script.Parse(r)
}

func startMonitor(cmd *cobra.Command, s *session) *monitoring.Monitor {
	port, _ := cmd.Flags().GetInt("port")

	monitor := monitoring.NewMonitor()
	if port != 0 {
		monitor.WithPortNumber(port)
	}

	monitor.RegisterManager(s.manager)
	url := monitor.StartServer()

	if open, _ := cmd.Flags().GetBool("open"); open {
		err := browser.OpenURL(url + "/api/list_managers")
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Failed to open browser: %v\n", err)
		}
	}

	return monitor
}
