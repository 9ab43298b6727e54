package cli

import (
	"fmt"
	"io"

	"github.com/felixgeelhaar/offsync/pkg/application"
	"github.com/spf13/cobra"
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single reconciliation cycle and print what it did",
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := loadServices(cmd)
		if err != nil {
			return err
		}
		defer services.Close()

		report, err := services.Poll.RunOnce(cmd.Context())
		if err != nil {
			return MapError(err)
		}
		printReport(cmd.OutOrStdout(), report)

		if report.HasFailures() {
			e := NewCLIError("cycle finished with failures", "Failed steps are retried on the next cycle", nil)
			e.ExitCode = 2
			return e
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(onceCmd)
}

func printReport(w io.Writer, r *application.CycleReport) {
	if r.SnapshotErr != nil {
		fmt.Fprintf(w, "Could not fetch offenses: %v\n", r.SnapshotErr)
		return
	}
	fmt.Fprintf(w, "Created:    %d %v\n", len(r.Created), r.Created)
	fmt.Fprintf(w, "Resumed:    %d %v\n", len(r.Resumed), r.Resumed)
	fmt.Fprintf(w, "Closed out: %d %v\n", len(r.ClosedOut), r.ClosedOut)
	if len(r.Failures) == 0 {
		return
	}
	fmt.Fprintf(w, "Failed:     %d\n", len(r.Failures))
	for _, f := range r.Failures {
		fmt.Fprintf(w, "  - %v\n", f)
	}
}
