package cli

import (
	"fmt"
	"os"

	"github.com/felixgeelhaar/offsync/internal/infrastructure/wiring"
	"github.com/felixgeelhaar/offsync/pkg/storage"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, connectivity and board labels",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()
		fmt.Fprintln(out, "Running offsync doctor...")

		hasIssues := false
		check := func(name string, fn func() error) {
			fmt.Fprintf(out, "Checking %s... ", name)
			if err := fn(); err != nil {
				fmt.Fprintf(out, "FAIL\n  Error: %v\n", err)
				if mapped, ok := MapError(err).(*CLIError); ok && mapped.Hint != "" {
					fmt.Fprintf(out, "  Hint: %s\n", mapped.Hint)
				}
				hasIssues = true
			} else {
				fmt.Fprintf(out, "PASS\n")
			}
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		var services *wiring.AppServices
		check("Configuration", func() error {
			services, err = wiring.BuildAppServices(cfg, nil)
			return err
		})
		if services == nil {
			fmt.Fprintln(out, "\nissues found! Please fix them before continuing.")
			return NewCLIError("doctor found issues", "", nil)
		}
		defer services.Close()

		check("Mapping Store", func() error {
			_, err := services.Store.Load(ctx)
			return err
		})

		check("QRadar Offenses", func() error {
			snap, err := services.QRadar.ListOffenses(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "(%d offenses) ", len(snap))
			return nil
		})

		for _, label := range []string{cfg.Deck.ActionLabel, cfg.Deck.FinishedLabel} {
			check(fmt.Sprintf("Board Label %q", label), func() error {
				_, err := services.Deck.LabelID(ctx, label)
				return err
			})
		}

		if cfg.Sync.AuditFile != "" {
			check("Audit Integrity", func() error {
				if _, err := os.Stat(cfg.Sync.AuditFile); os.IsNotExist(err) {
					return nil
				}
				store, err := storage.NewFileEventStore(cfg.Sync.AuditFile)
				if err != nil {
					return err
				}
				violations, err := store.VerifyIntegrity()
				if err != nil {
					return err
				}
				if len(violations) > 0 {
					return fmt.Errorf("%d integrity violations found (run 'offsync audit --verify')", len(violations))
				}
				return nil
			})
		}

		if hasIssues {
			fmt.Fprintln(out, "\nissues found! Please fix them before continuing.")
			return NewCLIError("doctor found issues", "", nil)
		}
		fmt.Fprintln(out, "\nEverything looks good!")
		return nil
	},
}

func init() {
	RootCmd.AddCommand(doctorCmd)
}
