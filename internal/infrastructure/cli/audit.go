package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/felixgeelhaar/offsync/pkg/domain/events"
	"github.com/felixgeelhaar/offsync/pkg/storage"
	"github.com/spf13/cobra"
)

var (
	auditVerify   bool
	auditSummary  bool
	auditIncident string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Print the sync audit log",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Sync.AuditFile == "" {
			return NewCLIError("audit log is disabled", "Set sync.audit_file in the config", nil)
		}
		var store events.EventStore
		store, err = storage.NewFileEventStore(cfg.Sync.AuditFile)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		out := cmd.OutOrStdout()

		if auditVerify {
			fmt.Fprintln(out, "Verifying audit trail integrity...")
			violations, err := store.VerifyIntegrity()
			if err != nil {
				return fmt.Errorf("verification failed: %w", err)
			}
			if len(violations) == 0 {
				fmt.Fprintln(out, "Audit trail is intact and verified.")
				return nil
			}
			fmt.Fprintf(out, "Found %d integrity violations:\n", len(violations))
			for _, v := range violations {
				fmt.Fprintf(out, "  - %s\n", v)
			}
			return NewCLIError("audit trail integrity check failed", "", nil)
		}

		var evts []*events.BaseEvent
		if auditIncident != "" {
			evts, err = store.LoadByIncident(auditIncident)
		} else {
			evts, err = store.LoadAll()
		}
		if err != nil {
			return fmt.Errorf("read audit log: %w", err)
		}
		if len(evts) == 0 {
			fmt.Fprintln(out, "No audit events.")
			return nil
		}
		if auditSummary {
			return printSummary(out, evts)
		}
		for _, e := range evts {
			fmt.Fprintf(out, "%s  %-16s %-10s %s\n",
				e.Timestamp.Format(time.RFC3339), e.Type, e.AggregateID_, describe(e))
		}
		return nil
	},
}

func init() {
	auditCmd.Flags().BoolVar(&auditVerify, "verify", false, "verify the hash chain instead of printing events")
	auditCmd.Flags().BoolVar(&auditSummary, "summary", false, "print one line per offense instead of every event")
	auditCmd.Flags().StringVar(&auditIncident, "incident", "", "only show events of one offense id")
	RootCmd.AddCommand(auditCmd)
}

func describe(e *events.BaseEvent) string {
	switch e.Type {
	case events.EventTypeActionFailed:
		return fmt.Sprintf("card=%v op=%v reason=%v", e.Metadata["card_id"], e.Metadata["op"], e.Metadata["reason"])
	case events.EventTypeCycleCompleted:
		return fmt.Sprintf("created=%v resumed=%v closed_out=%v failed=%v",
			e.Metadata["created"], e.Metadata["resumed"], e.Metadata["closed_out"], e.Metadata["failed"])
	default:
		return fmt.Sprintf("card=%v", e.Metadata["card_id"])
	}
}

func printSummary(w io.Writer, evts []*events.BaseEvent) error {
	p := events.NewIncidentHistoryProjection()
	if err := p.Rebuild(evts); err != nil {
		return err
	}
	for _, h := range p.All() {
		state := "open"
		if h.Closed() {
			state = "closed"
		}
		fmt.Fprintf(w, "%-10d card=%-6d archive=%-6d %-7s last=%s failures=%d\n",
			h.IncidentID, h.CardID, h.ArchiveCardID, state, h.LastEvent, h.Failures)
	}
	return nil
}
