package cli

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/felixgeelhaar/offsync/pkg/domain/tracking"
	"github.com/felixgeelhaar/offsync/pkg/storage"
	"github.com/spf13/cobra"
)

var mappingsCmd = &cobra.Command{
	Use:   "mappings",
	Short: "List tracked offenses and their cards",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store := storage.NewFileMappingStore(cfg.Sync.MappingFile)
		ms, err := store.Load(cmd.Context())
		if err != nil {
			return MapError(err)
		}

		out := cmd.OutOrStdout()
		if len(ms) == 0 {
			fmt.Fprintln(out, "No tracked offenses.")
			return nil
		}

		fmt.Fprintf(out, "Tracked offenses (%d) in %s\n", len(ms), store.Path())
		fmt.Fprintln(out, renderMappings(ms.Sorted()))
		return nil
	},
}

func init() {
	RootCmd.AddCommand(mappingsCmd)
}

func renderMappings(sorted []tracking.Mapping) string {
	columns := []table.Column{
		{Title: "Offense", Width: 10},
		{Title: "Card", Width: 8},
		{Title: "Stage", Width: 16},
		{Title: "Archive Card", Width: 12},
		{Title: "Live", Width: 5},
	}

	rows := make([]table.Row, 0, len(sorted))
	for _, m := range sorted {
		archive := "-"
		if m.ArchiveCardID > 0 {
			archive = strconv.Itoa(m.ArchiveCardID)
		}
		live := "no"
		if m.IsLive() {
			live = "yes"
		}
		rows = append(rows, table.Row{
			strconv.FormatInt(m.IncidentID, 10),
			strconv.Itoa(m.CardID),
			m.Stage.String(),
			archive,
			live,
		})
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		Bold(true)
	s.Selected = lipgloss.NewStyle() // Disable selection style for static view
	t.SetStyles(s)
	// Bordered header takes three lines.
	t.SetHeight(len(rows) + 3)
	return t.View()
}
