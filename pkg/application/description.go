package application

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/offsync/pkg/domain/incident"
)

// DefaultComment is posted on every new card.
const DefaultComment = "Working on progress... Will update you with the results"

// CardTitle names the card for an incident.
func CardTitle(id int64) string {
	return "Offense ID " + strconv.FormatInt(id, 10)
}

// CardDescription renders the incident fields in their fixed order.
func CardDescription(inc incident.Incident) string {
	lines := []string{
		fmt.Sprintf("This event has been triggered: %d", inc.EventCount),
		fmt.Sprintf("The user who handles this offense: %s", inc.AssignedTo),
		fmt.Sprintf("Offense Source: %s", inc.OffenseSource),
		fmt.Sprintf("Status: %s", inc.Status),
		fmt.Sprintf("Categories: %s", strings.Join(inc.Categories, ", ")),
		fmt.Sprintf("Description: %s", strings.TrimSpace(inc.Description)),
		fmt.Sprintf("Severity: %d", inc.Severity),
		fmt.Sprintf("Magnitude: %d", inc.Magnitude),
	}
	return strings.Join(lines, "\n")
}

// AppendNotes adds the notes block to a card description.
func AppendNotes(description string, notes []incident.Note) string {
	return description + "\n\nNotes:\n" + incident.JoinNotes(notes)
}
