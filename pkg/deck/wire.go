package deck

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/felixgeelhaar/offsync/pkg/domain/board"
)

var dueDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// wireCard is the Deck JSON representation of a card.
type wireCard struct {
	ID          int             `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	StackID     int             `json:"stackId"`
	Type        string          `json:"type"`
	Order       int             `json:"order"`
	DueDate     *string         `json:"duedate"`
	Owner       json.RawMessage `json:"owner"`
	Labels      []board.Label   `json:"labels"`
	Archived    bool            `json:"archived"`
	DeletedAt   int64           `json:"deletedAt"`
}

func (w wireCard) toCard() board.Card {
	c := board.Card{
		ID:          w.ID,
		Title:       w.Title,
		Description: w.Description,
		StackID:     w.StackID,
		Type:        w.Type,
		Order:       w.Order,
		Owner:       parseOwner(w.Owner),
		Labels:      w.Labels,
		Archived:    w.Archived,
	}
	if w.DueDate != nil {
		c.DueDate = parseDueDate(*w.DueDate)
	}
	return c
}

// parseOwner accepts both the plain uid string and the user object newer Deck versions return.
func parseOwner(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var uid string
	if err := json.Unmarshal(raw, &uid); err == nil {
		return uid
	}
	var user struct {
		UID        string `json:"uid"`
		PrimaryKey string `json:"primaryKey"`
	}
	if err := json.Unmarshal(raw, &user); err == nil {
		if user.UID != "" {
			return user.UID
		}
		return user.PrimaryKey
	}
	return ""
}

func parseDueDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dueDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// cardPayload is the create-card request body.
type cardPayload struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Type        string  `json:"type"`
	Order       int     `json:"order"`
	DueDate     *string `json:"duedate"`
	Owner       string  `json:"owner,omitempty"`
	Labels      []int   `json:"labels,omitempty"`
}

func payloadFrom(d board.CardDraft) cardPayload {
	p := cardPayload{
		Title:       d.Title,
		Description: d.Description,
		Type:        d.Type,
		Order:       d.Order,
		Owner:       d.Owner,
		Labels:      d.LabelIDs,
	}
	if p.Type == "" {
		p.Type = board.CardTypePlain
	}
	if !d.DueDate.IsZero() {
		due := d.DueDate.UTC().Format(time.RFC3339)
		p.DueDate = &due
	}
	return p
}

type boardDetails struct {
	ID     int           `json:"id"`
	Title  string        `json:"title"`
	Labels []board.Label `json:"labels"`
}

type commentPayload struct {
	Message  string `json:"message"`
	ParentID *int   `json:"parentId"`
}

type assignUserPayload struct {
	UserID string `json:"userId"`
}

type assignLabelPayload struct {
	LabelID int `json:"labelId"`
}
