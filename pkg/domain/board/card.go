// Package board models kanban cards on the board system and the client port used to manage them.
package board

import (
	"context"
	"errors"
	"slices"
	"time"
)

var (
	// ErrLabelNotFound indicates the board has no label with the requested title.
	ErrLabelNotFound = errors.New("label not found on board")

	// ErrCardNotFound indicates the board did not return the card. It can also mean a wrong stack.
	ErrCardNotFound = errors.New("card not found")

	// ErrCardDeleted indicates the board explicitly reported the card as deleted.
	ErrCardDeleted = errors.New("card is deleted")
)

// Card type and ordering used for every card this service creates.
const (
	CardTypePlain = "plain"
	DefaultOrder  = 999
)

// Label is a board label.
type Label struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Color string `json:"color,omitempty"`
}

// Card is the board's representation of a card.
type Card struct {
	ID          int       `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StackID     int       `json:"stackId"`
	Type        string    `json:"type"`
	Order       int       `json:"order"`
	DueDate     time.Time `json:"duedate"`
	Owner       string    `json:"owner"`
	Labels      []Label   `json:"labels"`
	Archived    bool      `json:"archived"`
}

// LabelIDs returns the ids of all labels on the card.
func (c Card) LabelIDs() []int {
	ids := make([]int, 0, len(c.Labels))
	for _, l := range c.Labels {
		ids = append(ids, l.ID)
	}
	return ids
}

// CardDraft is the payload for creating a card.
type CardDraft struct {
	Title       string
	Description string
	Type        string
	Order       int
	DueDate     time.Time
	Owner       string
	LabelIDs    []int
}

// WithLabel returns a copy of the draft with labelID appended, unless already present.
func (d CardDraft) WithLabel(labelID int) CardDraft {
	if slices.Contains(d.LabelIDs, labelID) {
		return d
	}
	ids := make([]int, 0, len(d.LabelIDs)+1)
	ids = append(ids, d.LabelIDs...)
	d.LabelIDs = append(ids, labelID)
	return d
}

// DraftFrom builds a creation payload that duplicates an existing card.
func DraftFrom(c Card) CardDraft {
	return CardDraft{
		Title:       c.Title,
		Description: c.Description,
		Type:        c.Type,
		Order:       c.Order,
		DueDate:     c.DueDate,
		Owner:       c.Owner,
		LabelIDs:    c.LabelIDs(),
	}
}

// Client manages cards on one board.
type Client interface {
	// LabelID resolves a label title to its id on the configured board.
	LabelID(ctx context.Context, title string) (int, error)
	// CreateCard creates a card in the given stack and returns it.
	CreateCard(ctx context.Context, stackID int, draft CardDraft) (*Card, error)
	// GetCard reads the full card.
	GetCard(ctx context.Context, stackID, cardID int) (*Card, error)
	// DeleteCard removes the card from its stack.
	DeleteCard(ctx context.Context, stackID, cardID int) error
	// AddComment posts a comment on the card.
	AddComment(ctx context.Context, cardID int, message string) error
	// AssignUser assigns a board user to the card.
	AssignUser(ctx context.Context, stackID, cardID int, userID string) error
}
