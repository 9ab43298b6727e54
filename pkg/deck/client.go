// Package deck manages cards on a Nextcloud Deck board through its REST API.
package deck

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/felixgeelhaar/fortify/timeout"
	"github.com/felixgeelhaar/offsync/pkg/domain/board"
)

const (
	apiPrefix = "/index.php/apps/deck/api/v1.0"
	ocsPrefix = "/ocs/v2.php/apps/deck/api/v1.0"
)

// Config holds connection settings for one board.
type Config struct {
	BaseURL     string
	Username    string
	Password    string
	BoardID     int
	Timeout     time.Duration
	MaxAttempts int
}

// Client implements board.Client against Nextcloud Deck.
type Client struct {
	cfg      Config
	http     *http.Client
	retryCfg retry.Config
	logger   *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("deck base url is required")
	}
	if cfg.Username == "" {
		return nil, fmt.Errorf("deck username is required")
	}
	if cfg.BoardID <= 0 {
		return nil, fmt.Errorf("deck board id is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	c := &Client{
		cfg:  cfg,
		http: &http.Client{},
		retryCfg: retry.Config{
			MaxAttempts:   cfg.MaxAttempts,
			InitialDelay:  200 * time.Millisecond,
			BackoffPolicy: retry.BackoffExponential,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BoardID returns the configured board.
func (c *Client) BoardID() int {
	return c.cfg.BoardID
}

// LabelID resolves a label title on the board.
func (c *Client) LabelID(ctx context.Context, title string) (int, error) {
	body, err := c.call(ctx, http.MethodGet, c.boardPath(), nil)
	if err != nil {
		return 0, fmt.Errorf("fetch labels of board %d: %w", c.cfg.BoardID, err)
	}

	var details boardDetails
	if err := json.Unmarshal(body, &details); err != nil {
		return 0, fmt.Errorf("decode board %d: %w", c.cfg.BoardID, err)
	}
	for _, l := range details.Labels {
		if l.Title == title {
			return l.ID, nil
		}
	}
	return 0, fmt.Errorf("%w: %q on board %d", board.ErrLabelNotFound, title, c.cfg.BoardID)
}

// CreateCard creates a card in the stack. Deck ignores labels in the create payload on some
// versions, so any requested label missing from the response is assigned afterwards.
func (c *Client) CreateCard(ctx context.Context, stackID int, draft board.CardDraft) (*board.Card, error) {
	body, err := c.call(ctx, http.MethodPost, c.cardsPath(stackID), payloadFrom(draft))
	if err != nil {
		return nil, fmt.Errorf("create card in stack %d: %w", stackID, err)
	}

	var wc wireCard
	if err := json.Unmarshal(body, &wc); err != nil {
		return nil, fmt.Errorf("decode created card: %w", err)
	}
	if wc.ID <= 0 {
		return nil, fmt.Errorf("create card in stack %d: response has no card id", stackID)
	}
	card := wc.toCard()

	have := card.LabelIDs()
	for _, labelID := range draft.LabelIDs {
		if slices.Contains(have, labelID) {
			continue
		}
		if err := c.AssignLabel(ctx, stackID, card.ID, labelID); err != nil {
			// The card exists; a missing label is cosmetic and must not hide the card id.
			c.logger.Warn("failed to assign label to new card",
				"card_id", card.ID, "label_id", labelID, "error", err)
			continue
		}
		card.Labels = append(card.Labels, board.Label{ID: labelID})
	}
	return &card, nil
}

// GetCard reads a card.
func (c *Client) GetCard(ctx context.Context, stackID, cardID int) (*board.Card, error) {
	body, err := c.call(ctx, http.MethodGet, c.cardPath(stackID, cardID), nil)
	if err != nil {
		return nil, fmt.Errorf("get card %d: %w", cardID, err)
	}

	var wc wireCard
	if err := json.Unmarshal(body, &wc); err != nil {
		return nil, fmt.Errorf("decode card %d: %w", cardID, err)
	}
	if wc.DeletedAt > 0 {
		return nil, fmt.Errorf("get card %d: %w: %w", cardID, board.ErrCardNotFound, board.ErrCardDeleted)
	}
	card := wc.toCard()
	return &card, nil
}

// DeleteCard removes a card.
func (c *Client) DeleteCard(ctx context.Context, stackID, cardID int) error {
	if _, err := c.call(ctx, http.MethodDelete, c.cardPath(stackID, cardID), nil); err != nil {
		return fmt.Errorf("delete card %d: %w", cardID, err)
	}
	return nil
}

// AddComment posts a top-level comment through the OCS API.
func (c *Client) AddComment(ctx context.Context, cardID int, message string) error {
	path := ocsPrefix + "/cards/" + strconv.Itoa(cardID) + "/comments"
	if _, err := c.call(ctx, http.MethodPost, path, commentPayload{Message: message}); err != nil {
		return fmt.Errorf("comment on card %d: %w", cardID, err)
	}
	return nil
}

// AssignUser assigns a board user to a card.
func (c *Client) AssignUser(ctx context.Context, stackID, cardID int, userID string) error {
	path := c.cardPath(stackID, cardID) + "/assignUser"
	if _, err := c.call(ctx, http.MethodPut, path, assignUserPayload{UserID: userID}); err != nil {
		return fmt.Errorf("assign %q to card %d: %w", userID, cardID, err)
	}
	return nil
}

// AssignLabel appends a label to a card.
func (c *Client) AssignLabel(ctx context.Context, stackID, cardID, labelID int) error {
	path := c.cardPath(stackID, cardID) + "/assignLabel"
	if _, err := c.call(ctx, http.MethodPut, path, assignLabelPayload{LabelID: labelID}); err != nil {
		return fmt.Errorf("assign label %d to card %d: %w", labelID, cardID, err)
	}
	return nil
}

func (c *Client) boardPath() string {
	return apiPrefix + "/boards/" + strconv.Itoa(c.cfg.BoardID)
}

func (c *Client) cardsPath(stackID int) string {
	return c.boardPath() + "/stacks/" + strconv.Itoa(stackID) + "/cards"
}

func (c *Client) cardPath(stackID, cardID int) string {
	return c.cardsPath(stackID) + "/" + strconv.Itoa(cardID)
}

// StatusError is a non-success HTTP response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("deck API error (%d): %s", e.StatusCode, e.Body)
}

// Is maps 404 onto board.ErrCardNotFound and an explicit "card is deleted" response onto
// both board.ErrCardNotFound and board.ErrCardDeleted.
func (e *StatusError) Is(target error) bool {
	deleted := (e.StatusCode == http.StatusForbidden || e.StatusCode == http.StatusNotFound) &&
		strings.Contains(strings.ToLower(e.Body), "card is deleted")
	switch target {
	case board.ErrCardDeleted:
		return deleted
	case board.ErrCardNotFound:
		return deleted || e.StatusCode == http.StatusNotFound
	}
	return false
}

// call performs one API request, retrying idempotent methods on transport errors and 5xx.
func (c *Client) call(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
	}

	retryCfg := c.retryCfg
	if method == http.MethodPost {
		// POST creates resources; a retried create can duplicate the card or comment.
		retryCfg.MaxAttempts = 1
	}
	r := retry.New[[]byte](retryCfg)
	t := timeout.New[[]byte](timeout.Config{DefaultTimeout: c.cfg.Timeout})

	var permanent error
	body, err := r.Do(ctx, func(ctx context.Context) ([]byte, error) {
		b, err := t.Execute(ctx, c.cfg.Timeout, func(ctx context.Context) ([]byte, error) {
			return c.do(ctx, method, path, data)
		})
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode < 500 {
			permanent = err
			return nil, nil
		}
		return b, err
	})
	if permanent != nil {
		return nil, permanent
	}
	return body, err
}

func (c *Client) do(ctx context.Context, method, path string, data []byte) ([]byte, error) {
	var reqBody io.Reader
	if data != nil {
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Header.Set("OCS-APIRequest", "true")
	req.Header.Set("Accept", "application/json")
	if data != nil {
		req.Header.Set("Content-Type", "application/json;charset=utf-8")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
