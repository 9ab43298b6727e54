// Package qradar reads offenses and their notes from the QRadar SIEM REST API.
package qradar

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/felixgeelhaar/fortify/timeout"
	"github.com/felixgeelhaar/offsync/pkg/domain/incident"
)

const (
	offensesPath      = "/api/siem/offenses"
	defaultAPIVersion = "12.0"
	defaultRange      = "items=0-49"
)

// Config holds connection settings for the tracker.
type Config struct {
	BaseURL            string
	Token              string
	Username           string
	Password           string
	APIVersion         string
	Range              string
	InsecureSkipVerify bool
	Timeout            time.Duration
	MaxAttempts        int
}

// Client implements incident.Provider against the QRadar API.
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

// WithLogger sets the logger used for skipped records.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("qradar base url is required")
	}
	if cfg.Token == "" && cfg.Username == "" {
		return nil, fmt.Errorf("qradar token or username is required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.Range == "" {
		cfg.Range = defaultRange
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		// #nosec G402 -- opt-in for appliances with self-signed certificates
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	c := &Client{
		cfg:  cfg,
		http: &http.Client{Transport: transport},
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

// ListOffenses returns the current page of offenses. Records failing schema validation are
// skipped and logged; the rest of the batch is still returned.
func (c *Client) ListOffenses(ctx context.Context) (incident.Snapshot, error) {
	body, err := c.get(ctx, offensesPath, true)
	if err != nil {
		return nil, fmt.Errorf("list offenses: %w", err)
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("list offenses: %w: %v", incident.ErrInvalidOffense, err)
	}

	snap := make(incident.Snapshot, 0, len(raws))
	for i, raw := range raws {
		inc, err := decodeOffense(raw)
		if err != nil {
			c.logger.Warn("skipping invalid offense record", "index", i, "error", err)
			continue
		}
		snap = append(snap, inc)
	}
	return snap, nil
}

// ListNotes returns the notes of one offense in tracker order.
func (c *Client) ListNotes(ctx context.Context, offenseID int64) ([]incident.Note, error) {
	path := offensesPath + "/" + strconv.FormatInt(offenseID, 10) + "/notes"
	body, err := c.get(ctx, path, false)
	if err != nil {
		return nil, fmt.Errorf("list notes for offense %d: %w", offenseID, err)
	}
	notes, err := decodeNotes(body)
	if err != nil {
		return nil, fmt.Errorf("list notes for offense %d: %w", offenseID, err)
	}
	return notes, nil
}

// StatusError is a non-success HTTP response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("qradar API error (%d): %s", e.StatusCode, e.Body)
}

// get issues a GET with retry on transport errors and 5xx, under a per-call timeout.
func (c *Client) get(ctx context.Context, path string, ranged bool) ([]byte, error) {
	r := retry.New[[]byte](c.retryCfg)
	t := timeout.New[[]byte](timeout.Config{DefaultTimeout: c.cfg.Timeout})

	var permanent error
	body, err := r.Do(ctx, func(ctx context.Context) ([]byte, error) {
		b, err := t.Execute(ctx, c.cfg.Timeout, func(ctx context.Context) ([]byte, error) {
			return c.doGet(ctx, path, ranged)
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

func (c *Client) doGet(ctx context.Context, path string, ranged bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Version", c.cfg.APIVersion)
	if ranged {
		req.Header.Set("Range", c.cfg.Range)
	}
	if c.cfg.Token != "" {
		req.Header.Set("SEC", c.cfg.Token)
	}
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
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
