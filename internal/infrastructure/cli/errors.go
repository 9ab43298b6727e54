package cli

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/felixgeelhaar/offsync/internal/infrastructure/config"
	"github.com/felixgeelhaar/offsync/pkg/deck"
	"github.com/felixgeelhaar/offsync/pkg/domain/board"
	"github.com/felixgeelhaar/offsync/pkg/domain/tracking"
	"github.com/felixgeelhaar/offsync/pkg/qradar"
)

// CLIError wraps domain errors with user-facing messages and actionable hints.
type CLIError struct {
	Message  string
	Hint     string
	Err      error
	ExitCode int
}

func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a CLIError with a default exit code of 1.
func NewCLIError(msg, hint string, err error) *CLIError {
	return &CLIError{
		Message:  msg,
		Hint:     hint,
		Err:      err,
		ExitCode: 1,
	}
}

// MapError converts known domain errors into CLIErrors with actionable hints.
// Unmapped errors are returned as-is.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		return err
	}

	var storeErr *tracking.StoreError
	if errors.As(err, &storeErr) {
		return NewCLIError(
			"mapping store unavailable",
			fmt.Sprintf("Check that %s is readable and writable (sync.mapping_file)", storeErr.Path),
			err,
		)
	}

	var qradarErr *qradar.StatusError
	if errors.As(err, &qradarErr) && isAuthStatus(qradarErr.StatusCode) {
		return NewCLIError("QRadar rejected the credentials", "Check qradar.token or OFFSYNC_QRADAR_TOKEN", err)
	}

	var deckErr *deck.StatusError
	if errors.As(err, &deckErr) && isAuthStatus(deckErr.StatusCode) && !errors.Is(err, board.ErrCardNotFound) {
		return NewCLIError("Nextcloud rejected the credentials", "Check deck.username and OFFSYNC_DECK_PASSWORD", err)
	}

	switch {
	case errors.Is(err, config.ErrInvalid):
		return NewCLIError("configuration is incomplete",
			"Fill the listed fields in offsync.yaml or set the OFFSYNC_* environment variables", err)
	case errors.Is(err, board.ErrLabelNotFound):
		return NewCLIError("board label missing",
			"Create the label on the board or set deck.action_label / deck.finished_label", err)
	}

	return err
}

func isAuthStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}
