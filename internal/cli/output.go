package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gtm-datalayer/internal/model"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // check failed: tracking missing or inactive
	ExitCommandError = 2 // bad input, unreachable store, etc.
)

// ExitError is an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors that are not an
// ExitError map to ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeEvents prints the data layer records, one event per line in text
// format. Clearing records are omitted from text output.
func writeEvents(w io.Writer, format string, records []model.Record) error {
	if format == "json" {
		if records == nil {
			records = []model.Record{}
		}
		return writeJSON(w, records)
	}
	for _, r := range records {
		if r.IsClear() {
			continue
		}
		ev := r.Event
		ids := make([]string, len(ev.Items))
		for i, it := range ev.Items {
			ids[i] = it.ItemID
		}
		fmt.Fprintf(w, "%-20s %8.2f %-3s %v\n", ev.Name, ev.Value, ev.Currency, ids)
	}
	return nil
}
