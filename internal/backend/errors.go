package backend

import (
	"errors"
	"fmt"
)

// APIError is returned when the tutor service answers with a non-2xx status
type APIError struct {
	Op         string // Operation name, e.g. "process_answer"
	StatusCode int
	Status     string
	Detail     string // Server supplied "detail", empty when absent
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s - %s", e.Op, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Status)
}

// DetailOr returns the server detail carried by err, or fallback when err
// carries none.
func DetailOr(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return fallback
}
