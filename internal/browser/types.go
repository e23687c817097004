package browser

import (
	"encoding/json"
	"fmt"
)

// APIResponse is the generic envelope returned by the session service.
type APIResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

type contextCreated struct {
	ID string `json:"id"`
}

type evaluateResult struct {
	Value any `json:"value"`
}

type navigateRequest struct {
	URL       string `json:"url"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`
}

type evaluateRequest struct {
	Script string `json:"script"`
}

// APIError is returned when the session service answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("browser api status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("browser api status %d", e.StatusCode)
}
