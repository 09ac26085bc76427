package bubbleclient

import (
	"fmt"
	"net/http"
)

type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bubble api error (%d): %s", e.Status, e.Message)
}

// Retryable reports whether the same request may succeed later. Other 4xx
// responses mean the write itself is wrong.
func (e *APIError) Retryable() bool {
	switch e.Status {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return true
	}
	return e.Status >= 500
}
