package registry

import (
	"errors"
	"net/http"

	oai "github.com/openai/openai-go"
)

// PermanentError marks a failure that retrying the same provider cannot
// fix: bad credentials, an unknown model, a malformed request. The caller
// falls over to the next candidate without burning retry budget.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so IsPermanent recognises it. Returns nil for nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent classifies a provider error. Explicitly wrapped errors and
// 4xx API responses are permanent, except the retryable trio 408/409/429.
// Everything else (network resets, 5xx, timeouts) is transient.
func IsPermanent(err error) bool {
	var pe *PermanentError
	if errors.As(err, &pe) {
		return true
	}
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
			return false
		}
		return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
	}
	return false
}
