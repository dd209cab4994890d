package airtable

import (
	"fmt"
	"strings"
)

// RetryableError is a failure worth retrying: HTTP 429, any 5xx, or a
// transport error (StatusCode 0).
type RetryableError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *RetryableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("request failed: %v", e.Err)
	}
	return fmt.Sprintf("retryable server response: %d, %s", e.StatusCode, e.Body)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// Temporary marks the error as retryable for the retry wrapper.
func (e *RetryableError) Temporary() bool { return true }

// NonRetryableError is any other 4xx response. It is never retried.
type NonRetryableError struct {
	StatusCode int
	Body       string
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("Server response: %d, %s", e.StatusCode, e.Body)
}

func (e *NonRetryableError) Temporary() bool { return false }

// MissingBasesError is returned by GetBases when requested base ids are not
// among the bases the token can access.
type MissingBasesError struct {
	IDs []string
}

func (e *MissingBasesError) Error() string {
	return fmt.Sprintf("Base ids missing {%s}", strings.Join(e.IDs, ", "))
}
