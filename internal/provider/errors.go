package provider

import "fmt"

// HTTPError carries a provider's HTTP failure with the raw response body
// intact. The send path surfaces that body verbatim to the caller; the
// poller uses the status code to pick between retry and backoff.
type HTTPError struct {
	Provider   string
	Operation  string
	StatusCode int
	RawBody    string
}

func (e *HTTPError) Error() string {
	if e.RawBody != "" {
		return e.RawBody
	}
	return fmt.Sprintf("%s %s: http %d", e.Provider, e.Operation, e.StatusCode)
}

// Retryable reports whether the failure is worth another attempt.
// Auth failures and client errors stay broken until a human intervenes;
// rate limits and server errors clear on their own.
func (e *HTTPError) Retryable() bool {
	if e.StatusCode == 429 {
		return true
	}
	return e.StatusCode >= 500
}
