// Package apierr defines the typed errors returned by the outbound API
// clients (embedding, chat completion, deep-document reasoning). Callers
// match them with [errors.As] to decide between failing fast and degrading
// gracefully.
package apierr

import "fmt"

// ConfigError reports a missing or unusable credential or endpoint.
// It is raised before any network call is attempted and is not retryable.
type ConfigError struct {
	// Setting is the name of the missing configuration value.
	Setting string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", e.Setting)
}

// UpstreamError reports a failed exchange with an external service: a
// non-2xx status, or a response body that could not be decoded.
type UpstreamError struct {
	// Service is a short label for the upstream ("embedding", "model", "reasoning").
	Service string
	// Status is the HTTP status code of the failed exchange.
	Status int
	// Message is the upstream's own error message, when one was decodable.
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Service, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d", e.Service, e.Status)
}

// ValidationError reports a well-formed upstream response that violates a
// shape invariant, such as an embedding of the wrong length.
type ValidationError struct {
	// Service is a short label for the upstream that produced the value.
	Service string
	// Reason describes the violated invariant.
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Service, e.Reason)
}
