package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/sashabaranov/go-openai"
)

var (
	// ErrMissingCredential means no API key is configured for the
	// conversation. The orchestrator gates on this before calling, so
	// hitting it here is defensive.
	ErrMissingCredential = errors.New("no API key configured for this conversation")

	ErrUnauthorized      = errors.New("API key was rejected")
	ErrRateLimited       = errors.New("rate limited by the completion API")
	ErrTimeout           = errors.New("completion request timed out")
	ErrConnectionLost    = errors.New("connection lost during completion request")
	ErrOffline           = errors.New("no network connection")
	ErrMalformedResponse = errors.New("completion response could not be parsed")
)

// ServerError is a non-2xx status that is not an auth or rate-limit failure.
// Message carries the upstream error body verbatim when one was present.
type ServerError struct {
	Code    int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("completion API error (status %d): %s", e.Code, e.Message)
	}

	return fmt.Sprintf("completion API request failed with status %d", e.Code)
}

// classify maps go-openai and transport failures onto the typed taxonomy.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, apiErr.Message)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode > 0 {
			return classifyStatus(reqErr.HTTPStatusCode, "")
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrOffline
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EHOSTUNREACH):
		return ErrOffline
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF):
		return ErrConnectionLost
	}

	return fmt.Errorf("completion request failed: %w", err)
}

func classifyStatus(status int, message string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUnauthorized
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return &ServerError{Code: status, Message: message}
	}
}
