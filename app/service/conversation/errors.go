package conversation

import (
	"context"
	"errors"
	"fmt"

	"groupchat/app/client/openai"
)

// userFacingError translates a typed completion failure into the short
// message shown in the conversation as if the assistant said it. A cancelled
// call reads the same as a timeout.
func userFacingError(err error) string {
	var serverErr *openai.ServerError
	if errors.As(err, &serverErr) {
		if serverErr.Message != "" {
			return fmt.Sprintf("Sorry, there was an error: %s", serverErr.Message)
		}
		return fmt.Sprintf("Sorry, received an invalid response (code: %d). Please try again.", serverErr.Code)
	}

	switch {
	case errors.Is(err, openai.ErrMissingCredential):
		return "AI not configured for this conversation. Add an API key in the assistant settings."
	case errors.Is(err, openai.ErrUnauthorized):
		return "Invalid API key. Please check your API key configuration."
	case errors.Is(err, openai.ErrRateLimited):
		return "The assistant is receiving too many requests right now. Please try again shortly."
	case errors.Is(err, openai.ErrTimeout), errors.Is(err, context.Canceled):
		return "Request timed out. Please try again."
	case errors.Is(err, openai.ErrOffline):
		return "No internet connection. Please check your connection and try again."
	case errors.Is(err, openai.ErrConnectionLost):
		return "Network connection was lost. Please try again."
	case errors.Is(err, openai.ErrMalformedResponse):
		return "Sorry, there was an error processing the response. Please try again."
	default:
		return "Sorry, an unexpected error occurred. Please try again."
	}
}
