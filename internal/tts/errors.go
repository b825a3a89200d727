package tts

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors for TTS requests
var (
	ErrEmptyText        = errors.New("text is empty")
	ErrRateLimited      = errors.New("tts rate limit exceeded")
	ErrCreditsExhausted = errors.New("tts service credits exhausted")
	ErrNoAudio          = errors.New("tts response contained no audio")
	ErrRequestFailed    = errors.New("tts request failed")
)

// RemoteError carries the message the synthesis service returned.
// It unwraps to ErrRateLimited or ErrCreditsExhausted for 429 and 402.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("tts service error (status %d): %s", e.Status, e.Message)
}

func (e *RemoteError) Unwrap() error {
	switch e.Status {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusPaymentRequired:
		return ErrCreditsExhausted
	default:
		return nil
	}
}

// UserMessage turns a TTS failure into text fit for the listener
func UserMessage(err error) string {
	var remote *RemoteError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return "Too many audio requests right now. Please wait a moment and try again."
	case errors.Is(err, ErrCreditsExhausted):
		return "Audio credits are used up. Please check your plan and try again later."
	case errors.Is(err, ErrEmptyText):
		return "There is nothing to read aloud."
	case errors.As(err, &remote) && remote.Message != "":
		return "Audio could not be generated: " + remote.Message
	default:
		return "Audio is unavailable right now."
	}
}
