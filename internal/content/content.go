// Package content produces round topics and prompt images.
package content

import (
	"context"
	"errors"
	"fmt"
)

// Generator is implemented by OpenAI and Placard.
type Generator interface {
	GenerateTopic(ctx context.Context) (string, error)
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// FallbackTopic is used when the topic model answers with nothing.
const FallbackTopic = "A mysterious journey"

// GenerationError describes a failed topic or image request.
type GenerationError struct {
	Op     string // "topic" or "image"
	Status int    // HTTP status, 0 when the request never completed
	Msg    string
	Err    error
}

func (e *GenerationError) Error() string {
	msg := "generate " + e.Op
	if e.Status != 0 {
		msg += fmt.Sprintf(": status=%d", e.Status)
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GenerationError) Unwrap() error { return e.Err }

// IsGenerationError reports whether err came from a Generator.
func IsGenerationError(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge)
}
