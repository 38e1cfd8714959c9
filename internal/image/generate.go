package image

import "context"

type Params struct {
	CardID int    `json:"cardId"`
	Prompt string `json:"prompt"`
}

// Generator turns a prompt into image bytes. Implementations return non-empty
// data or an *Error and never retry on their own.
type Generator interface {
	Generate(context.Context, Params) ([]byte, error)
}
