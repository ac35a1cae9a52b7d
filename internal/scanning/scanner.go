package scanning

import (
	"context"
	"image"
)

// CodeAlphabet is the character set a promotional code is printed in.
// Recognizers are restricted to it.
const CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// MinCodeLength is the shortest run of CodeAlphabet characters accepted as a code
const MinCodeLength = 6

// Recognizer defines the interface for optical character recognition engines
type Recognizer interface {
	// Recognize returns the raw text found in a normalized image
	Recognize(ctx context.Context, img *image.Gray) (string, error)
	// Close closes the recognizer and releases resources
	Close() error
}
