package scanning

import (
	"context"
	"fmt"
	"image"
	"log/slog"
)

// Extraction is the result of reading one normalized image
type Extraction struct {
	Text       string   `json:"text"`
	Candidates []string `json:"candidates"`
	// Code is the first candidate in reading order, empty when none was found
	Code string `json:"code,omitempty"`
}

// Found reports whether a code was selected
func (e *Extraction) Found() bool {
	return e != nil && e.Code != ""
}

// Extractor runs a Recognizer and applies the first-match selection policy
type Extractor struct {
	recognizer Recognizer
}

// NewExtractor creates a new Extractor
func NewExtractor(recognizer Recognizer) *Extractor {
	return &Extractor{recognizer: recognizer}
}

// Extract recognizes img and selects a code. Finding no code is not an error.
func (e *Extractor) Extract(ctx context.Context, img *image.Gray) (*Extraction, error) {
	text, err := e.recognizer.Recognize(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("recognizing text: %w", err)
	}

	ext := &Extraction{
		Text:       text,
		Candidates: FindCandidates(text),
	}
	if len(ext.Candidates) > 0 {
		ext.Code = ext.Candidates[0]
	}

	if len(ext.Candidates) > 1 {
		slog.Warn("Multiple codes detected, using the first", "candidates", ext.Candidates)
	} else {
		slog.Debug("Extraction finished", "candidates", ext.Candidates)
	}

	return ext, nil
}
