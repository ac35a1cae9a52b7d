package scanning

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract implements the Recognizer interface using a local Tesseract
// installation. It reads the image as a single uniform block of text.
type Tesseract struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// NewTesseract creates a new Tesseract Recognizer restricted to CodeAlphabet
func NewTesseract() (*Tesseract, error) {
	client := gosseract.NewClient()
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting page segmentation mode: %w", err)
	}
	if err := client.SetWhitelist(CodeAlphabet); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting character whitelist: %w", err)
	}
	return &Tesseract{client: client}, nil
}

// Recognize returns the text Tesseract reads from img. The call is not
// interruptible; ctx is only checked before starting.
func (t *Tesseract) Recognize(ctx context.Context, img *image.Gray) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	imageData, err := encodePNG(img)
	if err != nil {
		return "", err
	}

	// gosseract clients hold a single TessBaseAPI
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.client.SetImageFromBytes(imageData); err != nil {
		return "", fmt.Errorf("loading image into tesseract: %w", err)
	}
	text, err := t.client.Text()
	if err != nil {
		return "", fmt.Errorf("running tesseract: %w", err)
	}
	return text, nil
}

// Close releases the Tesseract engine
func (t *Tesseract) Close() error {
	return t.client.Close()
}
