package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/zombor/copescan/internal/scanning"
)

// newRecognizer initializes the OCR engine selected by --recognizer
func newRecognizer(cfg *config) (scanning.Recognizer, error) {
	switch *cfg.recognizer {
	case "tesseract":
		slog.Info("Initializing Tesseract recognizer...")
		recognizer, err := scanning.NewTesseract()
		if err != nil {
			return nil, fmt.Errorf("initializing tesseract: %w", err)
		}
		return recognizer, nil
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *cfg.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini recognizer...", "model", *cfg.geminiModel)
		recognizer, err := scanning.NewGemini(apiKey, *cfg.geminiModel)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini: %w", err)
		}
		return recognizer, nil
	case "ollama":
		slog.Info("Initializing Ollama recognizer...", "url", *cfg.ollamaURL, "model", *cfg.ollamaModel)
		recognizer, err := scanning.NewOllama(*cfg.ollamaURL, *cfg.ollamaModel)
		if err != nil {
			return nil, fmt.Errorf("initializing ollama: %w", err)
		}
		return recognizer, nil
	default:
		return nil, fmt.Errorf("invalid recognizer %q: valid recognizers are tesseract, gemini or ollama", *cfg.recognizer)
	}
}
