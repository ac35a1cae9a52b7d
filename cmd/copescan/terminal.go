package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/zombor/copescan/internal/scan"
	"github.com/zombor/copescan/internal/scanning"
)

// errInputFailed is returned once the input stream can no longer be read
var errInputFailed = errors.New("reading input failed")

// Terminal captures wrapper photos by path and asks for confirmation on the
// same input stream.
type Terminal struct {
	in  *bufio.Reader
	out io.Writer
}

// NewTerminal creates a new Terminal
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{
		in:  bufio.NewReader(in),
		out: out,
	}
}

// Printf writes to the terminal output
func (t *Terminal) Printf(format string, args ...any) {
	fmt.Fprintf(t.out, format, args...)
}

// readLine prompts and returns the trimmed reply. A closed input yields an
// empty reply.
func (t *Terminal) readLine(prompt string) (string, error) {
	t.Printf("%s", prompt)
	line, err := t.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("%w: %w", errInputFailed, err)
	}
	return strings.TrimSpace(line), nil
}

// Capture asks for the path of a wrapper photo and decodes it. An empty path
// cancels.
func (t *Terminal) Capture(ctx context.Context) (image.Image, error) {
	path, err := t.readLine("Wrapper photo (empty to quit): ")
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	img, err := scanning.DecodeImage(data, mime.TypeByExtension(strings.ToLower(filepath.Ext(path))))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return img, nil
}

// Confirm shows the selected code and asks whether to submit it
func (t *Terminal) Confirm(ctx context.Context, ext *scanning.Extraction) (bool, error) {
	t.Printf("Code found: %s\n", ext.Code)
	if len(ext.Candidates) > 1 {
		t.Printf("Other candidates: %s\n", strings.Join(ext.Candidates[1:], ", "))
	}

	answer, err := t.readLine("Submit this code? [y/N]: ")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Report prints how a scan attempt ended
func (t *Terminal) Report(result *scan.Result) {
	switch {
	case !result.Extraction.Found():
		t.Printf("No code found. Try again with the code flat and well lit.\n")
	case !result.Confirmed:
		t.Printf("Not submitted.\n")
	case result.Outcome.Accepted():
		t.Printf("Submitted %s.\n", result.Outcome.Code)
	default:
		t.Printf("Submission failed: %s\n", result.Outcome)
	}
}
