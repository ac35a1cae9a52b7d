package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/copescan/internal/preprocess"
	"github.com/zombor/copescan/internal/scanning"
)

var (
	// ErrScanNotPending is returned when confirming or declining a scan that
	// has no code awaiting confirmation
	ErrScanNotPending = errors.New("scan is not awaiting confirmation")
	// ErrInvalidCode is returned for a typed code that does not look like a code
	ErrInvalidCode = errors.New("invalid code")
	// ErrUnreadableImage is returned when an upload cannot be decoded
	ErrUnreadableImage = errors.New("unreadable image")
	// ErrRecognitionFailed is returned when the recognizer could not process an image
	ErrRecognitionFailed = errors.New("recognition failed")
)

// IDGenerator generates unique IDs for scans
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles scans that are confirmed in a separate request, as the
// HTTP API does. Calls are serialized: the rewards session and the
// recognizer serve one scan at a time.
type Service struct {
	mu          sync.Mutex
	db          DB
	storage     Storage
	extractor   Extractor
	submitter   Submitter
	metrics     *Metrics
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, storage Storage, extractor Extractor, submitter Submitter) *Service {
	return NewServiceWithDeps(db, storage, extractor, submitter, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, storage Storage, extractor Extractor, submitter Submitter, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		extractor:   extractor,
		submitter:   submitter,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// UseMetrics makes the service count scans and submissions
func (s *Service) UseMetrics(m *Metrics) {
	s.metrics = m
}

// ScanImage stores an uploaded photo, reads the code from it and records the
// scan. A scan with a code is left pending until ConfirmScan or DeclineScan.
func (s *Service) ScanImage(ctx context.Context, filename string, data []byte, contentType string) (*Scan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	img, err := scanning.DecodeImage(data, contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding image: %w", ErrUnreadableImage, err)
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	start := time.Now()
	ext, err := s.extractor.Extract(ctx, preprocess.Normalize(img))
	if err != nil {
		s.metrics.observeScan("error", time.Since(start))
		slog.Error("Failed to extract code",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		s.deleteFile(savedPath)
		return nil, fmt.Errorf("%w: extracting code: %w", ErrRecognitionFailed, err)
	}

	scan := &Scan{
		ID:          id,
		Source:      SourceUpload,
		Filename:    savedPath,
		ContentType: contentType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	scan.applyExtraction(ext)
	if ext.Found() {
		s.metrics.observeScan("found", time.Since(start))
	} else {
		s.metrics.observeScan("no_code", time.Since(start))
	}

	if err := s.db.SaveScan(scan); err != nil {
		s.deleteFile(savedPath)
		return nil, fmt.Errorf("saving scan to database: %w", err)
	}

	return scan, nil
}

// ConfirmScan submits the code of a pending scan. The scan is submitted at
// most once; a second confirmation returns ErrScanNotPending.
func (s *Service) ConfirmScan(ctx context.Context, id string) (*Scan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scan, err := s.pendingScan(id)
	if err != nil {
		return nil, err
	}

	outcome := s.submitter.Submit(ctx, scan.Code)
	s.metrics.observeSubmission(outcome)
	scan.applyOutcome(outcome, s.timeSource.Now())

	if err := s.db.SaveScan(scan); err != nil {
		return nil, fmt.Errorf("saving scan to database: %w", err)
	}
	return scan, nil
}

// DeclineScan closes a pending scan without submitting it
func (s *Service) DeclineScan(id string) (*Scan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scan, err := s.pendingScan(id)
	if err != nil {
		return nil, err
	}

	scan.Status = StatusDeclined
	scan.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveScan(scan); err != nil {
		return nil, fmt.Errorf("saving scan to database: %w", err)
	}
	return scan, nil
}

func (s *Service) pendingScan(id string) (*Scan, error) {
	scan, err := s.db.GetScan(id)
	if err != nil {
		return nil, fmt.Errorf("getting scan: %w", err)
	}
	if scan.Status != StatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrScanNotPending, id, scan.Status)
	}
	return scan, nil
}

// SubmitCode submits a code typed by hand and records the attempt
func (s *Service) SubmitCode(ctx context.Context, code string) (*Scan, error) {
	normalized, ok := scanning.NormalizeCode(code)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.timeSource.Now()
	scan := &Scan{
		ID:         s.idGenerator.Generate(),
		Source:     SourceManual,
		Candidates: []string{normalized},
		Code:       normalized,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	outcome := s.submitter.Submit(ctx, normalized)
	s.metrics.observeSubmission(outcome)
	scan.applyOutcome(outcome, s.timeSource.Now())

	if err := s.db.SaveScan(scan); err != nil {
		return nil, fmt.Errorf("saving scan to database: %w", err)
	}
	return scan, nil
}

// GetScan retrieves a scan by ID
func (s *Service) GetScan(id string) (*Scan, error) {
	scan, err := s.db.GetScan(id)
	if err != nil {
		return nil, fmt.Errorf("getting scan: %w", err)
	}
	return scan, nil
}

// ListScans returns the most recent scans, newest first. A non-positive
// limit returns all of them.
func (s *Service) ListScans(limit int) ([]*Scan, error) {
	scans, err := s.db.ListScans()
	if err != nil {
		return nil, fmt.Errorf("listing scans: %w", err)
	}
	if limit > 0 && len(scans) > limit {
		scans = scans[:limit]
	}
	return scans, nil
}

// GetScanImage retrieves the photo a scan was read from
func (s *Service) GetScanImage(id string) ([]byte, string, error) {
	scan, err := s.db.GetScan(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting scan: %w", err)
	}
	if scan.Filename == "" {
		return nil, "", fmt.Errorf("scan %s has no image", id)
	}

	data, err := s.storage.Get(scan.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting scan image: %w", err)
	}
	return data, scan.ContentType, nil
}

// DeleteScan removes a scan and its image
func (s *Service) DeleteScan(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	scan, err := s.db.GetScan(id)
	if err != nil {
		return fmt.Errorf("getting scan for deletion: %w", err)
	}

	if scan.Filename != "" {
		s.deleteFile(scan.Filename)
	}

	if err := s.db.DeleteScan(id); err != nil {
		return fmt.Errorf("deleting scan from database: %w", err)
	}
	return nil
}

// deleteFile removes a stored image. Failing to do so is logged, not returned.
func (s *Service) deleteFile(name string) {
	if err := s.storage.Delete(name); err != nil {
		slog.Warn("Failed to delete file", "filename", name, "error", err)
	}
}
