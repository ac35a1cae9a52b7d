package scan

import (
	"time"

	"github.com/zombor/copescan/internal/rewards"
	"github.com/zombor/copescan/internal/scanning"
)

// Status is where a scan stands in its lifecycle
type Status string

const (
	StatusNoCode   Status = "no_code"  // nothing code-shaped was recognized
	StatusPending  Status = "pending"  // a code was found and awaits confirmation
	StatusDeclined Status = "declined" // the user chose not to submit
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed" // the submission never completed
)

// Source tells how the code reached the tool
type Source string

const (
	SourceCapture Source = "capture"
	SourceUpload  Source = "upload"
	SourceManual  Source = "manual"
)

// Scan is one scan attempt and, once submitted, its outcome
type Scan struct {
	ID          string    `json:"id"`
	Source      Source    `json:"source"`
	Filename    string    `json:"filename,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Text        string    `json:"text,omitempty"`
	Candidates  []string  `json:"candidates"`
	Code        string    `json:"code,omitempty"`
	Status      Status    `json:"status"`
	Step        string    `json:"step,omitempty"`        // round-trip step that decided the outcome
	StatusCode  int       `json:"status_code,omitempty"` // HTTP status of that step
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// applyExtraction records what the recognizer found
func (s *Scan) applyExtraction(ext *scanning.Extraction) {
	s.Text = ext.Text
	s.Candidates = ext.Candidates
	s.Code = ext.Code
	if ext.Found() {
		s.Status = StatusPending
	} else {
		s.Status = StatusNoCode
	}
}

// applyOutcome records the result of the submission
func (s *Scan) applyOutcome(o rewards.Outcome, now time.Time) {
	switch o.Status {
	case rewards.Accepted:
		s.Status = StatusAccepted
	case rewards.Rejected:
		s.Status = StatusRejected
	default:
		s.Status = StatusFailed
	}
	s.Step = string(o.Step)
	s.StatusCode = o.StatusCode
	s.Reason = o.Reason()
	s.UpdatedAt = now
}
