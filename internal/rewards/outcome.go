package rewards

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Status classifies the result of one submission
type Status int

const (
	// Accepted means the rewards site answered the submission with a 2xx status
	Accepted Status = iota + 1
	// Rejected means the submission reached the site and got a non-2xx status
	Rejected
	// TransportFailure means the round-trip could not be completed
	TransportFailure
)

func (s Status) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case TransportFailure:
		return "transport_failure"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the status by name
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a status name
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for _, candidate := range []Status{Accepted, Rejected, TransportFailure} {
		if candidate.String() == name {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown submission status %q", name)
}

// Step names the exchange of the round-trip an outcome was decided in
type Step string

const (
	StepFetch  Step = "fetch"
	StepSubmit Step = "submit"
)

// Outcome is the result of submitting one code
type Outcome struct {
	Status Status `json:"status"`
	Code   string `json:"code"`
	Step   Step   `json:"step"`
	// StatusCode is the HTTP status of the deciding exchange, 0 when none arrived
	StatusCode int `json:"status_code,omitempty"`
	// Err is the transport error behind a TransportFailure
	Err error `json:"-"`
}

// Accepted reports whether the code was accepted
func (o Outcome) Accepted() bool {
	return o.Status == Accepted
}

// Reason describes why a submission was not accepted. For a rejection it is
// the HTTP status code.
func (o Outcome) Reason() string {
	switch o.Status {
	case Rejected:
		return strconv.Itoa(o.StatusCode)
	case TransportFailure:
		if o.Err != nil {
			return o.Err.Error()
		}
		return fmt.Sprintf("status %d", o.StatusCode)
	default:
		return ""
	}
}

func (o Outcome) String() string {
	switch o.Status {
	case Accepted:
		return fmt.Sprintf("code %s accepted", o.Code)
	case Rejected:
		return fmt.Sprintf("code %s rejected during %s: status %s", o.Code, o.Step, o.Reason())
	default:
		return fmt.Sprintf("code %s not submitted, %s failed: %s", o.Code, o.Step, o.Reason())
	}
}
