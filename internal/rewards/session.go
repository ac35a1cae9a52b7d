// Package rewards submits promotional codes to the rewards site over an
// authenticated, cookie-carrying HTTP session.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// DefaultEndpoint is the rewards entry page. GET establishes the session,
// POST submits a code.
const DefaultEndpoint = "https://www.freshcope.com/rewards/earn"

// DefaultTimeout bounds each exchange of a submission
const DefaultTimeout = 30 * time.Second

var (
	// ErrMissingSecret is returned when no password was configured
	ErrMissingSecret = errors.New("rewards password is required")
	// ErrMissingUsername is returned when no username was configured
	ErrMissingUsername = errors.New("rewards username is required")
)

// Credentials identify the rewards account
type Credentials struct {
	Username string
	Password string
}

// Session holds the identity and the cookie state shared by every
// submission of the process. It is not safe for concurrent use.
type Session struct {
	endpoint string
	creds    Credentials
	client   *http.Client
	timeout  time.Duration
}

// Option configures a Session
type Option func(*Session)

// WithHTTPClient uses a copy of client for every exchange. The caller's
// client is left untouched; the copy gets its own cookie jar when client has
// none.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Session) {
		if client != nil {
			c := *client
			s.client = &c
		}
	}
}

// WithTimeout bounds each exchange. Non-positive values keep the client's
// own timeout, or DefaultTimeout when it has none.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Session) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// NewSession creates a Session for endpoint
func NewSession(endpoint string, creds Credentials, opts ...Option) (*Session, error) {
	if creds.Password == "" {
		return nil, ErrMissingSecret
	}
	if creds.Username == "" {
		return nil, ErrMissingUsername
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid rewards endpoint: %w", err)
	}

	s := &Session{
		endpoint: endpoint,
		creds:    creds,
		client:   &http.Client{},
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.client.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		s.client.Jar = jar
	}
	switch {
	case s.timeout > 0:
		s.client.Timeout = s.timeout
	case s.client.Timeout <= 0:
		s.client.Timeout = DefaultTimeout
	}

	return s, nil
}

// Endpoint returns the rewards URL the session talks to
func (s *Session) Endpoint() string {
	return s.endpoint
}

// Submit fetches the rewards page to refresh the session cookies, then posts
// the code with the account credentials. It makes exactly one attempt and
// never returns an error: failures are reported in the Outcome.
func (s *Session) Submit(ctx context.Context, code string) Outcome {
	outcome := Outcome{Code: code, Step: StepFetch}

	status, err := s.fetch(ctx)
	if err != nil {
		outcome.Status = TransportFailure
		outcome.Err = err
		slog.Warn("Failed to reach rewards page", "error", err)
		return outcome
	}
	if !isSuccess(status) {
		outcome.Status = TransportFailure
		outcome.StatusCode = status
		outcome.Err = fmt.Errorf("rewards page returned status %d", status)
		slog.Warn("Rewards page returned an error status", "status", status)
		return outcome
	}

	outcome.Step = StepSubmit
	status, err = s.post(ctx, code)
	if err != nil {
		outcome.Status = TransportFailure
		outcome.Err = err
		slog.Warn("Failed to submit code", "code", code, "error", err)
		return outcome
	}

	outcome.StatusCode = status
	if isSuccess(status) {
		outcome.Status = Accepted
		slog.Info("Code submitted", "code", code)
	} else {
		outcome.Status = Rejected
		slog.Warn("Code rejected", "code", code, "status", status)
	}
	return outcome
}

func (s *Session) fetch(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	return s.do(req)
}

func (s *Session) post(ctx context.Context, code string) (int, error) {
	form := url.Values{
		"username": {s.creds.Username},
		"password": {s.creds.Password},
		"code":     {code},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(req)
}

// do performs one exchange and drains the body so the connection can be reused
func (s *Session) do(req *http.Request) (int, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		slog.Debug("Failed to drain response body", "error", err)
	}
	return resp.StatusCode, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
