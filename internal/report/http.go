// internal/report/http.go
package report

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPTimeout bounds each upload request.
const HTTPTimeout = 2 * time.Second

// maxResponseBytes limits how much of a response body is read.
const maxResponseBytes = 1024

// ErrNotStarted is returned when a session is used before Begin.
var ErrNotStarted = errors.New("report: http session not started")

// Session is one HTTP exchange against the upload endpoint.
type Session interface {
	Begin(url string) error
	AddHeader(name, value string)
	Post(body []byte) (int, error)
	ResponseBody() ([]byte, error)
	End()
}

// HTTPSession implements Session on net/http.
type HTTPSession struct {
	client    *http.Client
	userAgent string

	target  string
	headers http.Header
	resp    *http.Response
}

func NewHTTPSession(timeout time.Duration, userAgent string) *HTTPSession {
	if timeout <= 0 {
		timeout = HTTPTimeout
	}
	return &HTTPSession{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

func (s *HTTPSession) Begin(target string) error {
	s.End()

	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	s.target = u.String()
	s.headers = make(http.Header)
	if s.userAgent != "" {
		s.headers.Set("User-Agent", s.userAgent)
	}
	return nil
}

func (s *HTTPSession) AddHeader(name, value string) {
	if s.headers == nil {
		return
	}
	s.headers.Add(name, value)
}

func (s *HTTPSession) Post(body []byte) (int, error) {
	if s.target == "" {
		return 0, ErrNotStarted
	}

	req, err := http.NewRequest(http.MethodPost, s.target, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header = s.headers.Clone()

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	s.resp = resp
	return resp.StatusCode, nil
}

func (s *HTTPSession) ResponseBody() ([]byte, error) {
	if s.resp == nil {
		return nil, ErrNotStarted
	}
	return io.ReadAll(io.LimitReader(s.resp.Body, maxResponseBytes))
}

// End releases the connection. It is safe to call at any time.
func (s *HTTPSession) End() {
	if s.resp != nil {
		io.Copy(io.Discard, io.LimitReader(s.resp.Body, maxResponseBytes))
		s.resp.Body.Close()
		s.resp = nil
	}
	s.target = ""
	s.headers = nil
}
