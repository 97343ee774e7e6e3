package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sejmbot/detektor/internal/model"
	"github.com/sejmbot/detektor/internal/retry"
)

// Loader reads statement exports from a file, stdin ("-") or an HTTP(S)
// endpoint serving the same JSON
type Loader struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	policy     retry.Policy
	stdin      io.Reader
}

// NewLoader creates a new Loader. maxBytes bounds remote bodies.
func NewLoader(timeout time.Duration, userAgent string, maxBytes int64) *Loader {
	return &Loader{
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
		userAgent: userAgent,
		maxBytes:  maxBytes,
		policy:    retry.Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second},
		stdin:     os.Stdin,
	}
}

// statusError is a non-2xx reply from a remote source
type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status: %s", e.status)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

// oversizeError is a remote body longer than the loader accepts
type oversizeError struct {
	limit int64
}

func (e *oversizeError) Error() string {
	return fmt.Sprintf("response exceeds %d bytes", e.limit)
}

// Load reads and decodes the statements at location
func (l *Loader) Load(ctx context.Context, location string) ([]model.Statement, error) {
	switch {
	case location == "-":
		return ReadStatements(l.stdin)
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		body, err := l.fetch(ctx, location)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", location, err)
		}
		return ReadStatements(bytes.NewReader(body))
	default:
		f, err := os.Open(location)
		if err != nil {
			return nil, fmt.Errorf("open statements: %w", err)
		}
		defer f.Close()
		return ReadStatements(f)
	}
}

// fetch retries transient statuses and transport errors
func (l *Loader) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	return retry.Do(ctx, l.policy, func(ctx context.Context, attempt int) ([]byte, error) {
		return l.fetchOnce(ctx, rawURL)
	}, retry.WithRetryable(func(err error) bool {
		var se *statusError
		if errors.As(err, &se) {
			return se.retryable()
		}
		var oe *oversizeError
		return !errors.As(err, &oe)
	}))
}

func (l *Loader) fetchOnce(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", l.userAgent)
	req.Header.Set("Accept", "application/json, application/x-ndjson;q=0.9")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode, status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > l.maxBytes {
		return nil, &oversizeError{limit: l.maxBytes}
	}
	return body, nil
}

// ReadStatements decodes either a JSON array of statements or one JSON
// object per line
func ReadStatements(r io.Reader) ([]model.Statement, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read statements: %w", err)
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		var statements []model.Statement
		if err := dec.Decode(&statements); err != nil {
			return nil, fmt.Errorf("decode statements: %w", err)
		}
		return statements, nil
	}

	var statements []model.Statement
	for {
		var s model.Statement
		err := dec.Decode(&s)
		if errors.Is(err, io.EOF) {
			return statements, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode statement %d: %w", len(statements)+1, err)
		}
		statements = append(statements, s)
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b, br.UnreadByte()
	}
}
