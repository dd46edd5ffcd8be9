package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/offsync/internal/ir"
)

// IdempotencyHeader carries the operation id.
const IdempotencyHeader = "Idempotency-Key"

// DefaultTimeout bounds a single request.
const DefaultTimeout = 10 * time.Second

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 4 << 20

// Error is a failed GraphQL exchange.
type Error struct {
	StatusCode int
	Messages   []string
}

func (e *Error) Error() string {
	if len(e.Messages) > 0 {
		return "graphql: " + strings.Join(e.Messages, "; ")
	}
	return fmt.Sprintf("graphql: HTTP %d", e.StatusCode)
}

// ErrMalformedResponse marks a 2xx response whose body could not be
// decoded, including one carrying floats. Retrying returns the same body.
var ErrMalformedResponse = errors.New("malformed response")

// IsRemoteError reports whether err came back from the server, as opposed
// to a transport failure.
func IsRemoteError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// failureCause names the kind of a send failure for logs.
func failureCause(err error) string {
	switch {
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case IsRemoteError(err):
		return "remote"
	default:
		return "transport"
	}
}

// Client sends operations to a GraphQL endpoint.
type Client struct {
	endpoint string
	http     *http.Client
	timeout  time.Duration
	headers  map[string]string
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithTimeout sets the per-request timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.timeout = d }
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(cl *Client) { cl.headers[key] = value }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// New creates a client for the GraphQL endpoint URL.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		http:     http.DefaultClient,
		timeout:  DefaultTimeout,
		headers:  make(map[string]string),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type request struct {
	Query     string      `json:"query"`
	Variables ir.IRObject `json:"variables"`
}

type response struct {
	Data   ir.IRObject     `json:"data"`
	Errors []responseError `json:"errors"`
}

type responseError struct {
	Message string `json:"message"`
}

// Send implements engine.Sender. Every failure is logged with its cause;
// a malformed response is logged as an error since retries cannot fix it.
func (c *Client) Send(ctx context.Context, op ir.Operation) (result ir.IRObject, err error) {
	defer func() {
		if err == nil {
			return
		}
		cause := failureCause(err)
		level := slog.LevelWarn
		if cause == "malformed_response" {
			level = slog.LevelError
		}
		c.logger.Log(ctx, level, "graphql send failed",
			"kind", op.Kind,
			"op_id", op.ID,
			"cause", cause,
			"error", err,
		)
	}()

	vars := op.Variables
	if vars == nil {
		vars = ir.IRObject{}
	}
	body, err := json.Marshal(request{Query: op.Query, Variables: vars})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if op.ID != "" {
		req.Header.Set(IdempotencyHeader, op.ID)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", op.Kind, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("graphql exchange",
		"kind", op.Kind,
		"op_id", op.ID,
		"status", resp.StatusCode,
		"elapsed", time.Since(start),
	)

	var decoded response
	decodeErr := json.Unmarshal(raw, &decoded)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{StatusCode: resp.StatusCode, Messages: decoded.messages()}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, decodeErr)
	}
	if len(decoded.Errors) > 0 {
		return nil, &Error{StatusCode: resp.StatusCode, Messages: decoded.messages()}
	}
	if decoded.Data == nil {
		return ir.IRObject{}, nil
	}
	return decoded.Data, nil
}

func (r response) messages() []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		if e.Message != "" {
			out = append(out, e.Message)
		}
	}
	return out
}
