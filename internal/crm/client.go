// Package crm is a client for the CRM server that provisions provider
// models (data sources) and answers entity metadata queries. Every reply
// carries a PVStatus block; the classifiers in this package interpret it.
package crm

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
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/roach88/docmerge/internal/fault"
	"github.com/roach88/docmerge/internal/logging"
)

// SessionHeader carries the session id after login.
const SessionHeader = "X-PV-Session"

// Transport sends one operation and decodes the reply.
type Transport interface {
	Do(ctx context.Context, operation, session string, params any) (*Response, error)
}

// HTTPTransport posts JSON to {BaseURL}/{operation}. Transient failures
// (network errors, 429 and 5xx) are retried with exponential backoff.
type HTTPTransport struct {
	BaseURL string
	Client  *http.Client

	// NewBackOff returns the retry policy for one call. Nil uses an
	// exponential policy capped at MaxRetries attempts.
	NewBackOff func() backoff.BackOff
	MaxRetries uint64
}

// NewHTTPTransport returns a transport with default retry settings.
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Client:     &http.Client{Timeout: 30 * time.Second},
		MaxRetries: 3,
	}
}

func (t *HTTPTransport) policy(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff
	if t.NewBackOff != nil {
		b = t.NewBackOff()
	} else {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 200 * time.Millisecond
		eb.MaxElapsedTime = 30 * time.Second
		b = backoff.WithMaxRetries(eb, t.MaxRetries)
	}
	return backoff.WithContext(b, ctx)
}

// Do implements Transport.
func (t *HTTPTransport) Do(ctx context.Context, operation, session string, params any) (*Response, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", operation, err)
	}
	var resp *Response
	err = backoff.Retry(func() error {
		r, err := t.post(ctx, operation, session, body)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}, t.policy(ctx))
	if err != nil {
		return nil, fault.Operation(operation, "", err)
	}
	return resp, nil
}

func (t *HTTPTransport) post(ctx context.Context, operation, session string, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/"+operation, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.Header.Set(SessionHeader, session)
	}
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	switch {
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		return nil, fmt.Errorf("%s: http %d", operation, res.StatusCode)
	case res.StatusCode >= 400:
		return nil, backoff.Permanent(fmt.Errorf("%s: http %d: %s", operation, res.StatusCode, bytes.TrimSpace(b)))
	}
	resp, err := decodeResponse(b)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%s: decode response: %w", operation, err))
	}
	return resp, nil
}

// ErrNotLoggedIn is returned by requests made before a successful login.
var ErrNotLoggedIn = errors.New("crm: not logged in")

// Client holds one server session.
type Client struct {
	transport Transport
	logger    *slog.Logger

	mu      sync.Mutex
	session string
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client over t.
func New(t Transport, opts ...Option) *Client {
	c := &Client{transport: t, logger: logging.Discard()}
	for _, o := range opts {
		o(c)
	}
	return c
}

type loginParams struct {
	User     string `json:"User,omitempty"`
	Password string `json:"Password,omitempty"`
	APIKey   string `json:"ApiKey,omitempty"`
}

// Login opens a session with user credentials.
func (c *Client) Login(ctx context.Context, user, password string) error {
	return c.login(ctx, loginParams{User: user, Password: password})
}

// LoginWithAPIKey opens a session with an engine API key. It is a no-op
// when a session is already open.
func (c *Client) LoginWithAPIKey(ctx context.Context, key string) error {
	if c.LoggedIn() {
		return nil
	}
	return c.login(ctx, loginParams{APIKey: key})
}

func (c *Client) login(ctx context.Context, p loginParams) error {
	resp, err := c.transport.Do(ctx, "Login", "", p)
	if err != nil {
		return err
	}
	if err := Err("Login", resp); err != nil {
		c.logger.Error("login failed", "code", Code(resp), "message", Message(resp))
		return err
	}
	c.mu.Lock()
	c.session = resp.Status.SessionID
	c.mu.Unlock()
	c.logger.Info("logged in")
	return nil
}

// LoggedIn reports whether a session is open.
func (c *Client) LoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != ""
}

// SendRequest issues operation within the session. A non-OK status is not
// an error here; callers classify it.
func (c *Client) SendRequest(ctx context.Context, operation string, params any) (*Response, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == "" {
		return nil, ErrNotLoggedIn
	}
	return c.transport.Do(ctx, operation, session, params)
}

// Logout closes the session. Logging out without a session is a no-op.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.session = ""
	c.mu.Unlock()
	if session == "" {
		return nil
	}
	resp, err := c.transport.Do(ctx, "Logout", session, struct{}{})
	if err != nil {
		return err
	}
	return Err("Logout", resp)
}
