package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/maintkeeper/internal/client/models"
	"github.com/dmitrijs2005/maintkeeper/internal/common"
	"github.com/dmitrijs2005/maintkeeper/internal/netx"
	"github.com/golang-jwt/jwt/v5"
)

const (
	PullPath = "/sync/pull"
	PushPath = "/sync/push"

	DefaultTimeout = 30 * time.Second

	// maxErrorBody bounds how much of an error response ends up in messages.
	maxErrorBody = 512
)

var _ Client = (*HTTPClient)(nil)

type HTTPClient struct {
	baseURL *url.URL
	http    *http.Client
	timeout time.Duration
	now     func() time.Time

	mu    sync.RWMutex
	token string
}

type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		c.http = hc
	}
}

// WithTimeout bounds every request. Zero or negative keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClock overrides the time source used for the credential expiry check.
func WithClock(now func() time.Time) Option {
	return func(c *HTTPClient) {
		c.now = now
	}
}

func NewHTTPClient(baseURL, token string, opts ...Option) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", baseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q: want http(s)://host", baseURL)
	}

	c := &HTTPClient{
		baseURL: u,
		http:    &http.Client{},
		timeout: DefaultTimeout,
		now:     time.Now,
		token:   token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetToken replaces the bearer credential, e.g. after reauthentication.
func (c *HTTPClient) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *HTTPClient) Pull(ctx context.Context, since *time.Time) (*models.PullResponse, error) {
	u := c.endpoint(PullPath)
	if since != nil {
		q := u.Query()
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
		u.RawQuery = q.Encode()
	}

	var resp models.PullResponse
	if err := c.do(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return nil, err
	}
	if resp.ServerTimestamp.IsZero() {
		return nil, fmt.Errorf("%w: pull response without server_timestamp", ErrBadResponse)
	}
	return &resp, nil
}

func (c *HTTPClient) Push(ctx context.Context, req *models.PushRequest) (*models.PushResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode push request: %w", err)
	}

	var resp models.PushResponse
	if err := c.do(ctx, http.MethodPost, c.endpoint(PushPath), body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) endpoint(path string) *url.URL {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	return &u
}

func (c *HTTPClient) credential() (string, error) {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	if token == "" {
		return "", nil
	}
	if expired(token, c.now()) {
		return "", fmt.Errorf("%w: access token expired", ErrUnauthorized)
	}
	return token, nil
}

// expired reports whether token is a JWT whose exp claim is not after now.
// Opaque tokens are never considered expired here; the server decides.
func expired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !exp.After(now)
}

func (c *HTTPClient) do(ctx context.Context, method string, u *url.URL, body []byte, out any) error {
	token, err := c.credential()
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(common.AuthorizationHeaderName, common.BearerPrefix+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.mapError(ctx, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return err
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		if ctx.Err() == nil && netx.IsConnectivityError(err) {
			return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, u.Path, err)
		}
		return fmt.Errorf("%w: decode %s %s: %v", ErrBadResponse, method, u.Path, err)
	}
	return nil
}

// mapError converts a transport failure. Cancellation of the caller's
// context is returned as is; everything else that prevented a response is
// a connectivity problem.
func (c *HTTPClient) mapError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if netx.IsConnectivityError(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("http error: %w", err)
}

func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(snippet))

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case netx.IsRetryableStatus(resp.StatusCode):
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrBadResponse, resp.StatusCode, msg)
	}
}
