// Package api is the client for the SafeGuard backend REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tonero-cloud/safeguard/internal/apperr"
	"github.com/tonero-cloud/safeguard/internal/models"
	"github.com/tonero-cloud/safeguard/internal/transport"
)

// Client calls the backend. Every request carries its own timeout, and a 401
// on an authenticated call is reported to the unauthorized hook before the
// error is returned.
type Client struct {
	mu             sync.RWMutex
	baseURL        string
	http           *http.Client
	requestTimeout time.Duration
	uploadTimeout  time.Duration
	onUnauthorized func(context.Context)
	logger         *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTimeouts sets the per-call timeout for ordinary calls and for report
// creation.
func WithTimeouts(request, upload time.Duration) Option {
	return func(c *Client) {
		c.requestTimeout = request
		c.uploadTimeout = upload
	}
}

// WithUnauthorizedHook registers fn to run whenever the backend answers 401.
func WithUnauthorizedHook(fn func(context.Context)) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a client for the backend at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &http.Client{},
		requestTimeout: transport.DefaultRequestTimeout,
		uploadTimeout:  transport.DefaultUploadTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend origin.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// SetBaseURL points the client at a different backend.
func (c *Client) SetBaseURL(u string) {
	c.mu.Lock()
	c.baseURL = strings.TrimRight(u, "/")
	c.mu.Unlock()
}

// Login exchanges credentials for a session.
func (c *Client) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	var resp models.AuthResponse
	if err := c.do(ctx, http.MethodPost, transport.PathLogin, "", c.requestTimeout, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register creates an account and returns its first session.
func (c *Client) Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error) {
	if req.Password != req.ConfirmPassword {
		return nil, apperr.New(apperr.KindValidation, "PASSWORD_MISMATCH", "passwords do not match")
	}
	var resp models.AuthResponse
	if err := c.do(ctx, http.MethodPost, transport.PathRegister, "", c.requestTimeout, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Profile returns the account behind token.
func (c *Client) Profile(ctx context.Context, token string) (*models.Profile, error) {
	var resp models.Profile
	if err := c.do(ctx, http.MethodGet, transport.PathProfile, token, c.requestTimeout, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateReport submits a report. Any 2xx answer is success.
func (c *Client) CreateReport(ctx context.Context, token string, req models.CreateReportRequest) (*models.CreateReportResponse, error) {
	if !req.Type.Valid() {
		return nil, apperr.ErrInvalidReport
	}
	var resp models.CreateReportResponse
	if err := c.do(ctx, http.MethodPost, transport.PathCreateReport, token, c.uploadTimeout, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ActivatePanic opens a panic event at the given point.
func (c *Client) ActivatePanic(ctx context.Context, token string, p models.LocationPoint) (*models.PanicResponse, error) {
	var resp models.PanicResponse
	if err := c.do(ctx, http.MethodPost, transport.PathPanicActivate, token, c.requestTimeout, p, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogPanicLocation appends a point to the active panic event.
func (c *Client) LogPanicLocation(ctx context.Context, token string, p models.LocationPoint) error {
	return c.do(ctx, http.MethodPost, transport.PathPanicLocation, token, c.requestTimeout, p, nil)
}

// DeactivatePanic closes the active panic event.
func (c *Client) DeactivatePanic(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, transport.PathPanicDeactivate, token, c.requestTimeout, nil, nil)
}

// EscortAction starts or stops an escort session.
func (c *Client) EscortAction(ctx context.Context, token string, req models.EscortRequest) (*models.EscortResponse, error) {
	if req.Action != "start" && req.Action != "stop" {
		return nil, apperr.New(apperr.KindValidation, "INVALID_ACTION", fmt.Sprintf("unknown escort action %q", req.Action))
	}
	var resp models.EscortResponse
	if err := c.do(ctx, http.MethodPost, transport.PathEscortAction, token, c.requestTimeout, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogEscortLocation appends a point to the active escort session.
func (c *Client) LogEscortLocation(ctx context.Context, token string, p models.LocationPoint) error {
	return c.do(ctx, http.MethodPost, transport.PathEscortLocation, token, c.requestTimeout, p, nil)
}

// errorBody is the backend's error shape.
type errorBody struct {
	Detail  any    `json:"detail"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path, token string, timeout time.Duration, in, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return apperr.Wrap(err, apperr.KindValidation, "ENCODE", "failed to encode request")
		}
		body = bytes.NewReader(data)
	}

	url := c.BaseURL() + transport.APIPrefix + path
	req, err := http.NewRequestWithContext(reqCtx, method, url, body)
	if err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "BAD_REQUEST", "failed to create request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("backend request failed", "method", method, "path", path, "error", err)
		return apperr.Wrap(err, apperr.KindNetwork, "TRANSPORT", method+" "+path+" failed").WithRetryable(true)
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("backend request", "method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode == http.StatusUnauthorized {
		msg := readError(resp.Body)
		if token != "" && c.onUnauthorized != nil {
			c.onUnauthorized(ctx)
		}
		return apperr.New(apperr.KindAuth, "UNAUTHORIZED", msg).WithStatus(resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := readError(resp.Body)
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return apperr.New(apperr.KindServer, fmt.Sprintf("HTTP_%d", resp.StatusCode), msg).
			WithStatus(resp.StatusCode).
			WithRetryable(retryable)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return apperr.Wrap(err, apperr.KindServer, "DECODE", "failed to decode response").WithStatus(resp.StatusCode)
	}
	return nil
}

func readError(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 64<<10))
	var eb errorBody
	if json.Unmarshal(data, &eb) == nil {
		switch d := eb.Detail.(type) {
		case string:
			if d != "" {
				return d
			}
		case nil:
		default:
			if b, err := json.Marshal(d); err == nil {
				return string(b)
			}
		}
		if eb.Message != "" {
			return eb.Message
		}
	}
	if s := strings.TrimSpace(string(data)); s != "" {
		return s
	}
	return "no response body"
}
