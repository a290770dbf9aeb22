// Package api calls the rewrite and checkout endpoints over HTTP.
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
	"time"

	"github.com/google/uuid"

	"github.com/hpungsan/drip/internal/email"
	"github.com/hpungsan/drip/internal/logging"
)

// DefaultTimeout bounds each request when none is configured.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// Client calls the drip API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// APIError represents a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// ServiceMessage returns the message the server sent, if any.
func (e *APIError) ServiceMessage() string {
	return e.Message
}

// NewClient constructs an API client. timeout <= 0 uses DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.OrDiscard(logger),
	}
}

type rewriteRequest struct {
	Email  string `json:"email"`
	Tone   string `json:"tone"`
	Roast  bool   `json:"roast"`
	UserID string `json:"user_id"`
}

type rewriteResponse struct {
	Rewritten string  `json:"rewritten"`
	Roast     *string `json:"roast,omitempty"`
}

// Rewrite submits a draft to POST /api/rewrite.
func (c *Client) Rewrite(ctx context.Context, req email.Request) (*email.Result, error) {
	var resp rewriteResponse
	body := rewriteRequest{Email: req.Draft, Tone: string(req.Tone), Roast: req.Roast, UserID: req.UserID}
	if err := c.post(ctx, "/api/rewrite", body, &resp); err != nil {
		return nil, err
	}
	if resp.Rewritten == "" {
		return nil, fmt.Errorf("api: rewrite response missing rewritten text")
	}
	return &email.Result{Rewritten: resp.Rewritten, Roast: resp.Roast}, nil
}

type checkoutRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

type checkoutResponse struct {
	URL string `json:"url"`
}

// CreateCheckout asks POST /api/checkout for a checkout URL.
func (c *Client) CreateCheckout(ctx context.Context, userID, emailAddr string) (string, error) {
	var resp checkoutResponse
	if err := c.post(ctx, "/api/checkout", checkoutRequest{UserID: userID, Email: emailAddr}, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	requestID := logging.RequestID(req.Context())
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", requestID)
	log := c.logger.With("request_id", requestID, "method", req.Method, "path", req.URL.Path)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn("api request failed", "error", err)
		return err
	}
	defer resp.Body.Close()
	log.Debug("api response", "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&errResp)
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(errResp.Error)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
