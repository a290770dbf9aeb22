// Package rest is a data store backed by a PostgREST-compatible HTTP API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hpungsan/drip/internal/email"
	"github.com/hpungsan/drip/internal/logging"
)

const maxErrorBody = 64 << 10

// Store reads usage, plan and history from the remote data store.
type Store struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// Error is a non-2xx response from the data store.
type Error struct {
	Status  int
	Message string
	Code    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("rest: %d %s (%s)", e.Status, e.Message, e.Code)
	}
	return fmt.Sprintf("rest: %d %s", e.Status, e.Message)
}

// New creates a Store. timeout <= 0 means 30s.
func New(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Store {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Store{
		baseURL:    strings.TrimRight(baseURL, "/") + "/rest/v1",
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.OrDiscard(logger),
	}
}

type rpcArgs struct {
	UserID string `json:"p_user_id"`
}

// GetUserUsage calls the get_user_usage procedure. null is 0.
func (s *Store) GetUserUsage(ctx context.Context, userID string) (int, error) {
	var n *int
	if err := s.call(ctx, http.MethodPost, "/rpc/get_user_usage", nil, rpcArgs{UserID: userID}, &n); err != nil {
		return 0, err
	}
	if n == nil || *n < 0 {
		return 0, nil
	}
	return *n, nil
}

// IsUserPro calls the is_user_pro procedure. null is false.
func (s *Store) IsUserPro(ctx context.Context, userID string) (bool, error) {
	var pro *bool
	if err := s.call(ctx, http.MethodPost, "/rpc/is_user_pro", nil, rpcArgs{UserID: userID}, &pro); err != nil {
		return false, err
	}
	return pro != nil && *pro, nil
}

// row is the emails table as the data store returns it. ids may be numeric or text.
type row struct {
	ID        json.RawMessage `json:"id"`
	UserID    string          `json:"user_id"`
	Original  string          `json:"original"`
	Rewritten string          `json:"rewritten"`
	Roast     *string         `json:"roast"`
	CreatedAt time.Time       `json:"created_at"`
}

func (r row) record() email.Record {
	return email.Record{
		ID:        rawID(r.ID),
		UserID:    r.UserID,
		CreatedAt: r.CreatedAt.UTC(),
		Original:  r.Original,
		Rewritten: r.Rewritten,
		Roast:     r.Roast,
	}
}

func rawID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// ListRecords returns the user's records newest first. limit <= 0 returns all.
func (s *Store) ListRecords(ctx context.Context, userID string, limit int) ([]email.Record, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("user_id", "eq."+userID)
	q.Set("order", "created_at.desc")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var rows []row
	if err := s.call(ctx, http.MethodGet, "/emails", q, nil, &rows); err != nil {
		return nil, err
	}
	recs := make([]email.Record, len(rows))
	for i, r := range rows {
		recs[i] = r.record()
	}
	return recs, nil
}

type insertRow struct {
	UserID    string  `json:"user_id"`
	Original  string  `json:"original"`
	Rewritten string  `json:"rewritten"`
	Roast     *string `json:"roast"`
	CreatedAt string  `json:"created_at"`
}

// InsertRecord stores a rewrite and returns the stored row.
func (s *Store) InsertRecord(ctx context.Context, rec email.NewRecord) (email.Record, error) {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	body := []insertRow{{
		UserID:    rec.UserID,
		Original:  rec.Original,
		Rewritten: rec.Rewritten,
		Roast:     rec.Roast,
		CreatedAt: createdAt.UTC().Format(time.RFC3339Nano),
	}}

	var rows []row
	if err := s.call(ctx, http.MethodPost, "/emails", nil, body, &rows); err != nil {
		return email.Record{}, err
	}
	if len(rows) == 0 {
		return email.Record{}, fmt.Errorf("rest: insert returned no rows")
	}
	return rows[0].record(), nil
}

func (s *Store) call(ctx context.Context, method, path string, query url.Values, in, out any) error {
	target := s.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost && !strings.HasPrefix(path, "/rpc/") {
		req.Header.Set("Prefer", "return=representation")
	}
	if s.apiKey != "" {
		req.Header.Set("apikey", s.apiKey)
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	return s.do(req, out)
}

func (s *Store) do(req *http.Request, out any) error {
	requestID := logging.RequestID(req.Context())
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", requestID)
	log := s.logger.With("request_id", requestID, "method", req.Method, "path", req.URL.Path)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Warn("data store request failed", "error", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&errResp)
		msg := errResp.Message
		if msg == "" {
			msg = resp.Status
		}
		log.Warn("data store error", "status", resp.StatusCode, "code", errResp.Code)
		return &Error{Status: resp.StatusCode, Message: msg, Code: errResp.Code}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rest: decode %s: %w", req.URL.Path, err)
	}
	return nil
}
