// Package history keeps the paginated list of past rewrites and its per-record view state.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hpungsan/drip/internal/email"
	"github.com/hpungsan/drip/internal/errors"
	"github.com/hpungsan/drip/internal/logging"
)

// Defaults.
const (
	DefaultPageSize       = 10
	DefaultCopyResetDelay = 2 * time.Second
)

// Source lists a user's stored records, newest first. limit <= 0 means no limit.
type Source interface {
	ListRecords(ctx context.Context, userID string, limit int) ([]email.Record, error)
}

// Page is one page of history.
type Page struct {
	Records    []email.Record `json:"records"`
	Number     int            `json:"page"`
	Size       int            `json:"page_size"`
	TotalPages int            `json:"total_pages"`
	Total      int            `json:"total"`
	Window     []int          `json:"window"`
}

// Store holds the full history in memory and pages over it.
type Store struct {
	source     Source
	pageSize   int
	limit      int
	resetDelay time.Duration
	logger     *slog.Logger

	mu       sync.Mutex
	records  []email.Record
	page     int
	expanded map[string]bool
	copied   string
	copyGen  uint64
	timer    *time.Timer
}

// Option configures a Store.
type Option func(*Store)

// WithPageSize sets the number of records per page.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithLimit caps how many records Load fetches. 0 fetches all.
func WithLimit(n int) Option {
	return func(s *Store) {
		if n >= 0 {
			s.limit = n
		}
	}
}

// WithCopyResetDelay sets how long a copied field stays marked.
func WithCopyResetDelay(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.resetDelay = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates an empty store. source may be nil when records are only set directly.
func New(source Source, opts ...Option) *Store {
	s := &Store{
		source:     source,
		pageSize:   DefaultPageSize,
		resetDelay: DefaultCopyResetDelay,
		page:       1,
		expanded:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDiscard(s.logger)
	return s
}

// Load fetches the user's history. On failure the previous list is kept.
func (s *Store) Load(ctx context.Context, userID string) error {
	if s.source == nil {
		return errors.NewInternal(fmt.Errorf("history has no source"))
	}
	recs, err := s.source.ListRecords(ctx, userID, s.limit)
	if err != nil {
		logging.FromContext(ctx, s.logger).Warn("history load failed", "user_id", userID, "error", err)
		return errors.NewDataLoadFailed("history", err)
	}
	s.SetRecords(recs)
	return nil
}

// SetRecords replaces the list. The page resets to 1 if the count changed.
func (s *Store) SetRecords(recs []email.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(append([]email.Record(nil), recs...))
}

// Prepend adds a newly stored record at the front.
func (s *Store) Prepend(rec email.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := make([]email.Record, 0, len(s.records)+1)
	recs = append(recs, rec)
	recs = append(recs, s.records...)
	s.setLocked(recs)
}

func (s *Store) setLocked(recs []email.Record) {
	if len(recs) != len(s.records) {
		s.page = 1
	}
	s.records = recs
	s.page = ClampPage(s.page, TotalPages(len(recs), s.pageSize))
}

// Len returns the number of records held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Current returns the current page.
func (s *Store) Current() Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageLocked()
}

// GoToPage moves to page n, clamped into range.
func (s *Store) GoToPage(n int) Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page = ClampPage(n, TotalPages(len(s.records), s.pageSize))
	return s.pageLocked()
}

// Next moves forward one page, stopping at the last.
func (s *Store) Next() Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page = ClampPage(s.page+1, TotalPages(len(s.records), s.pageSize))
	return s.pageLocked()
}

// Prev moves back one page, stopping at the first.
func (s *Store) Prev() Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page = ClampPage(s.page-1, TotalPages(len(s.records), s.pageSize))
	return s.pageLocked()
}

func (s *Store) pageLocked() Page {
	total := TotalPages(len(s.records), s.pageSize)
	return Page{
		Records:    append([]email.Record(nil), Slice(s.records, s.page, s.pageSize)...),
		Number:     s.page,
		Size:       s.pageSize,
		TotalPages: total,
		Total:      len(s.records),
		Window:     PageWindow(s.page, total),
	}
}

// Find returns the record with the given id.
func (s *Store) Find(id string) (email.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(id)
}

func (s *Store) findLocked(id string) (email.Record, error) {
	for _, r := range s.records {
		if r.ID == id {
			return r, nil
		}
	}
	return email.Record{}, errors.NewNotFound(id)
}

// Toggle flips the expanded state of a record and returns the new state.
func (s *Store) Toggle(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.findLocked(id); err != nil {
		return false, err
	}
	if s.expanded[id] {
		delete(s.expanded, id)
		return false, nil
	}
	s.expanded[id] = true
	return true, nil
}

// IsExpanded reports whether a record is expanded.
func (s *Store) IsExpanded(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expanded[id]
}

// CopyKey identifies a copied field.
func CopyKey(id string, f email.Field) string {
	return id + ":" + string(f)
}

// Copy returns the text of field f of record id and marks it as copied.
// The mark clears after the reset delay unless a newer copy replaced it.
func (s *Store) Copy(id string, f email.Field) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.findLocked(id)
	if err != nil {
		return "", err
	}
	text, ok := rec.Text(f)
	if !ok {
		return "", errors.NewInvalidRequest("email " + id + " has no " + string(f))
	}

	s.copyGen++
	gen := s.copyGen
	s.copied = CopyKey(id, f)
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.resetDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.copyGen == gen {
			s.copied = ""
		}
	})
	return text, nil
}

// Copied returns the key of the most recently copied field, or "" once it has been cleared.
func (s *Store) Copied() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copied
}

// Snapshot returns a copy of every record, newest first.
func (s *Store) Snapshot() []email.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]email.Record(nil), s.records...)
}

// Close stops the pending copy-reset timer.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
