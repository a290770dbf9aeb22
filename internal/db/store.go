package db

import (
	"context"
	"crypto/rand"
	"database/sql"
	stderrors "errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/drip/internal/email"
	"github.com/hpungsan/drip/internal/errors"
	"github.com/hpungsan/drip/internal/session"
)

// Store is the local data store. It also holds the signed-in identity.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore wraps an initialized database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// SetClock overrides the clock used for timestamps and the usage day.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// newID generates a new ULID.
func newID(t time.Time) (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// GetUserUsage counts the user's rewrites since midnight UTC.
func (s *Store) GetUserUsage(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := s.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return CountEmailsSince(s.db, userID, midnight)
}

// IsUserPro reports the user's plan. Unknown users are not Pro.
func (s *Store) IsUserPro(ctx context.Context, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	u, err := GetUserByID(s.db, userID)
	if errors.Is(err, errors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.IsPro, nil
}

// SetUserPro sets the plan flag.
func (s *Store) SetUserPro(ctx context.Context, userID string, pro bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return SetUserPro(s.db, userID, pro)
}

// ListRecords returns the user's records newest first.
func (s *Store) ListRecords(ctx context.Context, userID string, limit int) ([]email.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ListEmails(s.db, userID, limit)
}

// InsertRecord stores a rewrite and returns it with its assigned id.
func (s *Store) InsertRecord(ctx context.Context, rec email.NewRecord) (email.Record, error) {
	if err := ctx.Err(); err != nil {
		return email.Record{}, err
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	id, err := newID(createdAt)
	if err != nil {
		return email.Record{}, errors.NewInternal(err)
	}
	stored := email.Record{
		ID:        id,
		UserID:    rec.UserID,
		CreatedAt: time.UnixMilli(createdAt.UnixMilli()).UTC(),
		Original:  rec.Original,
		Rewritten: rec.Rewritten,
		Roast:     rec.Roast,
	}
	if err := InsertEmail(s.db, &stored); err != nil {
		return email.Record{}, err
	}
	return stored, nil
}

// NormalizeEmail lowercases and trims an address and checks it looks like one.
func NormalizeEmail(addr string) (string, error) {
	addr = strings.ToLower(strings.TrimSpace(addr))
	at := strings.IndexByte(addr, '@')
	if at <= 0 || at == len(addr)-1 || strings.ContainsAny(addr, " \t\r\n") {
		return "", errors.NewInvalidRequest("a valid email address is required")
	}
	return addr, nil
}

// Current implements session.Provider.
func (s *Store) Current(ctx context.Context) (*session.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := GetSessionUserID(s.db)
	if err != nil || id == "" {
		return nil, err
	}
	u, err := GetUserByID(s.db, id)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session.Identity{UserID: u.ID, Email: u.Email}, nil
}

// SignIn implements session.Provider. The user is created on first sign-in.
func (s *Store) SignIn(ctx context.Context, addr string) (*session.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	norm, err := NormalizeEmail(addr)
	if err != nil {
		return nil, err
	}

	u, err := s.ensureUser(norm)
	if err != nil {
		return nil, err
	}
	if err := SetSessionUserID(s.db, u.ID, s.now()); err != nil {
		return nil, err
	}
	return &session.Identity{UserID: u.ID, Email: u.Email}, nil
}

func (s *Store) ensureUser(norm string) (*User, error) {
	u, err := GetUserByEmail(s.db, norm)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	now := s.now()
	id, err := newID(now)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	u = &User{ID: id, Email: norm, CreatedAt: now.Unix()}
	if err := InsertUser(s.db, u); err != nil {
		// Lost a race with another process signing in the same address
		if stderrors.Is(err, ErrUniqueConstraint) {
			return GetUserByEmail(s.db, norm)
		}
		return nil, err
	}
	return u, nil
}

// SignOut implements session.Provider.
func (s *Store) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return ClearSession(s.db)
}
