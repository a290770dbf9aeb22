// Package session holds the signed-in identity and notifies dependents when it changes.
//
// A Session is created once by the application root and passed by pointer to the
// components that need a user. It moves Loading → Authenticated|Anonymous on Resolve
// and back to Anonymous on SignOut.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hpungsan/drip/internal/errors"
	"github.com/hpungsan/drip/internal/logging"
)

// State is the session lifecycle state.
type State int

const (
	StateLoading State = iota
	StateAuthenticated
	StateAnonymous
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	}
	return "unknown"
}

// Identity is the signed-in user.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// Snapshot is an immutable view of the session.
type Snapshot struct {
	State    State
	Identity Identity
}

// IsLoading reports whether the identity hasn't resolved yet.
func (s Snapshot) IsLoading() bool { return s.State == StateLoading }

// IsAuthenticated reports whether a user is signed in.
func (s Snapshot) IsAuthenticated() bool { return s.State == StateAuthenticated }

// Provider is the identity provider the session resolves against.
type Provider interface {
	// Current returns the signed-in identity, or nil when nobody is signed in.
	Current(ctx context.Context) (*Identity, error)
	SignIn(ctx context.Context, email string) (*Identity, error)
	SignOut(ctx context.Context) error
}

// Session is the application-wide identity holder.
type Session struct {
	provider Provider
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	identity Identity
	subs     []subscriber
	nextSub  int
}

type subscriber struct {
	id int
	fn func(Snapshot)
}

// New creates a session in the Loading state.
func New(provider Provider, logger *slog.Logger) *Session {
	return &Session{
		provider: provider,
		logger:   logging.OrDiscard(logger),
		state:    StateLoading,
	}
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{State: s.state, Identity: s.identity}
}

// RequireUser returns the signed-in identity or an AuthRequired error.
func (s *Session) RequireUser() (Identity, error) {
	snap := s.Snapshot()
	if !snap.IsAuthenticated() {
		return Identity{}, errors.NewAuthRequired()
	}
	return snap.Identity, nil
}

// Resolve asks the provider for the current identity.
// Provider failures are logged and resolve to Anonymous.
func (s *Session) Resolve(ctx context.Context) Snapshot {
	id, err := s.provider.Current(ctx)
	if err != nil {
		s.logger.Warn("identity lookup failed", "error", err)
		id = nil
	}
	if id == nil {
		return s.transition(StateAnonymous, Identity{})
	}
	return s.transition(StateAuthenticated, *id)
}

// SignIn signs in through the provider and moves to Authenticated.
func (s *Session) SignIn(ctx context.Context, email string) (Snapshot, error) {
	id, err := s.provider.SignIn(ctx, email)
	if err != nil {
		return s.Snapshot(), err
	}
	s.logger.Info("signed in", "user_id", id.UserID)
	return s.transition(StateAuthenticated, *id), nil
}

// SignOut signs out through the provider and tears the session down to Anonymous.
// The local state is cleared even if the provider fails.
func (s *Session) SignOut(ctx context.Context) error {
	err := s.provider.SignOut(ctx)
	if err != nil {
		s.logger.Warn("provider sign-out failed", "error", err)
	}
	s.transition(StateAnonymous, Identity{})
	return err
}

// Subscribe registers fn to run after every transition. The returned func unsubscribes.
func (s *Session) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// transition updates state and notifies subscribers outside the lock.
func (s *Session) transition(state State, id Identity) Snapshot {
	s.mu.Lock()
	s.state = state
	s.identity = id
	snap := Snapshot{State: state, Identity: id}
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(snap)
	}
	return snap
}
