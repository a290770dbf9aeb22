// Package quota decides whether a user may submit another rewrite today.
package quota

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/drip/internal/errors"
	"github.com/hpungsan/drip/internal/logging"
	"github.com/hpungsan/drip/internal/session"
)

// FreeLimit is the daily rewrite cap for users without Pro.
const FreeLimit = 5

// Status is the resolved quota for one user.
type Status struct {
	UsageCount int  `json:"usage_count"`
	IsPro      bool `json:"is_pro"`
}

// CanProceed reports whether another submission is allowed.
func (s Status) CanProceed() bool {
	return s.IsPro || s.UsageCount < FreeLimit
}

// Remaining is the number of free rewrites left today. Pro users get -1 (unlimited).
func (s Status) Remaining() int {
	if s.IsPro {
		return -1
	}
	return max(FreeLimit-s.UsageCount, 0)
}

// Lookup reads usage and plan from the data store.
type Lookup interface {
	GetUserUsage(ctx context.Context, userID string) (int, error)
	IsUserPro(ctx context.Context, userID string) (bool, error)
}

// Gate holds the quota status for the session's user.
// It resets itself when the session signs out or switches user.
type Gate struct {
	sess   *session.Session
	lookup Lookup
	logger *slog.Logger

	mu          sync.Mutex
	status      Status
	resolved    bool
	userID      string
	generation  int
	pending     *Reservation
	unsubscribe func()
}

// NewGate creates a gate bound to sess. Call Close when the owning view goes away.
func NewGate(sess *session.Session, lookup Lookup, logger *slog.Logger) *Gate {
	g := &Gate{
		sess:   sess,
		lookup: lookup,
		logger: logging.OrDiscard(logger),
	}
	g.unsubscribe = sess.Subscribe(g.onSession)
	return g
}

func (g *Gate) onSession(snap session.Snapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if snap.IsAuthenticated() && snap.Identity.UserID == g.userID {
		return
	}
	g.status = Status{}
	g.resolved = false
	g.userID = ""
	g.generation++
}

// Resolve fetches usage and plan concurrently and waits for both.
// A failed lookup is logged and its field falls back to 0 / false; Resolve only
// fails when there is no signed-in user.
func (g *Gate) Resolve(ctx context.Context) (Status, error) {
	id, err := g.sess.RequireUser()
	if err != nil {
		return Status{}, err
	}
	log := logging.FromContext(ctx, g.logger).With("user_id", id.UserID)

	var (
		usage int
		isPro bool
		eg    errgroup.Group
	)
	// The lookups fail independently, so neither returns its error to the group.
	eg.Go(func() error {
		n, err := g.lookup.GetUserUsage(ctx, id.UserID)
		if err != nil {
			log.Warn("usage lookup failed; assuming 0", "error", err)
			return nil
		}
		usage = max(n, 0)
		return nil
	})
	eg.Go(func() error {
		pro, err := g.lookup.IsUserPro(ctx, id.UserID)
		if err != nil {
			log.Warn("plan lookup failed; assuming free", "error", err)
			return nil
		}
		isPro = pro
		return nil
	})
	_ = eg.Wait()

	status := Status{UsageCount: usage, IsPro: isPro}

	g.mu.Lock()
	if g.userID != id.UserID {
		g.generation++
	}
	g.status = status
	g.resolved = true
	g.userID = id.UserID
	g.mu.Unlock()

	log.Debug("quota resolved", "usage", usage, "is_pro", isPro)
	return status, nil
}

// Status returns the current (possibly optimistically incremented) status.
func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// Resolved reports whether Resolve has completed for the current user.
func (g *Gate) Resolved() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resolved
}

// CanProceed evaluates the eligibility predicate against the current status.
func (g *Gate) CanProceed() bool {
	return g.Status().CanProceed()
}

// Reserve starts the two-phase optimistic increment.
// It fails with QuotaExceeded when the user is over the limit and with Busy while
// another reservation is pending.
func (g *Gate) Reserve() (*Reservation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pending != nil {
		return nil, errors.NewBusy()
	}
	if !g.status.CanProceed() {
		return nil, errors.NewQuotaExceeded(g.status.UsageCount, FreeLimit)
	}

	r := &Reservation{gate: g, generation: g.generation}
	g.pending = r
	return r, nil
}

// Close detaches the gate from the session.
func (g *Gate) Close() {
	g.mu.Lock()
	unsubscribe := g.unsubscribe
	g.unsubscribe = nil
	g.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Phase is the state of a Reservation.
type Phase int

const (
	PhasePending Phase = iota
	PhaseCommitted
	PhaseRolledBack
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseCommitted:
		return "committed"
	case PhaseRolledBack:
		return "rolled-back"
	}
	return "unknown"
}

// Reservation is a pending +1 on the usage count.
// Commit and Rollback are idempotent; whichever runs first wins.
type Reservation struct {
	gate       *Gate
	generation int
	phase      Phase
}

// Commit applies the increment. It returns false if the reservation was already settled.
// The count is left alone when the gate was reset for another user in the meantime.
func (r *Reservation) Commit() bool {
	g := r.gate
	g.mu.Lock()
	defer g.mu.Unlock()

	if r.phase != PhasePending {
		return false
	}
	r.phase = PhaseCommitted
	if g.pending == r {
		g.pending = nil
	}
	if r.generation == g.generation {
		g.status.UsageCount++
	}
	return true
}

// Rollback releases the reservation without touching the count.
func (r *Reservation) Rollback() bool {
	g := r.gate
	g.mu.Lock()
	defer g.mu.Unlock()

	if r.phase != PhasePending {
		return false
	}
	r.phase = PhaseRolledBack
	if g.pending == r {
		g.pending = nil
	}
	return true
}

// Phase returns the reservation's current phase.
func (r *Reservation) Phase() Phase {
	r.gate.mu.Lock()
	defer r.gate.mu.Unlock()
	return r.phase
}
