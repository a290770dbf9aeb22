package quota

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/drip/internal/errors"
	"github.com/hpungsan/drip/internal/session"
)

type staticProvider struct {
	mu sync.Mutex
	id *session.Identity
}

func (p *staticProvider) Current(context.Context) (*session.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id, nil
}

func (p *staticProvider) SignIn(_ context.Context, email string) (*session.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.id = &session.Identity{UserID: "id-" + email, Email: email}
	return p.id, nil
}

func (p *staticProvider) SignOut(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.id = nil
	return nil
}

type fakeLookup struct {
	usage    int
	usageErr error
	pro      bool
	proErr   error
	delay    time.Duration

	mu    sync.Mutex
	calls []string
}

func (f *fakeLookup) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeLookup) GetUserUsage(_ context.Context, userID string) (int, error) {
	time.Sleep(f.delay)
	f.record("usage:" + userID)
	return f.usage, f.usageErr
}

func (f *fakeLookup) IsUserPro(_ context.Context, userID string) (bool, error) {
	time.Sleep(f.delay)
	f.record("pro:" + userID)
	return f.pro, f.proErr
}

func signedIn(t *testing.T, userID string) *session.Session {
	t.Helper()
	s := session.New(&staticProvider{id: &session.Identity{UserID: userID, Email: userID + "@example.com"}}, nil)
	s.Resolve(context.Background())
	return s
}

func TestStatusCanProceed(t *testing.T) {
	for usage := 0; usage <= 3*FreeLimit; usage++ {
		free := Status{UsageCount: usage}
		require.Equal(t, usage < FreeLimit, free.CanProceed(), "free usage=%d", usage)

		pro := Status{UsageCount: usage, IsPro: true}
		require.True(t, pro.CanProceed(), "pro usage=%d", usage)
	}
}

func TestStatusRemaining(t *testing.T) {
	require.Equal(t, 5, Status{}.Remaining())
	require.Equal(t, 1, Status{UsageCount: 4}.Remaining())
	require.Equal(t, 0, Status{UsageCount: 9}.Remaining())
	require.Equal(t, -1, Status{UsageCount: 9, IsPro: true}.Remaining())
}

func TestResolve_BothSucceed(t *testing.T) {
	lookup := &fakeLookup{usage: 3, pro: true}
	g := NewGate(signedIn(t, "u1"), lookup, nil)
	defer g.Close()

	status, err := g.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, Status{UsageCount: 3, IsPro: true}, status)
	require.True(t, g.Resolved())
	require.ElementsMatch(t, []string{"usage:u1", "pro:u1"}, lookup.calls)
}

func TestResolve_RunsLookupsConcurrently(t *testing.T) {
	lookup := &fakeLookup{usage: 1, delay: 100 * time.Millisecond}
	g := NewGate(signedIn(t, "u1"), lookup, nil)
	defer g.Close()

	start := time.Now()
	_, err := g.Resolve(context.Background())
	require.NoError(t, err)
	require.Less(t, time.Since(start), 190*time.Millisecond)
}

func TestResolve_IndependentFallbacks(t *testing.T) {
	tests := []struct {
		name   string
		lookup *fakeLookup
		want   Status
	}{
		{
			name:   "usage fails",
			lookup: &fakeLookup{usage: 4, usageErr: fmt.Errorf("rpc down"), pro: true},
			want:   Status{UsageCount: 0, IsPro: true},
		},
		{
			name:   "pro fails",
			lookup: &fakeLookup{usage: 4, pro: true, proErr: fmt.Errorf("rpc down")},
			want:   Status{UsageCount: 4, IsPro: false},
		},
		{
			name:   "both fail",
			lookup: &fakeLookup{usage: 4, usageErr: fmt.Errorf("a"), pro: true, proErr: fmt.Errorf("b")},
			want:   Status{},
		},
		{
			name:   "negative usage clamps",
			lookup: &fakeLookup{usage: -2},
			want:   Status{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate(signedIn(t, "u1"), tt.lookup, nil)
			defer g.Close()

			status, err := g.Resolve(context.Background())
			require.NoError(t, err)
			require.Equal(t, tt.want, status)
		})
	}
}

func TestResolve_RequiresUser(t *testing.T) {
	s := session.New(&staticProvider{}, nil)
	s.Resolve(context.Background())
	g := NewGate(s, &fakeLookup{}, nil)
	defer g.Close()

	_, err := g.Resolve(context.Background())
	require.True(t, errors.Is(err, errors.ErrAuthRequired))
}

func TestReserve_CommitIncrementsOnce(t *testing.T) {
	g := NewGate(signedIn(t, "u1"), &fakeLookup{usage: 2}, nil)
	defer g.Close()
	_, err := g.Resolve(context.Background())
	require.NoError(t, err)

	r, err := g.Reserve()
	require.NoError(t, err)
	require.Equal(t, PhasePending, r.Phase())
	require.Equal(t, 2, g.Status().UsageCount, "no increment before commit")

	require.True(t, r.Commit())
	require.False(t, r.Commit())
	require.False(t, r.Rollback())
	require.Equal(t, PhaseCommitted, r.Phase())
	require.Equal(t, 3, g.Status().UsageCount)
}

func TestReserve_RollbackLeavesCount(t *testing.T) {
	g := NewGate(signedIn(t, "u1"), &fakeLookup{usage: 2}, nil)
	defer g.Close()
	_, _ = g.Resolve(context.Background())

	r, err := g.Reserve()
	require.NoError(t, err)
	require.True(t, r.Rollback())
	require.False(t, r.Commit())
	require.Equal(t, PhaseRolledBack, r.Phase())
	require.Equal(t, 2, g.Status().UsageCount)

	// Released: a new reservation is possible
	_, err = g.Reserve()
	require.NoError(t, err)
}

func TestReserve_BusyWhilePending(t *testing.T) {
	g := NewGate(signedIn(t, "u1"), &fakeLookup{}, nil)
	defer g.Close()
	_, _ = g.Resolve(context.Background())

	_, err := g.Reserve()
	require.NoError(t, err)

	_, err = g.Reserve()
	require.True(t, errors.Is(err, errors.ErrBusy))
}

func TestReserve_QuotaExceeded(t *testing.T) {
	g := NewGate(signedIn(t, "u1"), &fakeLookup{usage: FreeLimit}, nil)
	defer g.Close()
	_, _ = g.Resolve(context.Background())

	_, err := g.Reserve()
	require.True(t, errors.Is(err, errors.ErrQuotaExceeded))
	require.Equal(t, FreeLimit, g.Status().UsageCount)
}

func TestReserve_ProIgnoresLimit(t *testing.T) {
	g := NewGate(signedIn(t, "u1"), &fakeLookup{usage: 100, pro: true}, nil)
	defer g.Close()
	_, _ = g.Resolve(context.Background())

	r, err := g.Reserve()
	require.NoError(t, err)
	r.Commit()
	require.Equal(t, 101, g.Status().UsageCount)
	require.True(t, g.CanProceed())
}

// usageCount=4, free: one successful submission takes the user to the limit.
func TestScenario_FourthToFifth(t *testing.T) {
	g := NewGate(signedIn(t, "u1"), &fakeLookup{usage: 4}, nil)
	defer g.Close()
	_, _ = g.Resolve(context.Background())
	require.True(t, g.CanProceed())

	r, err := g.Reserve()
	require.NoError(t, err)
	r.Commit()

	require.Equal(t, 5, g.Status().UsageCount)
	require.False(t, g.CanProceed())

	_, err = g.Reserve()
	require.True(t, errors.Is(err, errors.ErrQuotaExceeded))
	require.Equal(t, 5, g.Status().UsageCount)
}

func TestGate_ResetsOnSignOut(t *testing.T) {
	s := signedIn(t, "u1")
	g := NewGate(s, &fakeLookup{usage: 3, pro: true}, nil)
	defer g.Close()
	_, _ = g.Resolve(context.Background())

	r, err := g.Reserve()
	require.NoError(t, err)

	require.NoError(t, s.SignOut(context.Background()))
	require.Equal(t, Status{}, g.Status())
	require.False(t, g.Resolved())

	// A commit that lands after sign-out does not leak into the reset status.
	require.True(t, r.Commit())
	require.Equal(t, 0, g.Status().UsageCount)
}

func TestGate_ResetsOnUserSwitch(t *testing.T) {
	s := signedIn(t, "u1")
	g := NewGate(s, &fakeLookup{usage: 3}, nil)
	defer g.Close()
	_, _ = g.Resolve(context.Background())

	_, err := s.SignIn(context.Background(), "other")
	require.NoError(t, err)
	require.False(t, g.Resolved())
}

func TestGate_CloseStopsListening(t *testing.T) {
	s := signedIn(t, "u1")
	g := NewGate(s, &fakeLookup{usage: 3}, nil)
	_, _ = g.Resolve(context.Background())
	g.Close()
	g.Close()

	require.NoError(t, s.SignOut(context.Background()))
	require.True(t, g.Resolved(), "closed gate ignores session changes")
}

func TestPhaseString(t *testing.T) {
	require.Equal(t, "rolled-back", PhaseRolledBack.String())
	require.Equal(t, "unknown", Phase(9).String())
}
