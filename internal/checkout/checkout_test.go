package checkout

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/drip/internal/errors"
	"github.com/hpungsan/drip/internal/session"
)

type staticProvider struct{ id *session.Identity }

func (p *staticProvider) Current(context.Context) (*session.Identity, error) { return p.id, nil }
func (p *staticProvider) SignIn(context.Context, string) (*session.Identity, error) {
	return p.id, nil
}
func (p *staticProvider) SignOut(context.Context) error { return nil }

type fakeBilling struct {
	url   string
	err   error
	calls int
	user  string
	email string
}

func (f *fakeBilling) CreateCheckout(_ context.Context, userID, email string) (string, error) {
	f.calls++
	f.user, f.email = userID, email
	return f.url, f.err
}

type svcErr struct{ msg string }

func (e svcErr) Error() string          { return "checkout: " + e.msg }
func (e svcErr) ServiceMessage() string { return e.msg }

func signedIn(t *testing.T) *session.Session {
	t.Helper()
	s := session.New(&staticProvider{id: &session.Identity{UserID: "u1", Email: "ada@example.com"}}, nil)
	s.Resolve(context.Background())
	return s
}

func TestStart(t *testing.T) {
	billing := &fakeBilling{url: "https://pay.example.com/c/123"}
	url, err := New(signedIn(t), billing, nil).Start(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.com/c/123", url)
	assert.Equal(t, "u1", billing.user)
	assert.Equal(t, "ada@example.com", billing.email)
}

func TestStart_RequiresUser(t *testing.T) {
	s := session.New(&staticProvider{}, nil)
	s.Resolve(context.Background())
	billing := &fakeBilling{url: "https://pay.example.com"}

	_, err := New(s, billing, nil).Start(context.Background())
	assert.True(t, errors.Is(err, errors.ErrAuthRequired))
	assert.Zero(t, billing.calls)
}

func TestStart_Failures(t *testing.T) {
	tests := []struct {
		name    string
		billing *fakeBilling
		wantMsg string
	}{
		{"service message", &fakeBilling{err: svcErr{"price not configured"}}, "price not configured"},
		{"transport error", &fakeBilling{err: fmt.Errorf("dial tcp: refused")}, "failed to create checkout session"},
		{"empty url", &fakeBilling{url: "  "}, "failed to create checkout session"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(signedIn(t), tt.billing, nil).Start(context.Background())
			dErr, ok := errors.As(err)
			require.True(t, ok)
			assert.Equal(t, errors.ErrCheckoutFailed, dErr.Code)
			assert.Equal(t, tt.wantMsg, dErr.Message)
			assert.Equal(t, 1, tt.billing.calls, "no retry")
		})
	}
}
