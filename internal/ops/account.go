package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/drip/internal/checkout"
	"github.com/hpungsan/drip/internal/errors"
)

// LoginInput contains parameters for the Login operation.
type LoginInput struct {
	Email string
}

// WhoamiOutput describes the session.
type WhoamiOutput struct {
	State         string `json:"state"`
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
	Email         string `json:"email,omitempty"`
}

// LogoutOutput contains the result of the Logout operation.
type LogoutOutput struct {
	SignedOut bool `json:"signed_out"`
}

// CheckoutOutput contains the checkout redirect.
type CheckoutOutput struct {
	URL string `json:"url"`
}

// Account covers sign-in, sign-out and upgrading.
type Account struct {
	deps      Deps
	initiator *checkout.Initiator
}

// NewAccount creates an Account.
func NewAccount(d Deps) *Account {
	return &Account{deps: d, initiator: checkout.New(d.Session, d.Billing, d.logger())}
}

// Login signs in with an email address. The account is created on first use.
func (a *Account) Login(ctx context.Context, input LoginInput) (*WhoamiOutput, error) {
	if input.Email == "" {
		return nil, errors.NewInvalidRequest("email is required")
	}
	if _, err := a.deps.Session.SignIn(ctx, input.Email); err != nil {
		return nil, err
	}
	return a.Whoami(), nil
}

// Logout signs out.
func (a *Account) Logout(ctx context.Context) (*LogoutOutput, error) {
	if err := a.deps.Session.SignOut(ctx); err != nil {
		return nil, errors.NewInternal(err)
	}
	return &LogoutOutput{SignedOut: true}, nil
}

// Whoami describes the current session.
func (a *Account) Whoami() *WhoamiOutput {
	snap := a.deps.Session.Snapshot()
	return &WhoamiOutput{
		State:         snap.State.String(),
		Authenticated: snap.IsAuthenticated(),
		UserID:        snap.Identity.UserID,
		Email:         snap.Identity.Email,
	}
}

// Upgrade starts checkout and returns the redirect URL.
func (a *Account) Upgrade(ctx context.Context) (*CheckoutOutput, error) {
	url, err := a.initiator.Start(ctx)
	if err != nil {
		return nil, err
	}
	return &CheckoutOutput{URL: url}, nil
}

// PlanSetter is a store that can change a user's plan directly. Only the local
// database is one; a remote backend flips the plan from its billing webhook.
type PlanSetter interface {
	SetUserPro(ctx context.Context, userID string, pro bool) error
}

// PlanInput contains parameters for the SetPlan operation.
type PlanInput struct {
	Plan string // free or pro
}

// PlanOutput contains the result of the SetPlan operation.
type PlanOutput struct {
	UserID string `json:"user_id"`
	Plan   string `json:"plan"`
}

// SetPlan switches the signed-in user between Free and Pro on the local database.
func (a *Account) SetPlan(ctx context.Context, input PlanInput) (*PlanOutput, error) {
	var pro bool
	switch strings.ToLower(strings.TrimSpace(input.Plan)) {
	case "free":
	case "pro":
		pro = true
	default:
		return nil, errors.NewInvalidRequest("plan must be free or pro")
	}
	id, err := a.deps.Session.RequireUser()
	if err != nil {
		return nil, err
	}
	setter, ok := a.deps.Store.(PlanSetter)
	if !ok {
		return nil, errors.NewInvalidRequest("plan is managed by the remote backend; use upgrade")
	}
	if err := setter.SetUserPro(ctx, id.UserID, pro); err != nil {
		return nil, err
	}
	a.deps.logger().Info("plan changed", "user_id", id.UserID, "pro", pro)

	out := &PlanOutput{UserID: id.UserID, Plan: "Free"}
	if pro {
		out.Plan = "Pro"
	}
	return out, nil
}
