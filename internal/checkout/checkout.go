// Package checkout starts a Pro upgrade by asking the billing service for a redirect URL.
package checkout

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"

	"github.com/hpungsan/drip/internal/errors"
	"github.com/hpungsan/drip/internal/logging"
	"github.com/hpungsan/drip/internal/session"
)

// Billing issues checkout sessions.
type Billing interface {
	CreateCheckout(ctx context.Context, userID, email string) (string, error)
}

// ServiceError carries a message the billing service returned for display.
type ServiceError interface {
	error
	ServiceMessage() string
}

// Initiator starts checkout for the session's user.
type Initiator struct {
	sess    *session.Session
	billing Billing
	logger  *slog.Logger
}

// New creates an Initiator.
func New(sess *session.Session, billing Billing, logger *slog.Logger) *Initiator {
	return &Initiator{sess: sess, billing: billing, logger: logging.OrDiscard(logger)}
}

// Start requests a checkout URL. One request, no retry.
func (i *Initiator) Start(ctx context.Context) (string, error) {
	id, err := i.sess.RequireUser()
	if err != nil {
		return "", err
	}

	log := logging.FromContext(ctx, i.logger).With("user_id", id.UserID)
	url, err := i.billing.CreateCheckout(ctx, id.UserID, id.Email)
	if err != nil {
		log.Error("checkout failed", "error", err)
		var msg string
		var se ServiceError
		if stderrors.As(err, &se) {
			msg = se.ServiceMessage()
		}
		return "", errors.NewCheckoutFailed(msg, err)
	}
	if strings.TrimSpace(url) == "" {
		log.Error("checkout returned no url")
		return "", errors.NewCheckoutFailed("", nil)
	}

	log.Info("checkout session created")
	return url, nil
}
