// Package pipeline drives a single in-flight rewrite request and merges its result
// into view state.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hpungsan/drip/internal/email"
	"github.com/hpungsan/drip/internal/errors"
	"github.com/hpungsan/drip/internal/logging"
	"github.com/hpungsan/drip/internal/quota"
	"github.com/hpungsan/drip/internal/session"
)

// Transformer is the remote rewrite service.
type Transformer interface {
	Rewrite(ctx context.Context, req email.Request) (*email.Result, error)
}

// SuccessFunc runs after a submission is confirmed and the usage count committed.
type SuccessFunc func(ctx context.Context, req email.Request, res email.Result)

// Pipeline submits drafts one at a time on behalf of the session's user.
type Pipeline struct {
	sess      *session.Session
	gate      *quota.Gate
	svc       Transformer
	tones     []email.Tone
	logger    *slog.Logger
	onSuccess []SuccessFunc

	inFlight atomic.Bool
	closed   atomic.Bool

	mu   sync.Mutex
	last *email.Result
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTones sets the accepted tone set. Defaults to the four built-in tones.
func WithTones(tones []email.Tone) Option {
	return func(p *Pipeline) { p.tones = tones }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithOnSuccess registers a hook that runs after every confirmed submission.
func WithOnSuccess(fn SuccessFunc) Option {
	return func(p *Pipeline) { p.onSuccess = append(p.onSuccess, fn) }
}

// New creates a pipeline bound to a session and its quota gate.
func New(sess *session.Session, gate *quota.Gate, svc Transformer, opts ...Option) *Pipeline {
	p := &Pipeline{
		sess:  sess,
		gate:  gate,
		svc:   svc,
		tones: []email.Tone{email.TonePolite, email.ToneFunny, email.ToneKaren, email.ToneDirect},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.OrDiscard(p.logger)
	return p
}

// Submit sends draft to the rewrite service.
//
// Errors: InvalidRequest (empty draft, unknown tone), AuthRequired, Busy (another
// submission is in flight), QuotaExceeded (no remote call is made),
// TransformationFailed (prior result kept), Cancelled (the pipeline was closed
// while the call was outstanding; the result is dropped).
func (p *Pipeline) Submit(ctx context.Context, draft string, tone email.Tone, roast bool) (*email.Result, error) {
	if strings.TrimSpace(draft) == "" {
		return nil, errors.NewInvalidRequest("draft is required")
	}
	tone, err := email.ParseTone(string(tone), p.tones)
	if err != nil {
		return nil, err
	}
	if p.closed.Load() {
		return nil, errors.NewCancelled("rewrite")
	}

	id, err := p.sess.RequireUser()
	if err != nil {
		return nil, err
	}

	if !p.inFlight.CompareAndSwap(false, true) {
		return nil, errors.NewBusy()
	}
	defer p.inFlight.Store(false)

	reservation, err := p.gate.Reserve()
	if err != nil {
		return nil, err
	}

	req := email.Request{Draft: draft, Tone: tone, Roast: roast, UserID: id.UserID}
	log := logging.FromContext(ctx, p.logger).With("user_id", id.UserID, "tone", string(tone))

	res, err := p.svc.Rewrite(ctx, req)
	if err != nil || res == nil {
		reservation.Rollback()
		if ctx.Err() != nil {
			log.Warn("rewrite abandoned", "error", ctx.Err())
			return nil, errors.NewCancelled("rewrite")
		}
		log.Error("rewrite failed", "error", err)
		return nil, errors.NewTransformationFailed(err)
	}

	if p.closed.Load() {
		reservation.Rollback()
		log.Debug("rewrite finished after close; dropping result")
		return nil, errors.NewCancelled("rewrite")
	}

	result := *res
	if !roast || (result.Roast != nil && *result.Roast == "") {
		result.Roast = nil
	}

	reservation.Commit()

	p.mu.Lock()
	p.last = &result
	p.mu.Unlock()

	log.Info("rewrite succeeded", "roast", result.Roast != nil)
	for _, fn := range p.onSuccess {
		fn(ctx, req, result)
	}

	out := result
	return &out, nil
}

// Last returns the most recent successful result, or nil.
func (p *Pipeline) Last() *email.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return nil
	}
	r := *p.last
	return &r
}

// Loading reports whether a submission is in flight.
func (p *Pipeline) Loading() bool {
	return p.inFlight.Load()
}

// Close unmounts the pipeline. Results that arrive afterwards are dropped.
func (p *Pipeline) Close() {
	p.closed.Store(true)
}
