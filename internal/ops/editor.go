package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/drip/internal/email"
	"github.com/hpungsan/drip/internal/errors"
	"github.com/hpungsan/drip/internal/history"
	"github.com/hpungsan/drip/internal/pipeline"
	"github.com/hpungsan/drip/internal/quota"
)

// RewriteInput contains parameters for the Rewrite operation.
type RewriteInput struct {
	Draft string
	Tone  string // default Polite
	Roast bool
}

// RewriteOutput contains the result of the Rewrite operation.
type RewriteOutput struct {
	Rewritten string      `json:"rewritten"`
	Roast     *string     `json:"roast,omitempty"`
	Tone      string      `json:"tone"`
	RecordID  string      `json:"record_id,omitempty"`
	Quota     QuotaOutput `json:"quota"`
}

// Editor is the rewrite page: quota gate plus transformation pipeline.
// Successful rewrites are stored and prepended to the shared history, if any.
type Editor struct {
	deps     Deps
	gate     *quota.Gate
	ownsGate bool
	pipeline *pipeline.Pipeline
	history  *history.Store
}

// recordSlotKey carries the per-call slot that saveRecord fills.
type recordSlotKey struct{}

// NewEditor creates an Editor with its own quota gate. hist may be nil.
func NewEditor(d Deps, hist *history.Store) *Editor {
	return newEditor(d, quota.NewGate(d.Session, d.Store, d.logger()), true, hist)
}

func newEditor(d Deps, gate *quota.Gate, ownsGate bool, hist *history.Store) *Editor {
	e := &Editor{
		deps:     d,
		gate:     gate,
		ownsGate: ownsGate,
		history:  hist,
	}
	e.pipeline = pipeline.New(d.Session, e.gate, d.Rewriter,
		pipeline.WithTones(email.Tones(d.config().Tones)),
		pipeline.WithLogger(d.logger()),
		pipeline.WithOnSuccess(e.saveRecord),
	)
	return e
}

// saveRecord stores a confirmed rewrite. A failed insert is logged; the rewrite still counts.
func (e *Editor) saveRecord(ctx context.Context, req email.Request, res email.Result) {
	rec, err := e.deps.Store.InsertRecord(ctx, email.RecordFromResult(req, res, e.deps.now()))
	if err != nil {
		e.deps.logger().Error("failed to save email", "user_id", req.UserID, "error", err)
		return
	}
	if slot, ok := ctx.Value(recordSlotKey{}).(**email.Record); ok {
		*slot = &rec
	}
	if e.history != nil {
		e.history.Prepend(rec)
	}
}

// Status re-reads and returns the quota for the signed-in user.
func (e *Editor) Status(ctx context.Context) (*QuotaOutput, error) {
	status, err := e.gate.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	out := quotaOutput(status)
	return &out, nil
}

// Rewrite submits a draft.
func (e *Editor) Rewrite(ctx context.Context, input RewriteInput) (*RewriteOutput, error) {
	// Reject bad input before any lookup
	if strings.TrimSpace(input.Draft) == "" {
		return nil, errors.NewInvalidRequest("draft is required")
	}
	tone, err := email.ParseTone(input.Tone, email.Tones(e.deps.config().Tones))
	if err != nil {
		return nil, err
	}
	if _, err := e.deps.Session.RequireUser(); err != nil {
		return nil, err
	}
	// A blocked status may predate an upgrade or a new usage day
	if !e.gate.Resolved() || !e.gate.CanProceed() {
		if _, err := e.gate.Resolve(ctx); err != nil {
			return nil, err
		}
	}

	var rec *email.Record
	ctx = context.WithValue(ctx, recordSlotKey{}, &rec)
	res, err := e.pipeline.Submit(ctx, input.Draft, tone, input.Roast)
	if err != nil {
		return nil, err
	}

	out := &RewriteOutput{
		Rewritten: res.Rewritten,
		Roast:     res.Roast,
		Tone:      string(tone),
		Quota:     quotaOutput(e.gate.Status()),
	}
	if rec != nil {
		out.RecordID = rec.ID
	}
	return out, nil
}

// Last returns the most recent result of this editor, or nil.
func (e *Editor) Last() *email.Result {
	return e.pipeline.Last()
}

// Loading reports whether a rewrite is in flight.
func (e *Editor) Loading() bool {
	return e.pipeline.Loading()
}

// Close unmounts the editor. A rewrite still in flight is dropped when it returns.
// A gate shared with a Dashboard is left to the Dashboard.
func (e *Editor) Close() {
	e.pipeline.Close()
	if e.ownsGate {
		e.gate.Close()
	}
}
