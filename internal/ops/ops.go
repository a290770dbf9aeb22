// Package ops holds the page-level controllers that CLI commands and MCP tools call into.
package ops

import (
	"context"
	"log/slog"
	"time"

	"github.com/hpungsan/drip/internal/checkout"
	"github.com/hpungsan/drip/internal/config"
	"github.com/hpungsan/drip/internal/email"
	"github.com/hpungsan/drip/internal/history"
	"github.com/hpungsan/drip/internal/logging"
	"github.com/hpungsan/drip/internal/pipeline"
	"github.com/hpungsan/drip/internal/quota"
	"github.com/hpungsan/drip/internal/session"
)

// DataStore is usage, plan and history storage.
type DataStore interface {
	quota.Lookup
	history.Source
	InsertRecord(ctx context.Context, rec email.NewRecord) (email.Record, error)
}

// Deps wires the controllers to their collaborators.
type Deps struct {
	Config   *config.Config
	BaseDir  string
	Session  *session.Session
	Store    DataStore
	Rewriter pipeline.Transformer
	Billing  checkout.Billing
	Logger   *slog.Logger
	Now      func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) logger() *slog.Logger {
	return logging.OrDiscard(d.Logger)
}

func (d Deps) config() *config.Config {
	if d.Config != nil {
		return d.Config
	}
	return config.DefaultConfig()
}

// NewHistory creates a history store configured from d.
func (d Deps) NewHistory() *history.Store {
	cfg := d.config()
	return history.New(d.Store,
		history.WithPageSize(cfg.PageSize),
		history.WithLimit(cfg.HistoryLimit),
		history.WithCopyResetDelay(time.Duration(cfg.CopyResetMillis)*time.Millisecond),
		history.WithLogger(d.logger()),
	)
}

// QuotaOutput is the quota view shared by several operations.
type QuotaOutput struct {
	UsageCount int    `json:"usage_count"`
	Limit      int    `json:"limit"`
	Remaining  int    `json:"remaining"` // -1 for Pro
	IsPro      bool   `json:"is_pro"`
	Plan       string `json:"plan"`
	CanProceed bool   `json:"can_proceed"`
}

func quotaOutput(s quota.Status) QuotaOutput {
	plan := "Free"
	if s.IsPro {
		plan = "Pro"
	}
	return QuotaOutput{
		UsageCount: s.UsageCount,
		Limit:      quota.FreeLimit,
		Remaining:  s.Remaining(),
		IsPro:      s.IsPro,
		Plan:       plan,
		CanProceed: s.CanProceed(),
	}
}
