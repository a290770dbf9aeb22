package ops

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/drip/internal/email"
	"github.com/hpungsan/drip/internal/errors"
	"github.com/hpungsan/drip/internal/export"
	"github.com/hpungsan/drip/internal/history"
	"github.com/hpungsan/drip/internal/quota"
)

// DashboardOutput is the dashboard summary.
type DashboardOutput struct {
	Email       string      `json:"email"`
	UsageToday  int         `json:"usage_today"`
	TotalEmails int         `json:"total_emails"`
	Quota       QuotaOutput `json:"quota"`
	Warnings    []string    `json:"warnings,omitempty"`
}

// HistoryInput contains parameters for the History operation.
type HistoryInput struct {
	Page   int  // 1-based; 0 keeps the current page
	Expand bool // show full text for every record on the page
}

// HistoryItem is one record as listed on a page.
type HistoryItem struct {
	ID        string  `json:"id"`
	CreatedAt string  `json:"created_at"`
	Original  string  `json:"original"`
	Rewritten string  `json:"rewritten"`
	Roast     *string `json:"roast,omitempty"`
	Expanded  bool    `json:"expanded"`
}

// HistoryOutput contains one page of history.
type HistoryOutput struct {
	Items      []HistoryItem `json:"items"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
	Total      int           `json:"total"`
	Window     []int         `json:"window"`
	HasPrev    bool          `json:"has_prev"`
	HasNext    bool          `json:"has_next"`
}

// CopyInput contains parameters for the Copy operation.
type CopyInput struct {
	ID    string
	Field string // original, rewritten (default) or roast
}

// CopyOutput contains the copied text.
type CopyOutput struct {
	ID     string `json:"id"`
	Field  string `json:"field"`
	Text   string `json:"text"`
	Copied string `json:"copied"`
}

// Dashboard is the history page: stats, paginated history, copy and export.
type Dashboard struct {
	deps Deps
	gate *quota.Gate
	hist *history.Store

	mu       sync.Mutex
	loadedID string
}

// NewDashboard creates a Dashboard over hist. A nil hist gets a fresh store.
func NewDashboard(d Deps, hist *history.Store) *Dashboard {
	if hist == nil {
		hist = d.NewHistory()
	}
	return &Dashboard{
		deps: d,
		gate: quota.NewGate(d.Session, d.Store, d.logger()),
		hist: hist,
	}
}

// Editor returns an Editor that shares this dashboard's quota gate and history,
// so usage and plan stay consistent across both pages. The dashboard owns them.
func (d *Dashboard) Editor() *Editor {
	return newEditor(d.deps, d.gate, false, d.hist)
}

// History returns the underlying store.
func (d *Dashboard) History() *history.Store {
	return d.hist
}

// Load fetches quota and history concurrently. A failed history fetch is logged and
// reported as a warning; the dashboard still renders.
func (d *Dashboard) Load(ctx context.Context) (*DashboardOutput, error) {
	id, err := d.deps.Session.RequireUser()
	if err != nil {
		return nil, err
	}

	var (
		status  quota.Status
		loadErr error
		eg      errgroup.Group
	)
	eg.Go(func() error {
		s, err := d.gate.Resolve(ctx)
		status = s
		return err
	})
	eg.Go(func() error {
		loadErr = d.hist.Load(ctx, id.UserID)
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out := &DashboardOutput{
		Email:       id.Email,
		UsageToday:  status.UsageCount,
		TotalEmails: d.hist.Len(),
		Quota:       quotaOutput(status),
	}
	if loadErr != nil {
		if dErr, ok := errors.As(loadErr); ok {
			out.Warnings = append(out.Warnings, dErr.Message)
		} else {
			out.Warnings = append(out.Warnings, loadErr.Error())
		}
	} else {
		d.mu.Lock()
		d.loadedID = id.UserID
		d.mu.Unlock()
	}
	return out, nil
}

// ensureLoaded loads history once per signed-in user. Load failures are returned.
func (d *Dashboard) ensureLoaded(ctx context.Context) error {
	id, err := d.deps.Session.RequireUser()
	if err != nil {
		return err
	}
	d.mu.Lock()
	loaded := d.loadedID == id.UserID
	d.mu.Unlock()
	if loaded {
		return nil
	}
	if err := d.hist.Load(ctx, id.UserID); err != nil {
		return err
	}
	d.mu.Lock()
	d.loadedID = id.UserID
	d.mu.Unlock()
	return nil
}

// ListHistory returns a page of history. Collapsed records show 100-character previews.
func (d *Dashboard) ListHistory(ctx context.Context, input HistoryInput) (*HistoryOutput, error) {
	if err := d.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	var page history.Page
	if input.Page > 0 {
		page = d.hist.GoToPage(input.Page)
	} else {
		page = d.hist.Current()
	}

	items := make([]HistoryItem, len(page.Records))
	for i, r := range page.Records {
		items[i] = d.item(r, input.Expand || d.hist.IsExpanded(r.ID))
	}
	return &HistoryOutput{
		Items:      items,
		Page:       page.Number,
		PageSize:   page.Size,
		TotalPages: page.TotalPages,
		Total:      page.Total,
		Window:     page.Window,
		HasPrev:    page.Number > 1,
		HasNext:    page.Number < page.TotalPages,
	}, nil
}

func (d *Dashboard) item(r email.Record, expanded bool) HistoryItem {
	it := HistoryItem{
		ID:        r.ID,
		CreatedAt: r.CreatedAt.UTC().Format("2006-01-02 15:04"),
		Original:  r.Original,
		Rewritten: r.Rewritten,
		Roast:     r.Roast,
		Expanded:  expanded,
	}
	if !expanded {
		it.Original = email.Truncate(r.Original, email.PreviewChars)
		it.Rewritten = email.Truncate(r.Rewritten, email.PreviewChars)
	}
	return it
}

// Toggle expands or collapses a record and returns the new state.
func (d *Dashboard) Toggle(ctx context.Context, id string) (bool, error) {
	if err := d.ensureLoaded(ctx); err != nil {
		return false, err
	}
	return d.hist.Toggle(id)
}

// Copy returns one field of a record and marks it as copied.
func (d *Dashboard) Copy(ctx context.Context, input CopyInput) (*CopyOutput, error) {
	field, err := email.ParseField(input.Field)
	if err != nil {
		return nil, err
	}
	if input.ID == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	if err := d.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	text, err := d.hist.Copy(input.ID, field)
	if err != nil {
		return nil, err
	}
	return &CopyOutput{ID: input.ID, Field: string(field), Text: text, Copied: d.hist.Copied()}, nil
}

// Export encodes the full history. Export is a Pro feature.
func (d *Dashboard) Export(ctx context.Context, input ExportInput) (*ExportOutput, error) {
	format := input.Format
	if format == "" {
		format = "json"
	}
	f, err := export.ParseFormat(format)
	if err != nil {
		return nil, err
	}

	status, err := d.gate.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if !status.IsPro {
		return nil, errors.NewProRequired("export")
	}
	if err := d.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	art, err := export.Encode(d.hist.Snapshot(), f, d.deps.now())
	if err != nil {
		return nil, err
	}
	out := &ExportOutput{
		Filename: art.Filename,
		Format:   f.String(),
		MIMEType: art.MIMEType,
		Count:    art.Count,
		Bytes:    len(art.Content),
	}
	if input.Stdout {
		out.Content = string(art.Content)
		return out, nil
	}

	path, err := WriteExport(ctx, d.deps.config(), DefaultExportsDir(d.deps.BaseDir), input.Path, art)
	if err != nil {
		return nil, err
	}
	out.Path = path
	d.deps.logger().Info("history exported", "format", f.String(), "count", art.Count, "path", path)
	return out, nil
}

// Close unmounts the dashboard.
func (d *Dashboard) Close() {
	d.gate.Close()
	d.hist.Close()
}
