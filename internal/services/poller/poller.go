// Package poller drives the tiered synchronization loop: select the
// records each tier still cares about, ask the prosecutor-office service
// for their histories, stage the raw responses and hand them to the
// history service.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justiciasalta/sian-sync/internal/integrations/sian"
	"github.com/justiciasalta/sian-sync/internal/models"
	"github.com/justiciasalta/sian-sync/internal/services/history"
	"github.com/justiciasalta/sian-sync/internal/storage/pgnotif"
	"github.com/justiciasalta/sian-sync/internal/storage/pgpanel"
	"github.com/justiciasalta/sian-sync/internal/summary"
)

const (
	processName        = "sian-sync"
	processDescription = "Sincronización de estados de cédulas policiales contra el servicio SIAN"
)

type Repository interface {
	SelectDue(ctx context.Context, q pgnotif.TierQuery) ([]*models.Notification, error)
	FinishDiscarded(ctx context.Context) (int64, error)
	ResetFresh(ctx context.Context, placeholder string) (int64, error)
}

type Staging interface {
	UpsertReturn(ctx context.Context, key models.RecordKey, code, rawXML string) (pgpanel.UpsertOutcome, error)
}

type Audit interface {
	EnsureProcess(ctx context.Context, name, description string) (int64, error)
	RecordRun(ctx context.Context, processID int64) error
	AppendExecution(ctx context.Context, processID int64, ok bool, note string) error
}

type HistorySyncer interface {
	SyncPending(ctx context.Context, col *summary.Collector) error
}

type RateLimiter interface {
	AllowSOAPCall(ctx context.Context, limit int64) (bool, error)
}

type Poller struct {
	repo    Repository
	staging Staging
	client  sian.Client
	syncer  HistorySyncer
	audit   Audit       // nil disables the procesosat/ejecproc trail
	rl      RateLimiter // nil disables the shared quota

	tiers            []Tier
	urgentCategories []string

	pollInterval       time.Duration
	rateLimitPerMinute int64
	resetFresh         bool

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalSelected       atomic.Int64
	totalFetched        atomic.Int64
	totalStaged         atomic.Int64
	totalErrors         atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, staging Staging, client sian.Client, syncer HistorySyncer) *Poller {
	return &Poller{
		repo:               repo,
		staging:            staging,
		client:             client,
		syncer:             syncer,
		tiers:              DefaultTiers(),
		pollInterval:       10 * time.Minute,
		rateLimitPerMinute: 40,
		triggerCh:          make(chan struct{}, 1),
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (p *Poller) WithAudit(a Audit) *Poller { p.audit = a; return p }

func (p *Poller) WithRateLimiter(rl RateLimiter) *Poller { p.rl = rl; return p }

func (p *Poller) WithSettings(pollInterval time.Duration, rlPerMin int64, urgentCategories []string) *Poller {
	if pollInterval > 0 {
		p.pollInterval = pollInterval
	}
	if rlPerMin > 0 {
		p.rateLimitPerMinute = rlPerMin
	}
	p.urgentCategories = urgentCategories
	return p
}

func (p *Poller) WithTiers(tiers []Tier) *Poller {
	if len(tiers) > 0 {
		p.tiers = tiers
	}
	return p
}

// WithEmptyHistoryPolicy enables the fresh-record reset under the
// "placeholder" policy; the default policy leaves fresh records alone.
func (p *Poller) WithEmptyHistoryPolicy(policy string) *Poller {
	p.resetFresh = policy == history.PolicyPlaceholder
	return p
}

// Trigger forces an immediate poll cycle (best-effort, non-blocking).
func (p *Poller) Trigger() {
	p.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastCycleAt   *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	TotalSelected int64      `json:"totalSelected"`
	TotalFetched  int64      `json:"totalFetched"`
	TotalStaged   int64      `json:"totalStaged"`
	TotalErrors   int64      `json:"totalErrors"`
	LastError     string     `json:"lastError,omitempty"`
}

func (p *Poller) Stats() Stats {
	st := Stats{
		StartedAt:     time.Unix(0, p.startedAtUnixNano).UTC(),
		TotalSelected: p.totalSelected.Load(),
		TotalFetched:  p.totalFetched.Load(),
		TotalStaged:   p.totalStaged.Load(),
		TotalErrors:   p.totalErrors.Load(),
	}
	if n := p.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := p.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	p.lastErrorMu.Lock()
	st.LastError = p.lastError
	p.lastErrorMu.Unlock()
	return st
}

func (p *Poller) noteError(err error) {
	p.totalErrors.Add(1)
	p.lastErrorMu.Lock()
	p.lastError = err.Error()
	p.lastErrorMu.Unlock()
}

func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.runOnce(ctx)
		case <-p.triggerCh:
			p.runOnce(ctx)
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	p.lastCycleUnixNano.Store(now.UnixNano())

	p.presweep(ctx)

	var processID int64
	if p.audit != nil {
		id, err := p.audit.EnsureProcess(ctx, processName, processDescription)
		if err != nil {
			slog.Error("ensure audit process", "error", err.Error())
			p.noteError(err)
		} else {
			processID = id
			if err := p.audit.RecordRun(ctx, processID); err != nil {
				slog.Error("record audit run", "error", err.Error())
				p.noteError(err)
			}
		}
	}

	for _, tier := range p.tiers {
		col := summary.NewCollector()
		p.runTier(ctx, tier, col)

		if p.audit != nil && processID != 0 {
			note := tier.Name + ": " + col.String()
			if err := p.audit.AppendExecution(ctx, processID, col.OK(), note); err != nil {
				slog.Error("append audit execution", "paso", tier.Name, "error", err.Error())
				p.noteError(err)
			}
		}
	}
}

// presweep mirrors the preparation the panel expects before any tier runs:
// discarded records get closed out, and under the placeholder policy fresh
// records are stamped so the first tier window sees them.
func (p *Poller) presweep(ctx context.Context) {
	n, err := p.repo.FinishDiscarded(ctx)
	if err != nil {
		slog.Error("finish discarded", "error", err.Error())
		p.noteError(err)
	} else if n > 0 {
		slog.Info("descartadas cerradas", "registros", n)
	}

	if !p.resetFresh {
		return
	}
	n, err = p.repo.ResetFresh(ctx, history.PlaceholderState)
	if err != nil {
		slog.Error("reset fresh records", "error", err.Error())
		p.noteError(err)
	} else if n > 0 {
		slog.Info("registros frescos marcados", "registros", n)
	}
}

func (p *Poller) runTier(ctx context.Context, tier Tier, col *summary.Collector) {
	records, err := p.repo.SelectDue(ctx, tier.Query(p.urgentCategories))
	if err != nil {
		slog.Error("select due records", "paso", tier.Name, "error", err.Error())
		p.noteError(err)
		col.Error(tier.Name, err)
		return
	}
	p.totalSelected.Add(int64(len(records)))

	if len(records) == 0 {
		slog.Info("paso sin registros pendientes", "paso", tier.Name)
	}

	for _, n := range records {
		if err := p.fetchOne(ctx, n, col); err != nil {
			p.noteError(err)
			col.Error(n.TrackingCode, err)
			slog.Error("fetch record", "paso", tier.Name, "codigo", n.TrackingCode, "error", err.Error())
		}
		if ctx.Err() != nil {
			return
		}
	}

	if len(records) > 0 || tier.AlwaysSyncHistory {
		if err := p.syncer.SyncPending(ctx, col); err != nil {
			p.noteError(err)
			col.Error(tier.Name, err)
			slog.Error("sync staged history", "paso", tier.Name, "error", err.Error())
		}
	}
}

func (p *Poller) fetchOne(ctx context.Context, n *models.Notification, col *summary.Collector) error {
	code := models.NormalizeTrackingCode(n.TrackingCode)
	if code == "" {
		col.Ignored("retornomp", 1)
		return nil
	}

	if p.rl != nil && p.rateLimitPerMinute > 0 {
		allowed, err := p.rl.AllowSOAPCall(ctx, p.rateLimitPerMinute)
		if err != nil {
			return err
		}
		if !allowed {
			// Quota spent for this minute; the record stays due and the
			// next cycle picks it up.
			slog.Warn("cuota de llamadas agotada", "codigo", code)
			col.Ignored("retornomp", 1)
			return nil
		}
	}

	raw, err := p.client.FetchStatus(ctx, code)
	if err != nil {
		return err
	}
	p.totalFetched.Add(1)

	outcome, err := p.staging.UpsertReturn(ctx, n.Key, code, raw)
	if err != nil {
		return err
	}
	switch outcome {
	case pgpanel.OutcomeInserted:
		col.Added("retornomp", 1)
		p.totalStaged.Add(1)
	case pgpanel.OutcomeUpdated:
		col.Modified("retornomp", 1)
		p.totalStaged.Add(1)
	default:
		col.Ignored("retornomp", 1)
	}
	return nil
}
