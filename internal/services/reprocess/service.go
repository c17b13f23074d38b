// Package reprocess re-runs the fetch/reconcile pipeline for a chosen
// slice of records: every code sitting in a given state, or one specific
// tracking code, outside any tier or age window.
package reprocess

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/justiciasalta/sian-sync/internal/integrations/sian"
	"github.com/justiciasalta/sian-sync/internal/models"
	"github.com/justiciasalta/sian-sync/internal/sianxml"
	"github.com/justiciasalta/sian-sync/internal/storage/pgpanel"
	"github.com/justiciasalta/sian-sync/internal/summary"
)

type Repository interface {
	GetByTrackingCode(ctx context.Context, code string) (*models.Notification, error)
	CodesByLastState(ctx context.Context, state string) ([]string, error)
	CodesByLatestState(ctx context.Context, state string) ([]string, error)
	ActiveCodes(ctx context.Context) ([]string, error)
	LatestPersistedEvent(ctx context.Context, code string) (*models.StatusEvent, error)
}

type Staging interface {
	UpsertReturn(ctx context.Context, key models.RecordKey, code, rawXML string) (pgpanel.UpsertOutcome, error)
	PendingReturnsByCode(ctx context.Context, code string) ([]*pgpanel.StagedReturn, error)
}

type Syncer interface {
	ProcessStaged(ctx context.Context, r *pgpanel.StagedReturn, col *summary.Collector) error
	ApplyLatest(ctx context.Context, key models.RecordKey, code string) (bool, error)
}

// ItemReport is the outcome for one reprocessed tracking code.
type ItemReport struct {
	Code    string
	Changed bool
	Err     error
}

type Service struct {
	repo    Repository
	staging Staging
	client  sian.Client
	syncer  Syncer
}

func New(repo Repository, staging Staging, client sian.Client, syncer Syncer) *Service {
	return &Service{repo: repo, staging: staging, client: client, syncer: syncer}
}

// ByState reprocesses every code whose latest persisted event OR whose
// denormalized last state matches. Querying both sides on purpose: when
// the two disagree, that code is exactly the one worth reprocessing.
// maxAgeDays > 0 restricts the sweep to records whose last state is at
// most that old.
func (s *Service) ByState(ctx context.Context, state string, maxAgeDays int, col *summary.Collector) ([]ItemReport, error) {
	state = strings.TrimSpace(state)
	if state == "" {
		return nil, errors.New("state is required")
	}

	fromHistory, err := s.repo.CodesByLatestState(ctx, state)
	if err != nil {
		return nil, err
	}
	fromRecords, err := s.repo.CodesByLastState(ctx, state)
	if err != nil {
		return nil, err
	}

	return s.run(ctx, mergeCodes(fromHistory, fromRecords), maxAgeDays, col), nil
}

// All reprocesses every active (not discarded, not finished) code.
func (s *Service) All(ctx context.Context, maxAgeDays int, col *summary.Collector) ([]ItemReport, error) {
	codes, err := s.repo.ActiveCodes(ctx)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, mergeCodes(codes, nil), maxAgeDays, col), nil
}

// ByCode narrows the pipeline to exactly one tracking code, outside any
// age window.
func (s *Service) ByCode(ctx context.Context, code string, col *summary.Collector) (ItemReport, error) {
	code = models.NormalizeTrackingCode(code)
	if code == "" {
		return ItemReport{}, errors.New("tracking code is required")
	}
	r := s.reprocessOne(ctx, code, 0, col)
	if r.Err != nil {
		col.Error(code, r.Err)
	}
	return r, nil
}

func (s *Service) run(ctx context.Context, codes []string, maxAgeDays int, col *summary.Collector) []ItemReport {
	reports := make([]ItemReport, 0, len(codes))
	for _, code := range codes {
		r := s.reprocessOne(ctx, code, maxAgeDays, col)
		if r.Err != nil {
			col.Error(code, r.Err)
			slog.Error("reprocess code", "codigo", code, "error", r.Err.Error())
		}
		reports = append(reports, r)
	}
	return reports
}

func mergeCodes(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var codes []string
	for _, c := range append(a, b...) {
		c = models.NormalizeTrackingCode(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// reprocessOne always performs the fetch for a selected record; the remote
// state cannot be assumed unchanged without asking. Downstream writes are
// skipped when the fetched history brings nothing new.
func (s *Service) reprocessOne(ctx context.Context, code string, maxAgeDays int, col *summary.Collector) ItemReport {
	report := ItemReport{Code: code}

	n, err := s.repo.GetByTrackingCode(ctx, code)
	if err != nil {
		report.Err = err
		return report
	}
	if n == nil {
		report.Err = errors.Errorf("no notification record for code %s", code)
		return report
	}
	if maxAgeDays > 0 && n.LastStateAt != nil &&
		time.Since(*n.LastStateAt) > time.Duration(maxAgeDays)*24*time.Hour {
		col.Ignored("retornomp", 1)
		return report
	}
	prevState := strings.TrimSpace(n.LastState)
	var prevStateAt *time.Time
	if n.LastStateAt != nil {
		t := *n.LastStateAt
		prevStateAt = &t
	}

	raw, err := s.client.FetchStatus(ctx, code)
	if err != nil {
		report.Err = err
		return report
	}

	if s.nothingNew(ctx, n, raw) {
		col.Ignored("retornomp", 1)
		return report
	}

	if _, err := s.staging.UpsertReturn(ctx, n.Key, code, raw); err != nil {
		report.Err = err
		return report
	}

	pending, err := s.staging.PendingReturnsByCode(ctx, code)
	if err != nil {
		report.Err = err
		return report
	}
	for _, staged := range pending {
		if err := s.syncer.ProcessStaged(ctx, staged, col); err != nil {
			report.Err = err
			return report
		}
	}

	// La fila puede venir ya procesada (XML identico al anterior) y aun
	// asi estar desincronizada del historial; el ultimo estado se reaplica
	// siempre desde la tabla de eventos.
	applied, err := s.syncer.ApplyLatest(ctx, n.Key, code)
	if err != nil {
		report.Err = err
		return report
	}
	if applied {
		col.Modified("enviocedulanotificacionpolicia", 1)
	}

	after, err := s.repo.GetByTrackingCode(ctx, code)
	if err != nil {
		report.Err = err
		return report
	}
	report.Changed = after != nil &&
		(!strings.EqualFold(strings.TrimSpace(after.LastState), prevState) ||
			!sameInstant(after.LastStateAt, prevStateAt))
	return report
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return models.NaiveTime(*a).Equal(models.NaiveTime(*b))
}

// nothingNew compares the fetched history against what is already known:
// same latest state, same fecha and no new attachment id means the
// downstream writes can be skipped.
func (s *Service) nothingNew(ctx context.Context, n *models.Notification, raw string) bool {
	events := sianxml.ParseHistory(raw)
	latest := sianxml.LatestEvent(events)
	if latest == nil {
		return true
	}
	if !strings.EqualFold(strings.TrimSpace(latest.State), strings.TrimSpace(n.LastState)) {
		return false
	}
	if latest.EventTime != nil && !sameInstant(latest.EventTime, n.LastStateAt) {
		return false
	}
	if latest.FileID == nil {
		return true
	}

	persisted, err := s.repo.LatestPersistedEvent(ctx, n.TrackingCode)
	if err != nil || persisted == nil || persisted.FileID == nil {
		return false
	}
	return *persisted.FileID == *latest.FileID
}

// WriteChangedReport writes the codes that actually changed, one per line,
// and returns the file path. No file is written when nothing changed.
func WriteChangedReport(dir, label string, reports []ItemReport) (string, error) {
	var changed []string
	for _, r := range reports {
		if r.Changed {
			changed = append(changed, r.Code)
		}
	}
	if len(changed) == 0 {
		return "", nil
	}

	if dir == "" {
		dir = "."
	}
	name := fmt.Sprintf("reproceso_%s_%s.txt",
		sanitizeLabel(label), time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, name)

	if err := os.WriteFile(path, []byte(strings.Join(changed, "\n")+"\n"), 0o644); err != nil {
		return "", errors.Wrap(err, "write report")
	}
	return path, nil
}

func sanitizeLabel(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, label)
}
