// Package history owns the event-history reconciliation: raw SOAP payloads
// staged in retornomp become append-only rows in notpolhistoricomp, and the
// denormalized last-state columns follow whatever the history table says.
package history

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/justiciasalta/sian-sync/internal/broker/messages"
	"github.com/justiciasalta/sian-sync/internal/cache/rediscache"
	"github.com/justiciasalta/sian-sync/internal/models"
	"github.com/justiciasalta/sian-sync/internal/sianxml"
	"github.com/justiciasalta/sian-sync/internal/storage/pgpanel"
	"github.com/justiciasalta/sian-sync/internal/summary"
)

// PlaceholderState is written for fresh records without remote history,
// only under the "placeholder" policy.
const PlaceholderState = "Sin info"

const (
	PolicyLeave       = "leave"
	PolicyPlaceholder = "placeholder"
)

type OperationalStore interface {
	GetByTrackingCode(ctx context.Context, code string) (*models.Notification, error)
	ExistingEventKeys(ctx context.Context, key models.RecordKey, code string) (map[models.EventKey]struct{}, error)
	InsertEvents(ctx context.Context, key models.RecordKey, code string, events []*models.StatusEvent) (int64, error)
	LatestPersistedEvent(ctx context.Context, code string) (*models.StatusEvent, error)
	UpdateLastState(ctx context.Context, code, state string, at *time.Time) (int64, error)
	SetEventFile(ctx context.Context, code string, ordinalID int64, fileID, fileName, content string) (int64, error)
}

type StagingStore interface {
	PendingReturns(ctx context.Context, limit int) ([]*pgpanel.StagedReturn, error)
	MarkProcessed(ctx context.Context, key models.RecordKey) error
}

type FileFetcher interface {
	FetchStatusFile(ctx context.Context, statusOrdinalID string) (string, error)
}

type Producer interface {
	PublishStatusChanged(ctx context.Context, msg messages.StatusChanged) error
}

type Cache interface {
	Invalidate(ctx context.Context, key string) error
}

type Service struct {
	ops     OperationalStore
	staging StagingStore
	files   FileFetcher // nil disables attachment enrichment
	prod    Producer    // nil disables kafka events
	cache   Cache       // nil disables status-cache invalidation

	policy    string
	batchSize int
}

func New(ops OperationalStore, staging StagingStore) *Service {
	return &Service{
		ops:       ops,
		staging:   staging,
		policy:    PolicyLeave,
		batchSize: 200,
	}
}

func (s *Service) WithFiles(f FileFetcher) *Service { s.files = f; return s }

func (s *Service) WithProducer(p Producer) *Service { s.prod = p; return s }

func (s *Service) WithCache(c Cache) *Service { s.cache = c; return s }

func (s *Service) WithBatchSize(n int) *Service {
	if n > 0 {
		s.batchSize = n
	}
	return s
}

func (s *Service) WithEmptyHistoryPolicy(policy string) *Service {
	if policy == PolicyLeave || policy == PolicyPlaceholder {
		s.policy = policy
	}
	return s
}

// Reconcile appends the incoming events that are genuinely new for the
// record: in-memory duplicates collapse by identity key, already-persisted
// identities are skipped, and events strictly older than lastSeenAt are
// dropped. Events without a timestamp, or a nil lastSeenAt, are kept. The
// unique index underneath remains the final arbiter against concurrent
// passes. Returns the number of rows actually inserted.
func (s *Service) Reconcile(ctx context.Context, key models.RecordKey, code string, events []models.StatusEvent, lastSeenAt *time.Time) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	existing, err := s.ops.ExistingEventKeys(ctx, key, code)
	if err != nil {
		return 0, err
	}

	seen := make(map[models.EventKey]struct{}, len(events))
	var survivors []*models.StatusEvent
	for i := range events {
		ev := events[i]
		k := ev.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		if _, ok := existing[k]; ok {
			continue
		}
		if lastSeenAt != nil && ev.EventTime != nil && ev.EventTime.Before(*lastSeenAt) {
			continue
		}
		survivors = append(survivors, &ev)
	}

	inserted, err := s.ops.InsertEvents(ctx, key, code, survivors)
	if err != nil {
		return 0, err
	}
	return int(inserted), nil
}

// ApplyLatest re-reads the newest persisted event for the code and brings
// the denormalized columns in line with it. The history table is the
// source of truth: whatever a previous pass wrote is overwritten when it
// disagrees. Returns whether anything actually changed.
func (s *Service) ApplyLatest(ctx context.Context, key models.RecordKey, code string) (bool, error) {
	n, err := s.ops.GetByTrackingCode(ctx, code)
	if err != nil {
		return false, err
	}
	if n == nil {
		return false, errors.Errorf("no notification record for code %s", code)
	}

	latest, err := s.ops.LatestPersistedEvent(ctx, code)
	if err != nil {
		return false, err
	}

	if latest == nil {
		if s.policy == PolicyPlaceholder && strings.TrimSpace(n.LastState) == "" {
			now := time.Now()
			if _, err := s.ops.UpdateLastState(ctx, code, PlaceholderState, &now); err != nil {
				return false, err
			}
			return true, nil
		}
		return false, nil
	}

	if !stateChanged(n, latest) {
		return false, nil
	}

	if _, err := s.ops.UpdateLastState(ctx, code, latest.State, latest.EventTime); err != nil {
		return false, err
	}

	s.afterStateChange(ctx, n, latest)
	return true, nil
}

func stateChanged(n *models.Notification, latest *models.StatusEvent) bool {
	if !strings.EqualFold(strings.TrimSpace(n.LastState), strings.TrimSpace(latest.State)) {
		return true
	}
	switch {
	case n.LastStateAt == nil && latest.EventTime == nil:
		return false
	case n.LastStateAt == nil || latest.EventTime == nil:
		return true
	default:
		return !models.NaiveTime(*n.LastStateAt).Equal(models.NaiveTime(*latest.EventTime))
	}
}

func (s *Service) afterStateChange(ctx context.Context, prev *models.Notification, latest *models.StatusEvent) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, rediscache.StatusKey(prev.TrackingCode)); err != nil {
			slog.Warn("invalidate status cache", "codigo", prev.TrackingCode, "error", err.Error())
		}
	}
	if s.prod == nil {
		return
	}
	msg := messages.StatusChanged{
		MovementID:        prev.Key.MovementID,
		ActionID:          prev.Key.ActionID,
		ElectronicAddress: prev.Key.ElectronicAddress,
		TrackingCode:      prev.TrackingCode,
		PreviousState:     prev.LastState,
		State:             latest.State,
		StateAt:           latest.EventTime,
		Finished:          models.IsTerminalState(latest.State),
		ChangedAt:         time.Now().UTC(),
	}
	if err := s.prod.PublishStatusChanged(ctx, msg); err != nil {
		slog.Warn("publish status changed", "codigo", prev.TrackingCode, "error", err.Error())
	}
}

// SyncPending drains the unprocessed staging rows through the full
// pipeline. A failing record is logged into the collector and skipped;
// the staged row stays pending for the next pass.
func (s *Service) SyncPending(ctx context.Context, col *summary.Collector) error {
	pending, err := s.staging.PendingReturns(ctx, s.batchSize)
	if err != nil {
		return err
	}

	for _, r := range pending {
		if err := s.ProcessStaged(ctx, r, col); err != nil {
			col.Error(r.TrackingCode, err)
			slog.Error("process staged return", "codigo", r.TrackingCode, "error", err.Error())
		}
	}
	return nil
}

// ProcessStaged runs one staged response through parse, reconcile,
// attachment enrichment and last-state update, then marks it consumed.
func (s *Service) ProcessStaged(ctx context.Context, r *pgpanel.StagedReturn, col *summary.Collector) error {
	code := models.NormalizeTrackingCode(r.TrackingCode)
	if code == "" {
		return errors.New("staged return without tracking code")
	}

	n, err := s.ops.GetByTrackingCode(ctx, code)
	if err != nil {
		return err
	}
	if n == nil {
		return errors.Errorf("no notification record for code %s", code)
	}

	events := sianxml.ParseHistory(r.RawXML)

	inserted, err := s.Reconcile(ctx, n.Key, code, events, n.LastStateAt)
	if err != nil {
		return err
	}
	col.Added("notpolhistoricomp", inserted)
	col.Ignored("notpolhistoricomp", len(events)-inserted)

	if inserted > 0 {
		s.enrichAttachment(ctx, code, events)
	}

	changed, err := s.ApplyLatest(ctx, n.Key, code)
	if err != nil {
		return err
	}
	if changed {
		col.Modified("enviocedulanotificacionpolicia", 1)
	}

	if err := s.staging.MarkProcessed(ctx, r.Key); err != nil {
		return err
	}
	col.Modified("retornomp", 1)
	return nil
}

// enrichAttachment fetches the document attached to the newest event, when
// the remote history references one. Failures only log; the attachment is
// retried on the next state change.
func (s *Service) enrichAttachment(ctx context.Context, code string, events []models.StatusEvent) {
	if s.files == nil {
		return
	}
	latest := sianxml.LatestEvent(events)
	if latest == nil || latest.OrdinalID == nil || latest.FileID == nil {
		return
	}

	ordinal := *latest.OrdinalID
	raw, err := s.files.FetchStatusFile(ctx, strconv.FormatInt(ordinal, 10))
	if err != nil {
		slog.Warn("fetch status file", "codigo", code, "estado_id", ordinal, "error", err.Error())
		return
	}
	payload := sianxml.ParseFilePayload(raw)
	if payload == nil || payload.Content == "" {
		return
	}
	if _, err := s.ops.SetEventFile(ctx, code, ordinal, payload.FileID, payload.FileName, payload.Content); err != nil {
		slog.Warn("set event file", "codigo", code, "estado_id", ordinal, "error", err.Error())
	}
}
