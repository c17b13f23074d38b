package poller

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/justiciasalta/sian-sync/internal/models"
	"github.com/justiciasalta/sian-sync/internal/storage/pgnotif"
	"github.com/justiciasalta/sian-sync/internal/storage/pgpanel"
	"github.com/justiciasalta/sian-sync/internal/summary"
)

type fakeRepo struct {
	due      map[string][]*models.Notification // por primer estado del paso
	selects  int
	finished int
	reset    int
}

func (r *fakeRepo) SelectDue(ctx context.Context, q pgnotif.TierQuery) ([]*models.Notification, error) {
	r.selects++
	return r.due[q.States[0]], nil
}

func (r *fakeRepo) FinishDiscarded(ctx context.Context) (int64, error) {
	r.finished++
	return 0, nil
}

func (r *fakeRepo) ResetFresh(ctx context.Context, placeholder string) (int64, error) {
	r.reset++
	return 0, nil
}

type fakeStaging struct {
	outcome pgpanel.UpsertOutcome
	calls   []string
	err     error
}

func (s *fakeStaging) UpsertReturn(ctx context.Context, key models.RecordKey, code, rawXML string) (pgpanel.UpsertOutcome, error) {
	s.calls = append(s.calls, code)
	return s.outcome, s.err
}

type fakeClient struct {
	raw   string
	err   error
	calls int
}

func (c *fakeClient) FetchStatus(ctx context.Context, trackingCode string) (string, error) {
	c.calls++
	return c.raw, c.err
}

func (c *fakeClient) FetchStatusFile(ctx context.Context, statusOrdinalID string) (string, error) {
	return "", nil
}

type fakeSyncer struct {
	calls int
}

func (s *fakeSyncer) SyncPending(ctx context.Context, col *summary.Collector) error {
	s.calls++
	return nil
}

type fakeAudit struct {
	runs         int
	notes        []string
	oks          []bool
	descriptions []string
}

func (a *fakeAudit) EnsureProcess(ctx context.Context, name, description string) (int64, error) {
	a.descriptions = append(a.descriptions, description)
	return 7, nil
}
func (a *fakeAudit) RecordRun(ctx context.Context, processID int64) error {
	a.runs++
	return nil
}
func (a *fakeAudit) AppendExecution(ctx context.Context, processID int64, ok bool, note string) error {
	a.oks = append(a.oks, ok)
	a.notes = append(a.notes, note)
	return nil
}

type fakeRL struct {
	allowed bool
}

func (r fakeRL) AllowSOAPCall(ctx context.Context, limit int64) (bool, error) {
	return r.allowed, nil
}

func notif(code string) *models.Notification {
	return &models.Notification{
		Key:          models.RecordKey{MovementID: 1, ActionID: 1, ElectronicAddress: "a@x"},
		TrackingCode: code,
	}
}

func TestRunOnce_FetchesStagesAndAudits(t *testing.T) {
	repo := &fakeRepo{due: map[string][]*models.Notification{
		"Ingresada": {notif("C-1"), notif("C-2")},
	}}
	staging := &fakeStaging{outcome: pgpanel.OutcomeInserted}
	client := &fakeClient{raw: "<xml/>"}
	syncer := &fakeSyncer{}
	audit := &fakeAudit{}

	p := New(repo, staging, client, syncer).WithAudit(audit)
	p.runOnce(context.Background())

	require.Equal(t, 1, repo.finished, "barrido previo siempre corre")
	require.Zero(t, repo.reset, "sin politica placeholder no se tocan los frescos")
	require.Equal(t, len(p.tiers), repo.selects)
	require.Equal(t, 2, client.calls)
	require.Equal(t, []string{"C-1", "C-2"}, staging.calls)

	// ingresadas trae registros, notificaciones siempre sincroniza
	require.Equal(t, 2, syncer.calls)

	require.Equal(t, 1, audit.runs)
	require.Equal(t, []string{processDescription}, audit.descriptions)
	require.Len(t, audit.notes, len(p.tiers))
	require.Contains(t, audit.notes[0], "ingresadas: retornomp: agregados=2")
	for _, ok := range audit.oks {
		require.True(t, ok)
	}

	st := p.Stats()
	require.EqualValues(t, 2, st.TotalSelected)
	require.EqualValues(t, 2, st.TotalFetched)
	require.EqualValues(t, 2, st.TotalStaged)
	require.Zero(t, st.TotalErrors)
}

func TestRunTier_FailureIsolation(t *testing.T) {
	repo := &fakeRepo{due: map[string][]*models.Notification{
		"Ingresada": {notif("C-1"), notif("C-2")},
	}}
	staging := &fakeStaging{outcome: pgpanel.OutcomeUnchanged}
	client := &fakeClient{err: errors.New("soap down")}
	syncer := &fakeSyncer{}

	p := New(repo, staging, client, syncer)
	col := summary.NewCollector()
	p.runTier(context.Background(), p.tiers[0], col)

	require.Equal(t, 2, client.calls, "la falla de un registro no corta el paso")
	require.Equal(t, 2, col.ErrorCount())
	require.Equal(t, 1, syncer.calls, "el paso igual dispara la sincronizacion")
	require.EqualValues(t, 2, p.Stats().TotalErrors)
	require.Equal(t, "soap down", p.Stats().LastError)
}

func TestFetchOne_QuotaExhaustedSkips(t *testing.T) {
	repo := &fakeRepo{}
	staging := &fakeStaging{}
	client := &fakeClient{raw: "<xml/>"}

	p := New(repo, staging, client, &fakeSyncer{}).WithRateLimiter(fakeRL{allowed: false})
	col := summary.NewCollector()
	require.NoError(t, p.fetchOne(context.Background(), notif("C-1"), col))
	require.Zero(t, client.calls)
	require.Empty(t, staging.calls)
	require.Contains(t, col.String(), "ignorados=1")
}

func TestFetchOne_SkipsCodeSentinel(t *testing.T) {
	client := &fakeClient{raw: "<xml/>"}
	p := New(&fakeRepo{}, &fakeStaging{}, client, &fakeSyncer{})

	col := summary.NewCollector()
	require.NoError(t, p.fetchOne(context.Background(), notif("NONE"), col))
	require.Zero(t, client.calls)
}

func TestPoller_WithSettings(t *testing.T) {
	p := New(&fakeRepo{}, &fakeStaging{}, &fakeClient{}, &fakeSyncer{}).
		WithSettings(5*time.Minute, 13, []string{"HAB"})
	require.Equal(t, 5*time.Minute, p.pollInterval)
	require.Equal(t, int64(13), p.rateLimitPerMinute)
	require.Equal(t, []string{"HAB"}, p.urgentCategories)
}
