package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/justiciasalta/sian-sync/config"
	"github.com/justiciasalta/sian-sync/internal/integrations/sian/fake"
	"github.com/justiciasalta/sian-sync/internal/integrations/sian/mpsoap"
	"github.com/justiciasalta/sian-sync/internal/models"
	"github.com/justiciasalta/sian-sync/internal/services/poller"
	"github.com/justiciasalta/sian-sync/internal/storage/pgnotif"
	"github.com/justiciasalta/sian-sync/internal/storage/pgpanel"
	"github.com/justiciasalta/sian-sync/internal/summary"
)

func TestNewSianClient_Selection(t *testing.T) {
	// sin credenciales: fake local
	c := newSianClient(&config.Config{})
	_, ok := c.(*fake.Client)
	require.True(t, ok)

	// con credenciales: cliente SOAP real
	cfg := &config.Config{}
	cfg.SOAP.UsuarioNombre = "usuario"
	cfg.SOAP.UsuarioClave = "clave"
	cfg.SOAP.Environment = string(models.EnvTest)
	c = newSianClient(cfg)
	_, ok = c.(*mpsoap.Client)
	require.True(t, ok)
}

type fakeRepo struct{}

func (fakeRepo) SelectDue(ctx context.Context, q pgnotif.TierQuery) ([]*models.Notification, error) {
	return nil, nil
}
func (fakeRepo) FinishDiscarded(ctx context.Context) (int64, error) { return 0, nil }

func (fakeRepo) ResetFresh(ctx context.Context, placeholder string) (int64, error) {
	return 0, nil
}

type fakeStaging struct{}

func (fakeStaging) UpsertReturn(ctx context.Context, key models.RecordKey, code, rawXML string) (pgpanel.UpsertOutcome, error) {
	return pgpanel.OutcomeUnchanged, nil
}

type fakeSyncer struct{}

func (fakeSyncer) SyncPending(ctx context.Context, col *summary.Collector) error { return nil }

func TestWorkerHTTPServer_Endpoints(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := poller.New(fakeRepo{}, fakeStaging{}, fake.New(), fakeSyncer{})

	addrCh := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr: "127.0.0.1:0",
			onListen: func(a string) { addrCh <- a },
			poller:   p,
			cfg:      &config.Config{},
		})
	}()

	var addr string
	select {
	case addr = <-addrCh:
	case <-time.After(3 * time.Second):
		t.Fatal("http server did not start")
	}
	base := "http://" + addr

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.JSONEq(t, `{"status":"ok"}`, string(b))

	resp, err = http.Post(base+"/trigger", "application/json", nil)
	require.NoError(t, err)
	b, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.JSONEq(t, `{"triggered":true}`, string(b))

	resp, err = http.Get(base + "/stats")
	require.NoError(t, err)
	var st poller.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	_ = resp.Body.Close()
	require.False(t, st.StartedAt.IsZero())

	// sin storage: la consulta de estado responde 503
	resp, err = http.Get(base + "/notifications/SIAN-1/status")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// codigo centinela: 400
	resp, err = http.Get(base + "/notifications/NONE/status")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	cancel()
	require.NoError(t, <-done)
}
