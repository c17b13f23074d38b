package mpsoap

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/justiciasalta/sian-sync/internal/models"
)

const okBody = `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>ok</soap:Body></soap:Envelope>`

func newTestClient(t *testing.T, srvURL string) (*Client, *[]time.Duration) {
	t.Helper()
	var slept []time.Duration
	c := New(models.EnvTest, Credentials{UsuarioNombre: "pj", UsuarioClave: "clave"}).
		WithBaseURL(srvURL).
		WithSettings(5*time.Second, time.Millisecond, 3)
	c.sleep = func(d time.Duration) { slept = append(slept, d) }
	return c, &slept
}

func TestFetchStatus_OK(t *testing.T) {
	var gotAction, gotBody, gotCT string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/services/wsNotificacion.asmx", r.URL.Path)
		gotAction = r.Header.Get("SOAPAction")
		gotCT = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	raw, err := c.FetchStatus(context.Background(), " ABC123 ")
	require.NoError(t, err)
	require.Equal(t, okBody, raw)
	require.Equal(t, "http://tempuri.org/ObtenerEstadoNotificacion", gotAction)
	require.Equal(t, "text/xml; charset=UTF-8", gotCT)
	require.Contains(t, gotBody, "<tem:codigoSeguimiento>ABC123</tem:codigoSeguimiento>")
	require.Contains(t, gotBody, "<tem:UsuarioNombre>pj</tem:UsuarioNombre>")
	require.Contains(t, gotBody, "<tem:UsuarioClave>clave</tem:UsuarioClave>")
}

func TestFetchStatusFile_Action(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "http://tempuri.org/ObtenerArchivoEstadoNotificacion", r.Header.Get("SOAPAction"))
		b, _ := io.ReadAll(r.Body)
		require.Contains(t, string(b), "<tem:estadoNotificacionId>123</tem:estadoNotificacionId>")
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	_, err := c.FetchStatusFile(context.Background(), "123")
	require.NoError(t, err)
}

func TestFetchStatus_RetriesOn5xx(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	c, slept := newTestClient(t, srv.URL)
	raw, err := c.FetchStatus(context.Background(), "ABC")
	require.NoError(t, err)
	require.Equal(t, okBody, raw)
	require.Equal(t, 3, calls)
	// two backoff sleeps among the recorded ones: 1s then 2s
	require.Contains(t, *slept, 1*time.Second)
	require.Contains(t, *slept, 2*time.Second)
}

func TestFetchStatus_ExhaustsAttempts(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	_, err := c.FetchStatus(context.Background(), "ABC")
	require.Error(t, err)
	require.Equal(t, 3, calls)
	require.Contains(t, err.Error(), "soap http 500")
}

func TestFetchStatus_429HonorsRetryAfterWithoutResubmit(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, slept := newTestClient(t, srv.URL)
	_, err := c.FetchStatus(context.Background(), "ABC")
	require.Error(t, err)
	require.Contains(t, err.Error(), "rate limited")
	require.Equal(t, 1, calls)
	require.Contains(t, *slept, 2*time.Second)
}

func TestFetchStatus_EmptyBodyIsSoftFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte("   "))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	_, err := c.FetchStatus(context.Background(), "ABC")
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty response")
	require.Equal(t, 1, calls)
}

func TestMinIntervalSpacing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	c := New(models.EnvTest, Credentials{}).
		WithBaseURL(srv.URL).
		WithSettings(5*time.Second, 120*time.Millisecond, 1)

	start := time.Now()
	_, err := c.FetchStatus(context.Background(), "A")
	require.NoError(t, err)
	_, err = c.FetchStatus(context.Background(), "B")
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 120*time.Millisecond)
}

func TestRetryAfter(t *testing.T) {
	require.Equal(t, 2*time.Second, retryAfter("2"))
	require.Equal(t, time.Duration(0), retryAfter(""))
	require.Equal(t, time.Duration(0), retryAfter("-5"))
	require.Equal(t, time.Duration(0), retryAfter("garbage"))

	future := time.Now().Add(3 * time.Second).UTC().Format(http.TimeFormat)
	d := retryAfter(future)
	require.Greater(t, d, time.Second)
	require.LessOrEqual(t, d, 3*time.Second)
}

func TestEnvironmentHosts(t *testing.T) {
	require.Equal(t, "pruebasian.mpublico.gov.ar", models.EnvTest.SOAPHost())
	require.Equal(t, "sian.mpublico.gov.ar", models.EnvProduction.SOAPHost())
	require.True(t, strings.HasPrefix(New(models.EnvProduction, Credentials{}).baseURL, "https://sian."))
}
