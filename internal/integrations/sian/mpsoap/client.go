// Package mpsoap talks SOAP to the wsNotificacion service of the public
// prosecutor's office.
package mpsoap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/justiciasalta/sian-sync/internal/models"
)

const (
	basePath         = "/services/wsNotificacion.asmx"
	actionStatus     = "http://tempuri.org/ObtenerEstadoNotificacion"
	actionStatusFile = "http://tempuri.org/ObtenerArchivoEstadoNotificacion"
)

type Credentials struct {
	UsuarioNombre string
	UsuarioClave  string
}

type Client struct {
	baseURL string
	creds   Credentials
	httpc   *http.Client

	minInterval time.Duration
	maxAttempts int

	mu       sync.Mutex
	lastCall time.Time

	// test hook; real clients sleep
	sleep func(time.Duration)
}

// New builds a client for the given environment. The environment picks the
// host only; path, action and envelope are identical in test and production.
func New(env models.Environment, creds Credentials) *Client {
	return &Client{
		baseURL: "https://" + env.SOAPHost(),
		creds:   creds,
		httpc: &http.Client{
			Timeout: 60 * time.Second,
		},
		minInterval: 1500 * time.Millisecond,
		maxAttempts: 3,
		sleep:       time.Sleep,
	}
}

func (c *Client) WithSettings(timeout, minInterval time.Duration, maxAttempts int) *Client {
	if timeout > 0 {
		c.httpc.Timeout = timeout
	}
	if minInterval > 0 {
		c.minInterval = minInterval
	}
	if maxAttempts > 0 {
		c.maxAttempts = maxAttempts
	}
	return c
}

// WithBaseURL overrides the endpoint; used by tests against httptest servers.
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

func (c *Client) FetchStatus(ctx context.Context, trackingCode string) (string, error) {
	code := strings.TrimSpace(trackingCode)
	if code == "" {
		return "", errors.New("tracking code is empty")
	}
	return c.post(ctx, actionStatus, c.statusEnvelope(code))
}

func (c *Client) FetchStatusFile(ctx context.Context, statusOrdinalID string) (string, error) {
	id := strings.TrimSpace(statusOrdinalID)
	if id == "" {
		return "", errors.New("status ordinal id is empty")
	}
	return c.post(ctx, actionStatusFile, c.fileEnvelope(id))
}

func (c *Client) statusEnvelope(code string) string {
	return c.envelope("ObtenerEstadoNotificacion", "codigoSeguimiento", code)
}

func (c *Client) fileEnvelope(id string) string {
	return c.envelope("ObtenerArchivoEstadoNotificacion", "estadoNotificacionId", id)
}

func (c *Client) envelope(operation, argName, argValue string) string {
	return `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:tem="http://tempuri.org/">` +
		`<soapenv:Header><tem:Authentication>` +
		`<tem:UsuarioClave>` + c.creds.UsuarioClave + `</tem:UsuarioClave>` +
		`<tem:UsuarioNombre>` + c.creds.UsuarioNombre + `</tem:UsuarioNombre>` +
		`</tem:Authentication></soapenv:Header>` +
		`<soapenv:Body><tem:` + operation + `>` +
		`<tem:` + argName + `>` + argValue + `</tem:` + argName + `>` +
		`</tem:` + operation + `></soapenv:Body></soapenv:Envelope>`
}

// waitTurn enforces the global minimum spacing between remote calls; the
// service throttles aggressive clients, so every call pays the gate first.
func (c *Client) waitTurn() {
	c.mu.Lock()
	now := time.Now()
	wait := c.minInterval - now.Sub(c.lastCall)
	if wait < 0 {
		wait = 0
	}
	c.lastCall = now.Add(wait)
	c.mu.Unlock()

	if wait > 0 {
		c.sleep(wait)
	}
}

func (c *Client) post(ctx context.Context, action, body string) (string, error) {
	url := c.baseURL + basePath

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		c.waitTurn()

		raw, retryable, err := c.doOnce(ctx, url, action, body)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !retryable {
			break
		}
		if attempt < c.maxAttempts {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			slog.Warn("soap call failed, retrying", "action", action, "attempt", attempt, "backoff", backoff.String(), "error", err.Error())
			c.sleep(backoff)
		}
	}
	return "", lastErr
}

// doOnce performs a single HTTP exchange. The second return value tells the
// caller whether another attempt makes sense (network/5xx yes, 429/4xx no).
func (c *Client) doOnce(ctx context.Context, url, action, body string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return "", false, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "text/xml; charset=UTF-8")
	req.Header.Set("SOAPAction", action)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", true, errors.Wrap(err, "soap request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := retryAfter(resp.Header.Get("Retry-After"))
		slog.Warn("soap service rate limited us", "retry_after", wait.String())
		if wait > 0 {
			c.sleep(wait)
		}
		// No resubmit within this invocation: the record is picked up on
		// the next polling pass.
		return "", false, fmt.Errorf("soap rate limited (429), waited %s", wait)
	}
	if resp.StatusCode/100 == 5 {
		return "", true, fmt.Errorf("soap http %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("soap http %d", resp.StatusCode)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, errors.Wrap(err, "read response")
	}
	raw := strings.TrimSpace(string(b))
	if raw == "" {
		return "", false, errors.New("soap empty response body")
	}
	return raw, false, nil
}

// retryAfter understands both the delta-seconds and the HTTP-date form.
func retryAfter(h string) time.Duration {
	h = strings.TrimSpace(h)
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		d := time.Until(t)
		if d < 0 {
			return 0
		}
		return d
	}
	return 0
}
