package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/justiciasalta/sian-sync/config"
	"github.com/justiciasalta/sian-sync/internal/cache/rediscache"
	"github.com/justiciasalta/sian-sync/internal/models"
	"github.com/justiciasalta/sian-sync/internal/services/poller"
	"github.com/justiciasalta/sian-sync/internal/storage/pgnotif"
)

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	poller    *poller.Poller
	cfg       *config.Config
	ops       *pgnotif.Storage
	cache     *rediscache.RedisCache
	statusTTL time.Duration
}

type statusResponse struct {
	Codigo     string     `json:"codigo"`
	Estado     string     `json:"estado"`
	Fecha      *time.Time `json:"fecha,omitempty"`
	Finalizada bool       `json:"finalizada"`
	Descartada bool       `json:"descartada"`
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8083"
	}
	if opts.statusTTL <= 0 {
		opts.statusTTL = 60 * time.Second
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.poller == nil {
			_, _ = w.Write([]byte(`{"error":"poller not wired"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(opts.poller.Stats())
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.cfg == nil {
			_, _ = w.Write([]byte(`{"error":"config not wired"}`))
			return
		}
		// Never dump credentials; operational settings only.
		out := map[string]any{
			"environment":             opts.cfg.SOAP.Environment,
			"pollIntervalSeconds":     opts.cfg.Sync.PollIntervalSeconds,
			"rateLimitPerMinute":      opts.cfg.Sync.RateLimitPerMinute,
			"emptyHistoryPolicy":      opts.cfg.Sync.EmptyHistoryPolicy,
			"urgentCategories":        opts.cfg.Sync.UrgentCategories,
			"currentStatusTTLSeconds": opts.cfg.Sync.CurrentStatusTTLSeconds,
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.poller == nil {
			_, _ = w.Write([]byte(`{"error":"poller not wired"}`))
			return
		}
		opts.poller.Trigger()
		_, _ = w.Write([]byte(`{"triggered":true}`))
	})

	r.Get("/notifications/{code}/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		code := models.NormalizeTrackingCode(chi.URLParam(r, "code"))
		if code == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"codigo invalido"}`))
			return
		}
		serveStatus(w, r, opts, code)
	})

	// Swagger is optional for the worker; only mounted when a spec file is
	// configured.
	if opts.swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, opts.swaggerPath)
		})
		swaggerURL := "/swagger.json"
		if fi, err := os.Stat(opts.swaggerPath); err == nil {
			swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
		}
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
	}

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func serveStatus(w http.ResponseWriter, r *http.Request, opts workerHTTPOpts, code string) {
	ctx := r.Context()
	key := rediscache.StatusKey(code)

	if opts.cache != nil {
		if b, ok, err := opts.cache.Get(ctx, key); err == nil && ok {
			_, _ = w.Write(b)
			return
		}
	}

	if opts.ops == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"storage not wired"}`))
		return
	}
	n, err := opts.ops.GetByTrackingCode(ctx, code)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"consulta fallida"}`))
		return
	}
	if n == nil {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"codigo desconocido"}`))
		return
	}

	resp := statusResponse{
		Codigo:     n.TrackingCode,
		Estado:     n.LastState,
		Fecha:      n.LastStateAt,
		Finalizada: n.SianFinished,
		Descartada: n.Discarded,
	}
	b, _ := json.Marshal(resp)
	if opts.cache != nil {
		_ = opts.cache.Set(ctx, key, b, opts.statusTTL)
	}
	_, _ = w.Write(b)
}
