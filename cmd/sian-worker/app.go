package main

import (
	"context"
	"fmt"
	"time"

	"github.com/justiciasalta/sian-sync/config"
	"github.com/justiciasalta/sian-sync/internal/broker/kafka"
	"github.com/justiciasalta/sian-sync/internal/cache/rediscache"
	"github.com/justiciasalta/sian-sync/internal/integrations/sian"
	"github.com/justiciasalta/sian-sync/internal/integrations/sian/fake"
	"github.com/justiciasalta/sian-sync/internal/integrations/sian/mpsoap"
	"github.com/justiciasalta/sian-sync/internal/models"
	"github.com/justiciasalta/sian-sync/internal/services/history"
	"github.com/justiciasalta/sian-sync/internal/services/poller"
	"github.com/justiciasalta/sian-sync/internal/storage/pgnotif"
	"github.com/justiciasalta/sian-sync/internal/storage/pgpanel"
)

type workerFactories struct {
	newOperational func(cfg *config.Config) (*pgnotif.Storage, func(), error)
	newPanel       func(cfg *config.Config) (*pgpanel.Storage, func(), error)
	newProducer    func(cfg *config.Config) history.Producer
	newRateLimiter func(cfg *config.Config) poller.RateLimiter
	newCache       func(cfg *config.Config) *rediscache.RedisCache
	newSianClient  func(cfg *config.Config) sian.Client
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newOperational: func(cfg *config.Config) (*pgnotif.Storage, func(), error) {
			st, err := pgnotif.New(cfg.Operational.ConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newPanel: func(cfg *config.Config) (*pgpanel.Storage, func(), error) {
			st, err := pgpanel.New(cfg.Panel.ConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) history.Producer {
			if cfg.Kafka.Host == "" {
				return nil
			}
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) poller.RateLimiter {
			if cfg.Redis.Host == "" {
				return nil
			}
			return rediscache.NewRateLimiter(fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port))
		},
		newCache: func(cfg *config.Config) *rediscache.RedisCache {
			if cfg.Redis.Host == "" {
				return nil
			}
			return rediscache.New(fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port))
		},
		newSianClient: newSianClient,
	}
}

// newSianClient picks the real SOAP client when credentials are present,
// otherwise the canned fake for local runs.
func newSianClient(cfg *config.Config) sian.Client {
	if cfg.SOAP.UsuarioNombre == "" {
		return fake.New()
	}
	env := models.EnvProduction
	if cfg.SOAP.Environment == string(models.EnvTest) {
		env = models.EnvTest
	}
	c := mpsoap.New(env, mpsoap.Credentials{
		UsuarioNombre: cfg.SOAP.UsuarioNombre,
		UsuarioClave:  cfg.SOAP.UsuarioClave,
	})
	return c.WithSettings(
		time.Duration(cfg.SOAP.TimeoutSeconds)*time.Second,
		time.Duration(cfg.SOAP.MinIntervalMS)*time.Millisecond,
		cfg.SOAP.MaxAttempts,
	)
}

func RunSyncWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	pollInterval := time.Duration(cfg.Sync.PollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 10 * time.Minute
	}
	rlPerMin := int64(cfg.Sync.RateLimitPerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 40
	}

	ops, closeOps, err := f.newOperational(cfg)
	if err != nil {
		return err
	}
	if closeOps != nil {
		defer closeOps()
	}

	panel, closePanel, err := f.newPanel(cfg)
	if err != nil {
		return err
	}
	if closePanel != nil {
		defer closePanel()
	}

	client := f.newSianClient(cfg)
	cache := f.newCache(cfg)

	syncer := history.New(ops, panel).
		WithFiles(client).
		WithEmptyHistoryPolicy(cfg.Sync.EmptyHistoryPolicy)
	if producer := f.newProducer(cfg); producer != nil {
		syncer = syncer.WithProducer(producer)
	}
	if cache != nil {
		syncer = syncer.WithCache(cache)
	}

	p := poller.New(ops, panel, client, syncer).
		WithAudit(panel).
		WithSettings(pollInterval, rlPerMin, cfg.Sync.UrgentCategories).
		WithEmptyHistoryPolicy(cfg.Sync.EmptyHistoryPolicy)
	if rl := f.newRateLimiter(cfg); rl != nil {
		p = p.WithRateLimiter(rl)
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    cfg.Sync.HTTPAddr,
			swaggerPath: cfg.Sync.SwaggerPath,
			poller:      p,
			cfg:         cfg,
			ops:         ops,
			cache:       cache,
			statusTTL:   time.Duration(cfg.Sync.CurrentStatusTTLSeconds) * time.Second,
		})
	}()

	if err := p.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	select {
	case err := <-httpErr:
		if err != nil && err != context.Canceled {
			return err
		}
	case <-time.After(3 * time.Second):
	}
	return ctx.Err()
}
