package main

import (
	"context"
	"time"

	"github.com/BearBump/LoadTrack/config"
	"github.com/BearBump/LoadTrack/internal/broker/kafka"
	"github.com/BearBump/LoadTrack/internal/cache"
	"github.com/BearBump/LoadTrack/internal/cache/rediscache"
	"github.com/BearBump/LoadTrack/internal/services/relay"
	"github.com/BearBump/LoadTrack/internal/storage/pgstore"
)

type relayFactories struct {
	newStorage     func(cfg *config.Config) (repo relay.Repository, closeFn func(), err error)
	newPublisher   func(cfg *config.Config) relay.Publisher
	newCursorStore func(cfg *config.Config) cache.BytesCache
}

func defaultRelayFactories() relayFactories {
	return relayFactories{
		newStorage: func(cfg *config.Config) (relay.Repository, func(), error) {
			st, err := pgstore.New(cfg.PostgresDSN())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newPublisher: func(cfg *config.Config) relay.Publisher {
			return kafka.NewProducer(cfg.KafkaBrokers())
		},
		newCursorStore: func(cfg *config.Config) cache.BytesCache {
			return rediscache.New(cfg.RedisAddr())
		},
	}
}

func relayPollInterval(cfg *config.Config) time.Duration {
	if d := time.Duration(cfg.LoadTrack.RelayPollIntervalSeconds) * time.Second; d > 0 {
		return d
	}
	return 2 * time.Second
}

func buildRelay(cfg *config.Config, repo relay.Repository, f relayFactories) *relay.Relay {
	pollInterval := relayPollInterval(cfg)
	batchSize := cfg.LoadTrack.RelayBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	r := relay.New(repo, f.newPublisher(cfg)).WithSettings(pollInterval, batchSize)
	if f.newCursorStore != nil {
		if c := f.newCursorStore(cfg); c != nil {
			r.WithCursorStore(c)
		}
	}
	return r
}

// RunOrderRelay publishes order changes until ctx is done or the http server fails.
func RunOrderRelay(ctx context.Context, cfg *config.Config, f relayFactories, httpOpts relayHTTPOpts) error {
	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	r := buildRelay(cfg, repo, f)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- r.Run(ctx) }()
	go func() {
		if httpOpts.httpAddr == "" {
			httpOpts.httpAddr = cfg.LoadTrack.RelayHTTPAddr
		}
		if httpOpts.staleAfter == 0 {
			// три пропущенных цикла, но не меньше минуты: backoff после ошибок до 30s
			httpOpts.staleAfter = max(3*relayPollInterval(cfg), time.Minute)
		}
		httpOpts.relay = r
		httpOpts.cfg = cfg
		errCh <- runRelayHTTPServer(ctx, httpOpts)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
}
