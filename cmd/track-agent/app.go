package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BearBump/LoadTrack/config"
	"github.com/BearBump/LoadTrack/internal/api/agentapi"
	"github.com/BearBump/LoadTrack/internal/auth"
	"github.com/BearBump/LoadTrack/internal/broker/kafka"
	"github.com/BearBump/LoadTrack/internal/broker/messages"
	"github.com/BearBump/LoadTrack/internal/cache"
	"github.com/BearBump/LoadTrack/internal/cache/rediscache"
	"github.com/BearBump/LoadTrack/internal/integrations/positions"
	"github.com/BearBump/LoadTrack/internal/integrations/positions/replay"
	"github.com/BearBump/LoadTrack/internal/integrations/positions/wsfeed"
	"github.com/BearBump/LoadTrack/internal/integrations/remote"
	"github.com/BearBump/LoadTrack/internal/integrations/remote/fake"
	"github.com/BearBump/LoadTrack/internal/integrations/remote/httpapi"
	"github.com/BearBump/LoadTrack/internal/jobs"
	"github.com/BearBump/LoadTrack/internal/qrcode"
	"github.com/BearBump/LoadTrack/internal/services/activation"
	"github.com/BearBump/LoadTrack/internal/services/orders"
	"github.com/BearBump/LoadTrack/internal/services/tracking"
	"github.com/BearBump/LoadTrack/internal/storage/pgstore"
)

// agentStore is everything the agent needs from the order store.
type agentStore interface {
	orders.Repository
	tracking.LocationSink
}

type agentFactories struct {
	newStorage     func(cfg *config.Config) (st agentStore, closeFn func(), err error)
	newCache       func(cfg *config.Config) cache.BytesCache
	newActiveStore func(cfg *config.Config) tracking.StateStore
	newRateLimiter func(cfg *config.Config) activation.RateLimiter
	newPublisher   func(cfg *config.Config) tracking.GeofencePublisher
	newConsumer    func(cfg *config.Config) orders.Consumer
	newRemote      func(cfg *config.Config, tokens httpapi.TokenSource) remote.Client
	newWatchers    func(cfg *config.Config, hub *wsfeed.Hub) (fg, bg positions.Watcher, err error)
}

func defaultAgentFactories() agentFactories {
	return agentFactories{
		newStorage: func(cfg *config.Config) (agentStore, func(), error) {
			st, err := pgstore.New(cfg.PostgresDSN())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newCache: func(cfg *config.Config) cache.BytesCache {
			return rediscache.New(cfg.RedisAddr())
		},
		newActiveStore: func(cfg *config.Config) tracking.StateStore {
			return rediscache.NewActiveStore(cfg.RedisAddr(), deviceID(cfg))
		},
		newRateLimiter: func(cfg *config.Config) activation.RateLimiter {
			return rediscache.NewRateLimiter(cfg.RedisAddr())
		},
		newPublisher: func(cfg *config.Config) tracking.GeofencePublisher {
			return kafka.NewProducer(cfg.KafkaBrokers())
		},
		newConsumer: func(cfg *config.Config) orders.Consumer {
			group := cfg.LoadTrack.KafkaConsumerGroup
			if group == "" {
				group = "track-agent-" + deviceID(cfg)
			}
			return kafka.NewConsumer(cfg.KafkaBrokers(), messages.TopicOrdersChanged, group)
		},
		newRemote: func(cfg *config.Config, tokens httpapi.TokenSource) remote.Client {
			// Без base_url работаем с локальной заглушкой бэкенда.
			if cfg.LoadTrack.BackendBaseURL == "" {
				return fake.New()
			}
			return httpapi.New(cfg.LoadTrack.BackendBaseURL, tokens)
		},
		newWatchers: func(cfg *config.Config, hub *wsfeed.Hub) (positions.Watcher, positions.Watcher, error) {
			var fg positions.Watcher
			switch cfg.LoadTrack.PositionSource {
			case "", "hub":
				fg = hub
			case "ws":
				if cfg.LoadTrack.PositionFeedURL == "" {
					return nil, nil, fmt.Errorf("position_feed_url is required for ws source")
				}
				fg = wsfeed.NewClient(cfg.LoadTrack.PositionFeedURL)
			case "replay":
				fixes, err := replay.LoadFile(cfg.LoadTrack.PositionReplayFile)
				if err != nil {
					return nil, nil, err
				}
				interval := time.Duration(cfg.LoadTrack.TrackingIntervalSeconds) * time.Second
				fg = replay.New(fixes, interval)
			default:
				return nil, nil, fmt.Errorf("unknown position_source %q", cfg.LoadTrack.PositionSource)
			}

			var bg positions.Watcher
			if cfg.LoadTrack.BackgroundFeedURL != "" {
				bg = wsfeed.NewClient(cfg.LoadTrack.BackgroundFeedURL)
			}
			return fg, bg, nil
		},
	}
}

func deviceID(cfg *config.Config) string {
	if cfg.LoadTrack.DeviceID != "" {
		return cfg.LoadTrack.DeviceID
	}
	return "default"
}

type agentSettings struct {
	httpAddr       string
	cacheTTL       time.Duration
	qrTTL          time.Duration
	jwtTTL         time.Duration
	scanLimit      int64
	interval       time.Duration
	minDistance    float64
	bufferCapacity int
	radius         float64
	flushAttempts  int
	flushStep      time.Duration
	flushSchedule  string
}

func settingsFrom(cfg *config.Config) agentSettings {
	lt := cfg.LoadTrack
	s := agentSettings{
		httpAddr:       lt.HTTPAddr,
		cacheTTL:       time.Duration(lt.OrderCacheTTLSeconds) * time.Second,
		qrTTL:          time.Duration(lt.QRTTLSeconds) * time.Second,
		jwtTTL:         time.Duration(lt.JWTTTLSeconds) * time.Second,
		scanLimit:      int64(lt.ScanLimitPerMinute),
		interval:       time.Duration(lt.TrackingIntervalSeconds) * time.Second,
		minDistance:    lt.TrackingMinDistanceMeters,
		bufferCapacity: lt.TrackingBufferCapacity,
		radius:         lt.GeofenceRadiusMeters,
		flushAttempts:  lt.FlushAttempts,
		flushStep:      time.Duration(lt.FlushRetryStepMillis) * time.Millisecond,
		flushSchedule:  lt.FlushSchedule,
	}
	if s.httpAddr == "" {
		s.httpAddr = ":8080"
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = 10 * time.Minute
	}
	if s.qrTTL <= 0 {
		s.qrTTL = qrcode.DefaultTTL
	}
	if s.interval <= 0 {
		s.interval = positions.DefaultInterval
	}
	if s.minDistance <= 0 {
		s.minDistance = positions.DefaultMinDistanceMeters
	}
	if s.flushStep <= 0 {
		s.flushStep = time.Second
	}
	return s
}

type agentApp struct {
	agent      *tracking.Agent
	orders     *orders.Service
	activation *activation.Service
	flushJob   *jobs.FlushJob
	hub        *wsfeed.Hub
	feed       orders.Consumer
	api        http.Handler
}

func buildAgentApp(cfg *config.Config, st agentStore, f agentFactories) (*agentApp, error) {
	s := settingsFrom(cfg)
	if cfg.LoadTrack.QRSecret == "" || cfg.LoadTrack.JWTSecret == "" {
		return nil, fmt.Errorf("qr_secret and jwt_secret are required")
	}

	signer := auth.NewSigner([]byte(cfg.LoadTrack.JWTSecret), s.jwtTTL)
	tokens := auth.NewServiceTokens(signer, auth.Claims{
		DriverID: "device:" + deviceID(cfg),
		TenantID: cfg.LoadTrack.TenantID,
		Role:     "device",
	})
	backend := f.newRemote(cfg, tokens)

	hub := wsfeed.NewHub()
	fg, bg, err := f.newWatchers(cfg, hub)
	if err != nil {
		return nil, err
	}

	agent := tracking.NewAgent(fg, positions.StaticPermissions(true), f.newActiveStore(cfg), st).
		WithGeofencePublisher(f.newPublisher(cfg)).
		WithSettings(s.interval, s.minDistance, s.bufferCapacity, s.radius).
		WithFlushRetry(s.flushAttempts, s.flushStep)
	if bg != nil {
		agent.WithBackground(bg)
	}

	ordersSvc := orders.New(st, f.newCache(cfg), s.cacheTTL, agent)
	validator := qrcode.NewValidator(cfg.LoadTrack.TenantID, []byte(cfg.LoadTrack.QRSecret), backend).WithTTL(s.qrTTL)
	act := activation.New(validator, backend, ordersSvc, agent).
		WithRateLimit(f.newRateLimiter(cfg), s.scanLimit, time.Minute)

	api := agentapi.New(ordersSvc, act, agent, signer).WithPositionFeed(hub).Routes()

	return &agentApp{
		agent:      agent,
		orders:     ordersSvc,
		activation: act,
		flushJob:   jobs.NewFlushJob(agent, s.flushSchedule),
		hub:        hub,
		feed:       f.newConsumer(cfg),
		api:        api,
	}, nil
}

// RunTrackAgent wires the agent and blocks until ctx is done or a component fails.
func RunTrackAgent(ctx context.Context, cfg *config.Config, f agentFactories, httpOpts agentHTTPOpts) error {
	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	app, err := buildAgentApp(cfg, st, f)
	if err != nil {
		return err
	}
	if c, ok := app.feed.(interface{ Close() error }); ok {
		defer func() { _ = c.Close() }()
	}

	// восстановление после холодного старта
	if err := app.agent.Resume(ctx, app.orders); err != nil {
		slog.Error("resume tracking failed", "err", err)
	} else if id, ok := app.agent.TrackedOrderID(); ok {
		app.orders.SetActive(id)
		slog.Info("tracking resumed", "order_id", id)
	}

	if err := app.flushJob.Start(); err != nil {
		return err
	}
	defer app.flushJob.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	go func() { errCh <- app.agent.Run(ctx) }()
	go func() { errCh <- subscribeLoop(ctx, app.orders, app.feed) }()
	go func() {
		httpOpts.httpAddr = settingsFrom(cfg).httpAddr
		httpOpts.app = app
		httpOpts.corsOrigins = cfg.LoadTrack.CORSAllowedOrigins
		errCh <- runAgentHTTPServer(ctx, httpOpts)
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
	}
	cancel()

	// трекинг не останавливаем: намерение отслеживать заказ переживает рестарт
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if ferr := app.agent.FlushNow(stopCtx); ferr != nil {
		slog.Warn("final flush failed", "buffered", app.agent.Buffered(), "err", ferr)
	}

	if err != nil && err != context.Canceled && err != http.ErrServerClosed {
		return err
	}
	return ctx.Err()
}

// subscribeLoop keeps the realtime feed consumer alive until ctx is done.
func subscribeLoop(ctx context.Context, svc *orders.Service, c orders.Consumer) error {
	for i := 0; ; i++ {
		err := svc.Subscribe(ctx, c)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("order feed consumer stopped, restarting", "err", err)
		delay := time.Duration(min(i+1, 10)) * time.Second
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
