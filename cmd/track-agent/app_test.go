package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/LoadTrack/config"
	"github.com/BearBump/LoadTrack/internal/auth"
	"github.com/BearBump/LoadTrack/internal/broker/messages"
	"github.com/BearBump/LoadTrack/internal/cache"
	"github.com/BearBump/LoadTrack/internal/cache/rediscache"
	"github.com/BearBump/LoadTrack/internal/geo"
	"github.com/BearBump/LoadTrack/internal/integrations/positions"
	"github.com/BearBump/LoadTrack/internal/integrations/positions/wsfeed"
	"github.com/BearBump/LoadTrack/internal/integrations/remote"
	"github.com/BearBump/LoadTrack/internal/integrations/remote/fake"
	"github.com/BearBump/LoadTrack/internal/integrations/remote/httpapi"
	"github.com/BearBump/LoadTrack/internal/models"
	"github.com/BearBump/LoadTrack/internal/qrcode"
	"github.com/BearBump/LoadTrack/internal/services/activation"
	"github.com/BearBump/LoadTrack/internal/services/orders"
	"github.com/BearBump/LoadTrack/internal/services/tracking"
	"github.com/BearBump/LoadTrack/internal/storage/pgstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

const testOrderID = "6f1c2a9e-3b7d-4c55-8e21-0d9a4b6c7e18"

type memStore struct {
	mu      sync.Mutex
	orders  map[string]models.Order
	history []models.StatusUpdate
	samples []models.LocationSample
}

func (s *memStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, errors.Wrapf(pgstore.ErrNotFound, "order %s", id)
	}
	return &o, nil
}

func (s *memStore) InsertStatusUpdate(ctx context.Context, u models.StatusUpdate) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, u)
	return uint64(len(s.history)), nil
}

func (s *memStore) UpdateOrderStatus(ctx context.Context, ch models.StatusChange) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[ch.OrderID]
	if !ok || o.Status != ch.From {
		return nil, pgstore.ErrStaleOrder
	}
	o = ch.Apply(o)
	s.orders[o.ID] = o
	return &o, nil
}

func (s *memStore) AssignDriverIfUnassigned(ctx context.Context, orderID, driverID string) (*models.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, false, pgstore.ErrNotFound
	}
	if o.AssignedDriverID != nil {
		return &o, false, nil
	}
	o.AssignedDriverID = &driverID
	s.orders[o.ID] = o
	return &o, true, nil
}

func (s *memStore) InsertLocationUpdates(ctx context.Context, samples []models.LocationSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, samples...)
	return nil
}

func (s *memStore) snapshot() (models.Order, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[testOrderID], len(s.samples)
}

type nopPublisher struct{}

func (nopPublisher) PublishGeofenceEvent(ctx context.Context, ev messages.GeofenceEvent) error {
	return nil
}

type idleConsumer struct{}

func (idleConsumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func testOrder() models.Order {
	driver := "d1"
	depot := geo.Point{Lat: 55.75, Lon: 37.61}
	return models.Order{
		ID:               testOrderID,
		OrderNumber:      "ORD-42",
		TenantID:         "t1",
		Status:           models.OrderStatusAssigned,
		AssignedDriverID: &driver,
		Loading:          models.Place{Name: "Depot", Point: &depot},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		LoadTrack: config.LoadTrackConfig{
			HTTPAddr:      "127.0.0.1:0",
			DeviceID:      "truck-1",
			TenantID:      "t1",
			QRSecret:      "qr-secret",
			JWTSecret:     "jwt-secret",
			FlushSchedule: "@every 1h",
		},
	}
}

func testFactories(t *testing.T, st *memStore, backend *fake.Client) agentFactories {
	mr := miniredis.RunT(t)
	return agentFactories{
		newStorage: func(cfg *config.Config) (agentStore, func(), error) {
			return st, nil, nil
		},
		newCache: func(cfg *config.Config) cache.BytesCache {
			return rediscache.New(mr.Addr())
		},
		newActiveStore: func(cfg *config.Config) tracking.StateStore {
			return rediscache.NewActiveStore(mr.Addr(), deviceID(cfg))
		},
		newRateLimiter: func(cfg *config.Config) activation.RateLimiter {
			return rediscache.NewRateLimiter(mr.Addr())
		},
		newPublisher: func(cfg *config.Config) tracking.GeofencePublisher { return nopPublisher{} },
		newConsumer:  func(cfg *config.Config) orders.Consumer { return idleConsumer{} },
		newRemote: func(cfg *config.Config, tokens httpapi.TokenSource) remote.Client {
			return backend
		},
		newWatchers: defaultAgentFactories().newWatchers,
	}
}

func swaggerFile(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "swagger.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"swagger":"2.0"}`), 0o600))
	return p
}

func qrFor(t *testing.T, o models.Order, secret string) string {
	t.Helper()
	p := models.QRPayload{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		Timestamp:   time.Now().Add(-time.Minute).UnixMilli(),
		TenantID:    o.TenantID,
	}
	p.Signature = qrcode.Sign(p, []byte(secret))
	raw, err := qrcode.Encode(p)
	require.NoError(t, err)
	return raw
}

func post(t *testing.T, url, token string, body any) (int, map[string]any) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestRunTrackAgent_ActivateTrackAndUpdate(t *testing.T) {
	o := testOrder()
	st := &memStore{orders: map[string]models.Order{o.ID: o}}
	backend := fake.New()
	backend.Put(o)

	cfg := testConfig()
	addrCh := make(chan string, 1)
	opts := agentHTTPOpts{swaggerPath: swaggerFile(t), onListen: func(a string) { addrCh <- a }}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunTrackAgent(ctx, cfg, testFactories(t, st, backend), opts) }()

	var base string
	select {
	case a := <-addrCh:
		base = "http://" + a
	case <-time.After(5 * time.Second):
		t.Fatal("agent http server did not start")
	}

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	preflight, err := http.NewRequest(http.MethodOptions, base+"/v1/activations", nil)
	require.NoError(t, err)
	preflight.Header.Set("Origin", "http://dispatch.local")
	preflight.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err = http.DefaultClient.Do(preflight)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	tok, _, err := auth.NewSigner([]byte(cfg.LoadTrack.JWTSecret), time.Hour).Issue(auth.Claims{DriverID: "d1"})
	require.NoError(t, err)

	code, body := post(t, base+"/v1/activations", tok, map[string]any{
		"qr_code_data": qrFor(t, o, cfg.LoadTrack.QRSecret),
		"device_info":  map[string]any{"platform": "android", "app_version": "3.1"},
	})
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, true, body["tracking_started"])
	require.Equal(t, 1, backend.ActivateCalls)

	code, body = post(t, base+"/v1/tracking/samples", tok, map[string]any{
		"order_id": o.ID,
		"samples":  []map[string]any{{"lat": 55.7501, "lon": 37.6101}},
	})
	require.Equal(t, http.StatusOK, code, body)

	code, body = post(t, base+"/v1/orders/"+o.ID+"/status", tok, map[string]any{"status": "in_progress"})
	require.Equal(t, http.StatusOK, code, body)

	got, samples := st.snapshot()
	require.Equal(t, models.OrderStatusInProgress, got.Status)
	require.NotNil(t, got.ActualStartTime)
	require.Equal(t, 1, samples)

	code, body = post(t, base+"/v1/orders/"+o.ID+"/status", tok, map[string]any{"status": "in_progress"})
	require.Equal(t, http.StatusConflict, code, body)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop")
	}
}

func TestRunTrackAgent_StorageError(t *testing.T) {
	f := defaultAgentFactories()
	f.newStorage = func(cfg *config.Config) (agentStore, func(), error) {
		return nil, nil, errors.New("db down")
	}
	err := RunTrackAgent(context.Background(), testConfig(), f, agentHTTPOpts{})
	require.EqualError(t, err, "db down")
}

func TestBuildAgentApp_RequiresSecrets(t *testing.T) {
	cfg := testConfig()
	cfg.LoadTrack.JWTSecret = ""
	st := &memStore{orders: map[string]models.Order{}}
	_, err := buildAgentApp(cfg, st, testFactories(t, st, fake.New()))
	require.Error(t, err)
}

func TestDefaultAgentFactories_SelectRemote(t *testing.T) {
	f := defaultAgentFactories()

	_, ok := f.newRemote(&config.Config{}, nil).(*fake.Client)
	require.True(t, ok)

	cfg := &config.Config{LoadTrack: config.LoadTrackConfig{BackendBaseURL: "http://backend:9000"}}
	_, ok = f.newRemote(cfg, nil).(*httpapi.Client)
	require.True(t, ok)
}

func TestDefaultAgentFactories_SelectWatchers(t *testing.T) {
	f := defaultAgentFactories()
	hub := wsfeed.NewHub()

	fg, bg, err := f.newWatchers(&config.Config{}, hub)
	require.NoError(t, err)
	require.Equal(t, positions.Watcher(hub), fg)
	require.Nil(t, bg)

	cfg := &config.Config{LoadTrack: config.LoadTrackConfig{
		PositionSource:    "ws",
		PositionFeedURL:   "ws://gps:7000/feed",
		BackgroundFeedURL: "ws://gps:7000/background",
	}}
	fg, bg, err = f.newWatchers(cfg, hub)
	require.NoError(t, err)
	_, ok := fg.(*wsfeed.Client)
	require.True(t, ok)
	_, ok = bg.(*wsfeed.Client)
	require.True(t, ok)

	_, _, err = f.newWatchers(&config.Config{LoadTrack: config.LoadTrackConfig{PositionSource: "ws"}}, hub)
	require.Error(t, err)

	_, _, err = f.newWatchers(&config.Config{LoadTrack: config.LoadTrackConfig{PositionSource: "gps-chip"}}, hub)
	require.Error(t, err)

	_, _, err = f.newWatchers(&config.Config{LoadTrack: config.LoadTrackConfig{
		PositionSource: "replay", PositionReplayFile: filepath.Join(t.TempDir(), "missing.jsonl"),
	}}, hub)
	require.Error(t, err)
}

func TestDefaultAgentFactories_NonNil(t *testing.T) {
	f := defaultAgentFactories()
	cfg := &config.Config{
		Kafka: config.KafkaConfig{Host: "localhost", Port: 9092},
		Redis: config.RedisConfig{Host: "localhost", Port: 6379},
	}
	require.NotNil(t, f.newCache(cfg))
	require.NotNil(t, f.newActiveStore(cfg))
	require.NotNil(t, f.newRateLimiter(cfg))
	require.NotNil(t, f.newPublisher(cfg))
}

func TestSettingsFrom_Defaults(t *testing.T) {
	s := settingsFrom(&config.Config{})
	require.Equal(t, ":8080", s.httpAddr)
	require.Equal(t, 10*time.Minute, s.cacheTTL)
	require.Equal(t, qrcode.DefaultTTL, s.qrTTL)
	require.Equal(t, positions.DefaultInterval, s.interval)
	require.Equal(t, positions.DefaultMinDistanceMeters, s.minDistance)
	require.Equal(t, time.Second, s.flushStep)
}
