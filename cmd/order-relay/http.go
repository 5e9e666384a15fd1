package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/LoadTrack/config"
	"github.com/BearBump/LoadTrack/internal/services/relay"
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
)

// после трёх неудачных циклов подряд пауза уже 15s+, реплику лучше вывести из балансировки
const readyFailureLimit = 3

type relayHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	// staleAfter: сколько можно не делать ни одного цикла, прежде чем /readyz ответит 503
	staleAfter time.Duration
	now        func() time.Time

	relay *relay.Relay
	cfg   *config.Config
}

type relayServer struct {
	relay      *relay.Relay
	cfg        *config.Config
	staleAfter time.Duration
	now        func() time.Time
}

type readiness struct {
	Status              string    `json:"status"`
	Reason              string    `json:"reason,omitempty"`
	CursorTxID          int64     `json:"cursorTxid"`
	CursorID            string    `json:"cursorId,omitempty"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastCycleAgeSeconds float64   `json:"lastCycleAgeSeconds"`
	LagSeconds          *float64  `json:"lagSeconds,omitempty"`
	CheckedAt           time.Time `json:"checkedAt"`
}

// ready: цикл не падает подряд и выполнялся недавно. lagSeconds показывает, насколько
// опубликованное отстаёт от часов.
func (s *relayServer) ready() (readiness, bool) {
	now := s.now().UTC()
	st := s.relay.Stats()

	last := st.StartedAt
	if st.LastCycleAt != nil {
		last = *st.LastCycleAt
	}
	out := readiness{
		Status:              "ready",
		CursorTxID:          st.Cursor.TxID,
		CursorID:            st.Cursor.ID,
		ConsecutiveFailures: st.Failures,
		LastCycleAgeSeconds: now.Sub(last).Seconds(),
		CheckedAt:           now,
	}
	if st.LastChangeAt != nil {
		lag := now.Sub(*st.LastChangeAt).Seconds()
		out.LagSeconds = &lag
	}

	switch {
	case st.Failures >= readyFailureLimit:
		out.Status, out.Reason = "not_ready", fmt.Sprintf("%d consecutive failed cycles: %s", st.Failures, st.LastError)
	case s.staleAfter > 0 && now.Sub(last) > s.staleAfter:
		out.Status, out.Reason = "not_ready", fmt.Sprintf("no cycle for %s", now.Sub(last).Truncate(time.Second))
	}
	return out, out.Status == "ready"
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *relayServer) handleReady(w http.ResponseWriter, r *http.Request) {
	out, ok := s.ready()
	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, out)
}

func (s *relayServer) handleCursor(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.relay.Cursor())
}

func (s *relayServer) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.relay.Stats())
}

func (s *relayServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	// без секретов, только параметры релея
	writeJSON(w, http.StatusOK, map[string]any{
		"pollIntervalSeconds": s.cfg.LoadTrack.RelayPollIntervalSeconds,
		"batchSize":           s.cfg.LoadTrack.RelayBatchSize,
		"brokers":             s.cfg.KafkaBrokers(),
		"staleAfterSeconds":   s.staleAfter.Seconds(),
	})
}

// handleTrigger будит релей без ожидания poll-интервала; сам цикл идёт асинхронно.
func (s *relayServer) handleTrigger(w http.ResponseWriter, r *http.Request) {
	s.relay.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]any{"triggered": true, "cursor": s.relay.Cursor()})
}

func (s *relayServer) routes(swaggerPath string) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", s.handleReady)
	r.Get("/cursor", s.handleCursor)
	r.Get("/stats", s.handleStats)
	r.Get("/config", s.handleConfig)
	r.Post("/trigger", s.handleTrigger)

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, swaggerPath)
	})
	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
	return r
}

func runRelayHTTPServer(ctx context.Context, opts relayHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}
	if opts.swaggerPath == "" {
		return fmt.Errorf("relay swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("relay swagger file not found: %s", opts.swaggerPath)
	}
	if opts.relay == nil || opts.cfg == nil {
		return fmt.Errorf("relay http server needs a relay and config")
	}
	if opts.now == nil {
		opts.now = time.Now
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	s := &relayServer{relay: opts.relay, cfg: opts.cfg, staleAfter: opts.staleAfter, now: opts.now}
	srv := &http.Server{Handler: s.routes(opts.swaggerPath)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	return srv.Serve(lis)
}
