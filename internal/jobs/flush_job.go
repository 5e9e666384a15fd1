package jobs

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/BearBump/LoadTrack/internal/services/tracking"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

// DefaultFlushSchedule раз в 15 секунд (cron с секундами).
const DefaultFlushSchedule = "*/15 * * * * *"

type Flusher interface {
	Buffered() int
	FlushNow(ctx context.Context) error
}

// FlushJob periodically drains samples the agent could not send while offline.
type FlushJob struct {
	agent    Flusher
	schedule string
	timeout  time.Duration
	cron     *cron.Cron

	runs     atomic.Int64
	failures atomic.Int64
}

func NewFlushJob(agent Flusher, schedule string) *FlushJob {
	if schedule == "" {
		schedule = DefaultFlushSchedule
	}
	return &FlushJob{
		agent:    agent,
		schedule: schedule,
		timeout:  30 * time.Second,
		cron:     cron.New(cron.WithSeconds()),
	}
}

func (j *FlushJob) Start() error {
	if _, err := j.cron.AddFunc(j.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		defer cancel()
		j.run(ctx)
	}); err != nil {
		return errors.Wrapf(err, "schedule flush job %q", j.schedule)
	}
	j.cron.Start()
	slog.Info("flush job started", "schedule", j.schedule)
	return nil
}

// Stop waits for a running flush to finish.
func (j *FlushJob) Stop() {
	<-j.cron.Stop().Done()
	slog.Info("flush job stopped")
}

func (j *FlushJob) run(ctx context.Context) {
	n := j.agent.Buffered()
	if n == 0 {
		return
	}
	j.runs.Add(1)
	if err := j.agent.FlushNow(ctx); err != nil {
		j.failures.Add(1)
		// оффлайн: ожидаемый сценарий, сэмплы остаются в буфере
		if errors.Is(err, tracking.ErrFlushFailed) {
			slog.Warn("scheduled flush failed, samples kept", "buffered", n, "err", err)
			return
		}
		slog.Error("scheduled flush failed", "err", err)
		return
	}
	slog.Info("scheduled flush done", "flushed", n)
}

type FlushJobStats struct {
	Runs     int64 `json:"runs"`
	Failures int64 `json:"failures"`
}

func (j *FlushJob) Stats() FlushJobStats {
	return FlushJobStats{Runs: j.runs.Load(), Failures: j.failures.Load()}
}
