package relay

import (
	"math/rand"
	"time"
)

type Rand interface {
	Intn(n int) int
}

type PlannerConfig struct {
	IdleDelay time.Duration // default: 2 seconds

	Backoff1 time.Duration // default: 1 second
	Backoff2 time.Duration // default: 5 seconds
	Backoff3 time.Duration // default: 15 seconds
	Backoff4 time.Duration // default: 30 seconds

	// Jitter добавляется к паузе после ошибки, чтобы реплики не били в Kafka синхронно.
	Jitter time.Duration // default: 500ms
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		IdleDelay: 2 * time.Second,
		Backoff1:  1 * time.Second,
		Backoff2:  5 * time.Second,
		Backoff3:  15 * time.Second,
		Backoff4:  30 * time.Second,
		Jitter:    500 * time.Millisecond,
	}
}

type Planner struct {
	cfg PlannerConfig
	r   Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = def.IdleDelay
	}
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

// NextDelay returns the pause before the next cycle. failures is the number of
// consecutive failed cycles.
func (p *Planner) NextDelay(failures int) time.Duration {
	if failures <= 0 {
		return p.cfg.IdleDelay
	}
	return p.BackoffDelay(failures) + p.jitter()
}

func (p *Planner) BackoffDelay(failures int) time.Duration {
	switch {
	case failures <= 1:
		return p.cfg.Backoff1
	case failures == 2:
		return p.cfg.Backoff2
	case failures == 3:
		return p.cfg.Backoff3
	default:
		return p.cfg.Backoff4
	}
}

func (p *Planner) jitter() time.Duration {
	ms := int(p.cfg.Jitter / time.Millisecond)
	if ms <= 0 {
		return 0
	}
	return time.Duration(p.r.Intn(ms+1)) * time.Millisecond
}
