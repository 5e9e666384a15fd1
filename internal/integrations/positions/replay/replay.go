// Package replay plays a recorded track back as a position source.
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/BearBump/LoadTrack/internal/integrations/positions"
	"github.com/pkg/errors"
)

type Watcher struct {
	fixes []positions.Fix
	step  time.Duration
	now   func() time.Time
}

// New replays fixes one per step. With a zero step fixes are emitted back to back.
// Timestamps are rewritten to the wall clock so the track looks live.
func New(fixes []positions.Fix, step time.Duration) *Watcher {
	return &Watcher{fixes: fixes, step: step, now: func() time.Time { return time.Now().UTC() }}
}

// LoadFile reads one JSON frame per line.
func LoadFile(path string) ([]positions.Fix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open replay file")
	}
	defer f.Close()

	var out []positions.Fix
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var fr positions.Frame
		if err := json.Unmarshal(sc.Bytes(), &fr); err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		fix, err := fr.Fix()
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		out = append(out, fix)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "scan replay file")
	}
	return out, nil
}

func (w *Watcher) Watch(ctx context.Context, opts positions.Options, emit positions.EmitFunc) (positions.Subscription, error) {
	if len(w.fixes) == 0 {
		return nil, errors.Wrap(positions.ErrUnavailable, "replay track is empty")
	}
	filter := positions.NewFilter(opts)

	return positions.Go(ctx, func(ctx context.Context) {
		var last time.Time
		for _, fix := range w.fixes {
			if w.step > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(w.step):
				}
			}
			ts := w.now()
			if !ts.After(last) {
				ts = last.Add(time.Millisecond)
			}
			last = ts
			fix.Timestamp = ts

			if !filter.Accept(fix) {
				continue
			}
			if !emit(fix) {
				return
			}
		}
	}), nil
}
