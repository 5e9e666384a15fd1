package replay

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/LoadTrack/internal/geo"
	"github.com/BearBump/LoadTrack/internal/integrations/positions"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "track.jsonl")
	data := `{"lat":55.75,"lon":37.61,"speed_kmh":42.5,"timestamp":"2026-03-01T10:00:00Z"}

{"lat":55.76,"lon":37.62,"timestamp":"2026-03-01T10:00:30Z"}
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	fixes, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, fixes, 2)
	require.Equal(t, geo.Point{Lat: 55.75, Lon: 37.61}, fixes[0].Point)
	require.Equal(t, 42.5, *fixes[0].SpeedKmh)
	require.Nil(t, fixes[1].SpeedKmh)
}

func TestLoadFile_BadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "track.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"lat":91,"lon":0,"timestamp":"2026-03-01T10:00:00Z"}`), 0o600))

	_, err := LoadFile(path)
	require.ErrorContains(t, err, "line 1")
}

func TestWatcher_EmitsFilteredFixes(t *testing.T) {
	fixes := []positions.Fix{
		{Point: geo.Point{Lat: 50, Lon: 30}},
		{Point: geo.Point{Lat: 50.00001, Lon: 30}},
		{Point: geo.Point{Lat: 50.01, Lon: 30}},
	}
	w := New(fixes, 0)

	var mu sync.Mutex
	var got []positions.Fix
	sub, err := w.Watch(context.Background(), positions.Options{Interval: time.Hour, MinDistanceMeters: 50}, func(f positions.Fix) bool {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, f)
		return true
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)
	sub.Stop()

	require.Equal(t, 50.01, got[1].Point.Lat)
	require.True(t, got[1].Timestamp.After(got[0].Timestamp))
}

func TestWatcher_StopInterruptsStep(t *testing.T) {
	w := New([]positions.Fix{{Point: geo.Point{Lat: 1, Lon: 1}}}, time.Hour)
	sub, err := w.Watch(context.Background(), positions.Options{}, func(positions.Fix) bool { return true })
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		sub.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestWatcher_EmptyTrack(t *testing.T) {
	_, err := New(nil, 0).Watch(context.Background(), positions.Options{}, func(positions.Fix) bool { return true })
	require.ErrorIs(t, err, positions.ErrUnavailable)
}
