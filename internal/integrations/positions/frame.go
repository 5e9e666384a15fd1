package positions

import (
	"time"

	"github.com/BearBump/LoadTrack/internal/geo"
	"github.com/pkg/errors"
)

// Frame is the JSON shape devices send for one position.
type Frame struct {
	Lat            float64   `json:"lat"`
	Lon            float64   `json:"lon"`
	AccuracyMeters *float64  `json:"accuracy_meters,omitempty"`
	SpeedKmh       *float64  `json:"speed_kmh,omitempty"`
	Heading        *float64  `json:"heading,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

func (f Frame) Fix() (Fix, error) {
	p, err := geo.NewPoint(f.Lat, f.Lon)
	if err != nil {
		return Fix{}, err
	}
	if f.Timestamp.IsZero() {
		return Fix{}, errors.New("frame timestamp is missing")
	}
	return Fix{
		Point:          p,
		AccuracyMeters: f.AccuracyMeters,
		SpeedKmh:       f.SpeedKmh,
		Heading:        f.Heading,
		Timestamp:      f.Timestamp.UTC(),
	}, nil
}

func FrameOf(fix Fix) Frame {
	return Frame{
		Lat:            fix.Point.Lat,
		Lon:            fix.Point.Lon,
		AccuracyMeters: fix.AccuracyMeters,
		SpeedKmh:       fix.SpeedKmh,
		Heading:        fix.Heading,
		Timestamp:      fix.Timestamp,
	}
}
