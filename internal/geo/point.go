package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// SRID of every point exchanged with the store (WGS 84).
const SRID = 4326

var ErrInvalidPoint = errors.New("invalid point")

// Point is a WGS 84 position. Its text (and JSON) form is EWKT.
type Point struct {
	Lat float64
	Lon float64
}

func NewPoint(lat, lon float64) (Point, error) {
	p := Point{Lat: lat, Lon: lon}
	if err := p.Validate(); err != nil {
		return Point{}, err
	}
	return p, nil
}

func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) {
		return errors.Wrap(ErrInvalidPoint, "NaN coordinate")
	}
	if p.Lat < -90 || p.Lat > 90 {
		return errors.Wrapf(ErrInvalidPoint, "latitude %v out of range", p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return errors.Wrapf(ErrInvalidPoint, "longitude %v out of range", p.Lon)
	}
	return nil
}

func (p Point) String() string {
	return FormatEWKT(p)
}

// FormatEWKT renders p as "SRID=4326;POINT(lon lat)". Coordinates use the shortest
// representation that parses back to the same float64.
func FormatEWKT(p Point) string {
	return fmt.Sprintf("SRID=%d;POINT(%s %s)", SRID,
		strconv.FormatFloat(p.Lon, 'f', -1, 64),
		strconv.FormatFloat(p.Lat, 'f', -1, 64))
}

// ParsePoint accepts "SRID=4326;POINT(lon lat)" and bare "POINT(lon lat)".
func ParsePoint(s string) (Point, error) {
	in := strings.TrimSpace(s)
	if head, rest, ok := strings.Cut(in, ";"); ok {
		srid, found := strings.CutPrefix(strings.ToUpper(strings.TrimSpace(head)), "SRID=")
		if !found {
			return Point{}, errors.Wrapf(ErrInvalidPoint, "bad srid prefix in %q", s)
		}
		n, err := strconv.Atoi(srid)
		if err != nil || n != SRID {
			return Point{}, errors.Wrapf(ErrInvalidPoint, "unsupported srid in %q", s)
		}
		in = strings.TrimSpace(rest)
	}

	body, found := strings.CutPrefix(strings.ToUpper(in), "POINT")
	if !found {
		return Point{}, errors.Wrapf(ErrInvalidPoint, "not a point: %q", s)
	}
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, "(") || !strings.HasSuffix(body, ")") {
		return Point{}, errors.Wrapf(ErrInvalidPoint, "missing parentheses: %q", s)
	}

	fields := strings.Fields(body[1 : len(body)-1])
	if len(fields) != 2 {
		return Point{}, errors.Wrapf(ErrInvalidPoint, "expected 2 coordinates: %q", s)
	}
	lon, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Point{}, errors.Wrapf(ErrInvalidPoint, "longitude: %v", err)
	}
	lat, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Point{}, errors.Wrapf(ErrInvalidPoint, "latitude: %v", err)
	}
	return NewPoint(lat, lon)
}

func (p Point) MarshalText() ([]byte, error) {
	return []byte(FormatEWKT(p)), nil
}

func (p *Point) UnmarshalText(b []byte) error {
	parsed, err := ParsePoint(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
