package core

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/coverage-simulator/model"
)

const (
	// EarthRadius is the mean spherical radius in metres.
	EarthRadius = 6371e3
	// AstronomicalUnit in metres.
	AstronomicalUnit = 1.495978707e11
	// SiderealDay is Earth's rotation period.
	SiderealDay = 86164.0905 * float64(time.Second)
)

// ErrPlatformExists is returned when adding a platform ID twice.
var ErrPlatformExists = errors.New("platform already exists")

// TerrainFunc returns the terrain height in metres above the reference
// sphere; 0 is ocean.
type TerrainFunc func(lat, lon float64) (float64, error)

// EarthEphemeris is a spherical, uniformly rotating Earth. Rotation follows
// Greenwich mean sidereal time, the sun follows the USNO low-precision
// solar coordinates and platforms follow their motion models. The world
// frame is geocentric equatorial (TEME for SGP4 platforms).
type EarthEphemeris struct {
	radius  float64
	terrain TerrainFunc

	mu        sync.RWMutex
	platforms map[string]MotionModel
}

// EarthOption configures an EarthEphemeris.
type EarthOption func(*EarthEphemeris)

// WithTerrain installs a terrain model. Without one every point is ocean.
func WithTerrain(fn TerrainFunc) EarthOption {
	return func(e *EarthEphemeris) {
		e.terrain = fn
	}
}

// WithRadius overrides the reference radius.
func WithRadius(r float64) EarthOption {
	return func(e *EarthEphemeris) {
		if r > 0 {
			e.radius = r
		}
	}
}

// NewEarthEphemeris returns an Earth with no platforms.
func NewEarthEphemeris(opts ...EarthOption) *EarthEphemeris {
	e := &EarthEphemeris{
		radius:    EarthRadius,
		platforms: make(map[string]MotionModel),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddPlatform builds a motion model for p and tracks it under p.ID.
func (e *EarthEphemeris) AddPlatform(p *model.PlatformDefinition) error {
	if p == nil || p.ID == "" {
		return ErrEmptyPlatformID
	}
	m, err := NewMotionModel(p, e.BodyOrientation, e.spin())
	if err != nil {
		return fmt.Errorf("platform %q: %w", p.ID, err)
	}
	return e.AddMotionModel(p.ID, m)
}

// AddMotionModel tracks an existing motion model under id.
func (e *EarthEphemeris) AddMotionModel(id string, m MotionModel) error {
	if id == "" {
		return ErrEmptyPlatformID
	}
	if m == nil {
		return fmt.Errorf("platform %q: nil motion model", id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.platforms[id]; ok {
		return fmt.Errorf("%w: %q", ErrPlatformExists, id)
	}
	e.platforms[id] = m
	return nil
}

// RemovePlatform stops tracking id. Unknown IDs are ignored.
func (e *EarthEphemeris) RemovePlatform(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.platforms, id)
}

// Platforms returns the tracked platform IDs in sorted order.
func (e *EarthEphemeris) Platforms() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.platforms))
	for id := range e.platforms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Radius returns the reference radius in metres.
func (e *EarthEphemeris) Radius() float64 { return e.radius }

// RotationPeriod returns the sidereal day.
func (e *EarthEphemeris) RotationPeriod() time.Duration {
	return time.Duration(SiderealDay)
}

func (e *EarthEphemeris) spin() r3.Vec {
	return r3.Vec{Z: 2 * math.Pi / time.Duration(SiderealDay).Seconds()}
}

// BodyOrientation rotates about the pole by the Greenwich mean sidereal angle.
func (e *EarthEphemeris) BodyOrientation(t time.Time) (Orientation, error) {
	gmst := satellite.ThetaG_JD(julianDate(t))
	if math.IsNaN(gmst) {
		return Orientation{}, fmt.Errorf("%w: sidereal time at %s", ErrEphemerisUnavailable, t.Format(time.RFC3339))
	}
	return NewOrientation(gmst, r3.Vec{Z: 1}), nil
}

// TerrainAltitude queries the terrain model, 0 when none is installed.
func (e *EarthEphemeris) TerrainAltitude(lat, lon float64) (float64, error) {
	if e.terrain == nil {
		return 0, nil
	}
	return e.terrain(lat, lon)
}

// SurfaceToWorld places a point on the sphere and rotates it into the world
// frame at t.
func (e *EarthEphemeris) SurfaceToWorld(lat, lon, alt float64, t time.Time) (r3.Vec, error) {
	o, err := e.BodyOrientation(t)
	if err != nil {
		return r3.Vec{}, err
	}
	r := e.radius + alt
	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)
	body := r3.Vec{X: r * cosLat * cosLon, Y: r * cosLat * sinLon, Z: r * sinLat}
	return o.Rotate(body), nil
}

// WorldToLatLon converts a world position at t back to latitude, longitude
// and height above the sphere.
func (e *EarthEphemeris) WorldToLatLon(p r3.Vec, t time.Time) (lat, lon, alt float64, err error) {
	o, err := e.BodyOrientation(t)
	if err != nil {
		return 0, 0, 0, err
	}
	body := o.Inverse().Rotate(p)
	r := r3.Norm(body)
	if r == 0 || !finite(body) {
		return 0, 0, 0, fmt.Errorf("%w: degenerate position %v", ErrEphemerisUnavailable, p)
	}
	return math.Asin(body.Z / r), math.Atan2(body.Y, body.X), r - e.radius, nil
}

// PlatformState returns the world state of a tracked platform.
func (e *EarthEphemeris) PlatformState(id string, t time.Time) (r3.Vec, r3.Vec, error) {
	e.mu.RLock()
	m, ok := e.platforms[id]
	e.mu.RUnlock()
	if !ok {
		return r3.Vec{}, r3.Vec{}, fmt.Errorf("%w: %w: %q", ErrEphemerisUnavailable, ErrUnknownPlatform, id)
	}
	pos, vel, err := m.StateAt(t)
	if err != nil {
		if !errors.Is(err, ErrEphemerisUnavailable) {
			err = fmt.Errorf("%w: platform %q: %w", ErrEphemerisUnavailable, id, err)
		}
		return r3.Vec{}, r3.Vec{}, err
	}
	return pos, vel, nil
}

// SunPosition returns the geocentric sun vector from the USNO approximate
// solar coordinates, accurate to about a minute of arc for 1950-2050.
func (e *EarthEphemeris) SunPosition(t time.Time) (r3.Vec, error) {
	d := julianDate(t) - 2451545.0
	g := 357.529 + 0.98560028*d
	q := 280.459 + 0.98564736*d
	sg, cg := math.Sincos(g * math.Pi / 180)
	sg2, cg2 := math.Sincos(2 * g * math.Pi / 180)

	l := q + 1.915*sg + 0.020*sg2
	r := (1.00014 - 0.01671*cg - 0.00014*cg2) * AstronomicalUnit
	obliquity := 23.439 - 0.00000036*d
	soe, coe := math.Sincos(obliquity * math.Pi / 180)

	sl, cl := math.Sincos(l * math.Pi / 180)
	sun := r3.Vec{X: r * cl, Y: r * sl * coe, Z: r * sl * soe}
	if !finite(sun) {
		return r3.Vec{}, fmt.Errorf("%w: sun position at %s", ErrEphemerisUnavailable, t.Format(time.RFC3339))
	}
	return sun, nil
}

// julianDate converts t to a Julian date (UTC as UT1).
func julianDate(t time.Time) float64 {
	return float64(t.Unix())/86400 + float64(t.Nanosecond())/86400e9 + 2440587.5
}
