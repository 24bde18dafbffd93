package core

import (
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// fakeEphemeris is a spherical body with scripted answers. By default it
// does not rotate, has no terrain and the sun sits far along +X.
type fakeEphemeris struct {
	mu sync.Mutex

	radius float64
	epoch  time.Time
	// spin is the rotation rate about +Z in rad/s.
	spin   float64
	period time.Duration

	terrain   func(lat, lon float64) float64
	sun       func(t time.Time) (r3.Vec, error)
	platforms map[string]func(t time.Time) (r3.Vec, r3.Vec)

	orientationErr error
	terrainCalls   int
}

func newFakeEphemeris(epoch time.Time) *fakeEphemeris {
	return &fakeEphemeris{
		radius: EarthRadius,
		epoch:  epoch,
		sun: func(time.Time) (r3.Vec, error) {
			return r3.Vec{X: AstronomicalUnit}, nil
		},
		platforms: make(map[string]func(time.Time) (r3.Vec, r3.Vec)),
	}
}

func (f *fakeEphemeris) setPlatform(id string, fn func(t time.Time) (r3.Vec, r3.Vec)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.platforms[id] = fn
}

func (f *fakeEphemeris) setOrientationErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orientationErr = err
}

func (f *fakeEphemeris) setSun(fn func(t time.Time) (r3.Vec, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sun = fn
}

func (f *fakeEphemeris) BodyOrientation(t time.Time) (Orientation, error) {
	f.mu.Lock()
	err := f.orientationErr
	f.mu.Unlock()
	if err != nil {
		return Orientation{}, err
	}
	return NewOrientation(f.spin*t.Sub(f.epoch).Seconds(), r3.Vec{Z: 1}), nil
}

func (f *fakeEphemeris) TerrainAltitude(lat, lon float64) (float64, error) {
	f.mu.Lock()
	f.terrainCalls++
	terrain := f.terrain
	f.mu.Unlock()
	if terrain == nil {
		return 0, nil
	}
	return terrain(lat, lon), nil
}

func (f *fakeEphemeris) SurfaceToWorld(lat, lon, alt float64, t time.Time) (r3.Vec, error) {
	o, err := f.BodyOrientation(t)
	if err != nil {
		return r3.Vec{}, err
	}
	return o.Rotate(spherical(f.radius+alt, lat, lon)), nil
}

func (f *fakeEphemeris) WorldToLatLon(p r3.Vec, t time.Time) (float64, float64, float64, error) {
	o, err := f.BodyOrientation(t)
	if err != nil {
		return 0, 0, 0, err
	}
	b := o.Inverse().Rotate(p)
	r := r3.Norm(b)
	return math.Asin(b.Z / r), math.Atan2(b.Y, b.X), r - f.radius, nil
}

func (f *fakeEphemeris) PlatformState(id string, t time.Time) (r3.Vec, r3.Vec, error) {
	f.mu.Lock()
	fn, ok := f.platforms[id]
	f.mu.Unlock()
	if !ok {
		return r3.Vec{}, r3.Vec{}, fmt.Errorf("%w: %w: %q", ErrEphemerisUnavailable, ErrUnknownPlatform, id)
	}
	pos, vel := fn(t)
	return pos, vel, nil
}

func (f *fakeEphemeris) SunPosition(t time.Time) (r3.Vec, error) {
	f.mu.Lock()
	sun := f.sun
	f.mu.Unlock()
	return sun(t)
}

// rotatingFake adds a rotation period so the engine can flag long gaps.
type rotatingFake struct {
	*fakeEphemeris
}

func (r rotatingFake) RotationPeriod() time.Duration { return r.period }

func spherical(r, lat, lon float64) r3.Vec {
	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)
	return r3.Vec{X: r * cosLat * cosLon, Y: r * cosLat * sinLon, Z: r * sinLat}
}

// fixedPlatform hovers above a body-fixed point of a non-rotating fake,
// moving along +Y.
func fixedPlatform(radius, alt, lat, lon float64) func(time.Time) (r3.Vec, r3.Vec) {
	pos := spherical(radius+alt, lat, lon)
	return func(time.Time) (r3.Vec, r3.Vec) {
		return pos, r3.Vec{Y: 7600}
	}
}

// equatorialOrbit circles the equator of a non-rotating fake once per
// period, starting over longitude 0 at epoch.
func equatorialOrbit(epoch time.Time, radius, alt float64, period time.Duration) func(time.Time) (r3.Vec, r3.Vec) {
	r := radius + alt
	w := 2 * math.Pi / period.Seconds()
	return func(t time.Time) (r3.Vec, r3.Vec) {
		a := w * t.Sub(epoch).Seconds()
		s, c := math.Sincos(a)
		return r3.Vec{X: r * c, Y: r * s}, r3.Vec{X: -r * w * s, Y: r * w * c}
	}
}

// recordingMetrics captures MetricsRecorder calls.
type recordingMetrics struct {
	mu        sync.Mutex
	steps     int
	updates   int
	deferred  map[string]int
	gap       float64
	active    int
	fractions []float64
	mapCells  int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{deferred: make(map[string]int)}
}

func (m *recordingMetrics) ObserveUpdate(_ time.Duration, steps int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	m.steps += steps
}

func (m *recordingMetrics) IncDeferred(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deferred[reason]++
}

func (m *recordingMetrics) SetIntegrationGap(seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gap = seconds
}

func (m *recordingMetrics) SetActiveImagers(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = n
}

func (m *recordingMetrics) SetCoverage(_ string, _, fractions []float64, mapCells int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fractions = fractions
	m.mapCells = mapCells
}

func (m *recordingMetrics) deferredCount(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deferred[reason]
}
