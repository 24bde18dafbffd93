package core

import (
	"errors"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/coverage-simulator/model"
)

var (
	// ErrEphemerisUnavailable marks transient provider failures: the query
	// may succeed on a later tick. Work depending on it is deferred.
	ErrEphemerisUnavailable = errors.New("ephemeris unavailable")
	// ErrUnknownPlatform is returned by providers for platforms they do not
	// track, always alongside ErrEphemerisUnavailable.
	ErrUnknownPlatform = errors.New("unknown platform")
	// ErrInvalidInstrument rejects instrument properties at registration.
	ErrInvalidInstrument = model.ErrInvalidInstrument
	// ErrEmptyPlatformID rejects registrations without a platform key.
	ErrEmptyPlatformID = errors.New("empty platform ID")
	// ErrInvalidGridSize rejects non-positive grid dimensions.
	ErrInvalidGridSize = errors.New("invalid grid size")
)

// EphemerisProvider answers the position, rotation and terrain queries the
// coverage engine needs. Latitudes and longitudes are in radians, distances
// in metres. "World" vectors are body-centred in a non-rotating frame.
type EphemerisProvider interface {
	// BodyOrientation returns the body-fixed to world rotation at t.
	BodyOrientation(t time.Time) (Orientation, error)
	// TerrainAltitude returns the terrain height above the reference radius;
	// exactly 0 denotes ocean.
	TerrainAltitude(lat, lon float64) (float64, error)
	// SurfaceToWorld returns the world position of a surface point at t.
	SurfaceToWorld(lat, lon, alt float64, t time.Time) (r3.Vec, error)
	// WorldToLatLon is the inverse of SurfaceToWorld.
	WorldToLatLon(p r3.Vec, t time.Time) (lat, lon, alt float64, err error)
	// PlatformState returns the world position and velocity of a platform
	// relative to the body, whatever its parent chain.
	PlatformState(id string, t time.Time) (pos, vel r3.Vec, err error)
	// SunPosition returns the world position of the sun relative to the body.
	SunPosition(t time.Time) (r3.Vec, error)
}

// RotationPeriodProvider is implemented by providers that know the sidereal
// rotation period of the body. The engine uses it to flag catch-up gaps that
// make orientation interpolation ambiguous.
type RotationPeriodProvider interface {
	RotationPeriod() time.Duration
}
