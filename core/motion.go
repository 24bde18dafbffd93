package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/coverage-simulator/model"
)

// ErrInvalidTLE rejects two-line element sets that cannot be propagated.
var ErrInvalidTLE = errors.New("invalid TLE")

const kmToM = 1000.0

// MotionModel returns a platform's world-frame state for a given time.
type MotionModel interface {
	StateAt(t time.Time) (pos, vel r3.Vec, err error)
}

// StaticMotionModel pins a platform to a body-fixed position, e.g. a
// geostationary imager. Its world state follows the body's rotation.
type StaticMotionModel struct {
	Position r3.Vec
	// Rotation returns the body-fixed to world rotation; nil is the identity.
	Rotation func(time.Time) (Orientation, error)
	// AngularVelocity is the body's spin vector in the world frame.
	AngularVelocity r3.Vec
}

// StateAt rotates the fixed position into the world frame; the velocity is
// the co-rotation velocity ω × r.
func (m *StaticMotionModel) StateAt(t time.Time) (r3.Vec, r3.Vec, error) {
	o := IdentityOrientation()
	if m.Rotation != nil {
		var err error
		if o, err = m.Rotation(t); err != nil {
			return r3.Vec{}, r3.Vec{}, err
		}
	}
	pos := o.Rotate(m.Position)
	return pos, r3.Cross(m.AngularVelocity, pos), nil
}

// OrbitalSGP4MotionModel uses a TLE and SGP4 to propagate a platform.
type OrbitalSGP4MotionModel struct {
	sat satellite.Satellite
}

// NewOrbitalModelFromTLE constructs an orbital model from TLE lines.
func NewOrbitalModelFromTLE(line1, line2 string) (m *OrbitalSGP4MotionModel, err error) {
	line1, line2 = strings.TrimSpace(line1), strings.TrimSpace(line2)
	if len(line1) < 69 || len(line2) < 69 || !strings.HasPrefix(line1, "1 ") || !strings.HasPrefix(line2, "2 ") {
		return nil, fmt.Errorf("%w: malformed element lines", ErrInvalidTLE)
	}
	defer func() {
		if r := recover(); r != nil {
			m, err = nil, fmt.Errorf("%w: %v", ErrInvalidTLE, r)
		}
	}()
	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	return &OrbitalSGP4MotionModel{sat: sat}, nil
}

// StateAt propagates the satellite to t. SGP4 works in kilometres in the
// TEME frame; the result is returned in metres and treated as the world
// frame.
func (m *OrbitalSGP4MotionModel) StateAt(t time.Time) (r3.Vec, r3.Vec, error) {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	pos, vel := satellite.Propagate(m.sat, year, int(month), day, hour, min, sec)
	p := r3.Scale(kmToM, r3.Vec{X: pos.X, Y: pos.Y, Z: pos.Z})
	v := r3.Scale(kmToM, r3.Vec{X: vel.X, Y: vel.Y, Z: vel.Z})
	if !finite(p) || !finite(v) || r3.Norm(p) == 0 {
		return r3.Vec{}, r3.Vec{}, fmt.Errorf("%w: propagation failed at %s", ErrEphemerisUnavailable, t.Format(time.RFC3339))
	}
	return p, v, nil
}

// NewMotionModel chooses a MotionModel for the platform. Spacetrack
// platforms need both TLE lines; everything else is static at Coordinates.
func NewMotionModel(p *model.PlatformDefinition, rotation func(time.Time) (Orientation, error), spin r3.Vec) (MotionModel, error) {
	switch p.MotionSource {
	case model.MotionSourceSpacetrack:
		if p.TLE1 == "" || p.TLE2 == "" {
			return nil, fmt.Errorf("%w: platform %q has no TLE", ErrInvalidTLE, p.ID)
		}
		return NewOrbitalModelFromTLE(p.TLE1, p.TLE2)
	default:
		return &StaticMotionModel{
			Position:        r3.Vec{X: p.Coordinates.X, Y: p.Coordinates.Y, Z: p.Coordinates.Z},
			Rotation:        rotation,
			AngularVelocity: spin,
		}, nil
	}
}

func finite(v r3.Vec) bool {
	for _, c := range [...]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}
