package core

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Orientation is a rotation from the body-fixed frame to the world frame,
// stored as a unit quaternion. The zero Orientation is the identity.
type Orientation struct {
	q quat.Number
}

// IdentityOrientation returns the rotation that leaves every vector unchanged.
func IdentityOrientation() Orientation {
	return Orientation{q: quat.Number{Real: 1}}
}

// NewOrientation returns the rotation by angle radians about axis
// (right-handed). A zero axis yields the identity.
func NewOrientation(angle float64, axis r3.Vec) Orientation {
	n := r3.Norm(axis)
	if n == 0 {
		return IdentityOrientation()
	}
	s, c := math.Sincos(angle / 2)
	return Orientation{q: quat.Number{
		Real: c,
		Imag: s * axis.X / n,
		Jmag: s * axis.Y / n,
		Kmag: s * axis.Z / n,
	}}
}

// OrientationFromQuat normalises q into an Orientation.
func OrientationFromQuat(q quat.Number) Orientation {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return IdentityOrientation()
	}
	return Orientation{q: quat.Scale(1/n, q)}
}

// Quat returns the unit quaternion of the rotation.
func (o Orientation) Quat() quat.Number {
	return o.unit()
}

func (o Orientation) unit() quat.Number {
	if o.q == (quat.Number{}) {
		return quat.Number{Real: 1}
	}
	return o.q
}

// Rotate applies the rotation to v.
func (o Orientation) Rotate(v r3.Vec) r3.Vec {
	q := o.unit()
	p := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vec{X: p.Imag, Y: p.Jmag, Z: p.Kmag}
}

// Inverse returns the opposite rotation (world to body-fixed when o is
// body-fixed to world).
func (o Orientation) Inverse() Orientation {
	return Orientation{q: quat.Conj(o.unit())}
}

// Slerp interpolates along the shortest arc between a (u=0) and b (u=1).
func Slerp(a, b Orientation, u float64) Orientation {
	qa, qb := a.unit(), b.unit()
	switch {
	case u <= 0 || qa == qb:
		return Orientation{q: qa}
	case u >= 1:
		return Orientation{q: qb}
	}
	cos := qa.Real*qb.Real + qa.Imag*qb.Imag + qa.Jmag*qb.Jmag + qa.Kmag*qb.Kmag
	if cos < 0 {
		qb = quat.Scale(-1, qb)
		cos = -cos
	}
	if cos > 0.9995 {
		// Nearly parallel: normalised lerp avoids dividing by sin(Ω) ≈ 0.
		return OrientationFromQuat(quat.Add(quat.Scale(1-u, qa), quat.Scale(u, qb)))
	}
	omega := math.Acos(cos)
	sin := math.Sin(omega)
	wa := math.Sin((1-u)*omega) / sin
	wb := math.Sin(u*omega) / sin
	return OrientationFromQuat(quat.Add(quat.Scale(wa, qa), quat.Scale(wb, qb)))
}

// SurfacePoint is a grid cell location in the body-fixed frame.
type SurfacePoint struct {
	// Position is body-centred, in metres.
	Position r3.Vec
	// Vertical is the unit vector along Position.
	Vertical r3.Vec
}

// NewSurfacePoint derives the local vertical from a body-centred position.
func NewSurfacePoint(position r3.Vec) SurfacePoint {
	p := SurfacePoint{Position: position}
	if n := r3.Norm(position); n > 0 {
		p.Vertical = r3.Scale(1/n, position)
	}
	return p
}

// SunSurfaceGeometry is the illumination of one surface point at one instant.
type SunSurfaceGeometry struct {
	CosSolarZenith float64
	// ReflectedRay is the mirror image of the sun direction about the vertical.
	ReflectedRay r3.Vec
}

// SunGeometryFromDirection treats the sun as infinitely distant.
func SunGeometryFromDirection(p SurfacePoint, sunDirection r3.Vec) SunSurfaceGeometry {
	cos := r3.Dot(p.Vertical, sunDirection)
	return SunSurfaceGeometry{
		CosSolarZenith: cos,
		ReflectedRay:   r3.Add(r3.Scale(-1, sunDirection), r3.Scale(2*cos, p.Vertical)),
	}
}

// SunGeometryFromPosition accounts for solar parallax using the body-centred
// sun position.
func SunGeometryFromPosition(p SurfacePoint, sunPosition r3.Vec) SunSurfaceGeometry {
	toSun := r3.Sub(sunPosition, p.Position)
	n := r3.Norm(toSun)
	if n == 0 {
		return SunSurfaceGeometry{}
	}
	return SunGeometryFromDirection(p, r3.Scale(1/n, toSun))
}

// SurfaceSatelliteGeometry relates one surface point to one platform.
type SurfaceSatelliteGeometry struct {
	Range float64
	// CosZenith is positive iff the platform is above the local horizon.
	CosZenith float64
	// AbsSinSwathAngle is |sin| of the angle between the satellite direction
	// and the swath plane.
	AbsSinSwathAngle float64
	// Direction is the unit vector from the surface point to the platform.
	Direction r3.Vec
}

// NewSurfaceSatelliteGeometry computes the geometry of a platform at
// satellite (body-fixed, body-centred) as seen from p. swathNormal is the
// unit normal of the swath plane; it only matters for pushbroom instruments.
// A platform located at the surface point itself is reported below the
// horizon so that no NaN escapes.
func NewSurfaceSatelliteGeometry(satellite, swathNormal r3.Vec, p SurfacePoint) SurfaceSatelliteGeometry {
	toSat := r3.Sub(satellite, p.Position)
	rng := r3.Norm(toSat)
	if rng == 0 || math.IsNaN(rng) {
		return SurfaceSatelliteGeometry{}
	}
	dir := r3.Scale(1/rng, toSat)
	return SurfaceSatelliteGeometry{
		Range:            rng,
		CosZenith:        r3.Dot(dir, p.Vertical),
		AbsSinSwathAngle: math.Abs(r3.Dot(dir, swathNormal)),
		Direction:        dir,
	}
}

// AboveHorizon is the cheap visibility pre-test: it ignores instruments and
// only checks that the platform is above the local horizon of p.
func AboveHorizon(satellite r3.Vec, p SurfacePoint) bool {
	return r3.Dot(r3.Sub(satellite, p.Position), p.Vertical) > 0
}

// unitOrZero returns the unit vector along v, or the zero vector.
func unitOrZero(v r3.Vec) r3.Vec {
	n := r3.Norm(v)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return r3.Vec{}
	}
	return r3.Scale(1/n, v)
}
