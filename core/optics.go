package core

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/coverage-simulator/model"
)

// Empirical cut-offs. The illumination angles are tunable values chosen for
// gameplay and data-product realism, not derived constants.
const (
	// SwathHalfWidthSin is sin(5°), the tolerance around a pushbroom swath plane.
	SwathHalfWidthSin = 0.087155742747658174
	// GlintCos is cos(15°); closer alignment with the reflected ray is glint.
	GlintCos = 0.96592582628906829
	// SunlitCos is cos(75°); a solar zenith angle below 75° is daylight.
	SunlitCos = 0.25881904510252076
	// NightCos is cos(105°); a solar zenith angle above 105° is night.
	NightCos = -SunlitCos
)

// SubStatus selects which per-cell imaging history an observation updates.
type SubStatus int

const (
	StatusMidInfrared SubStatus = iota
	StatusNightVisNIR
	StatusGlintedVisNIR
	StatusUnglintedVisNIR

	numSubStatuses
)

func (s SubStatus) String() string {
	switch s {
	case StatusMidInfrared:
		return "mid_infrared"
	case StatusNightVisNIR:
		return "night_visnir"
	case StatusGlintedVisNIR:
		return "glinted_visnir"
	case StatusUnglintedVisNIR:
		return "unglinted_visnir"
	default:
		return "unknown"
	}
}

// DiffractionLimit returns 1.22·λ/D in radians.
func DiffractionLimit(band model.OpticalBand, aperture float64) float64 {
	return 1.22 * band.Wavelength() / aperture
}

// HorizontalResolution is the ground resolution in metres of inst at the
// given geometry; it coarsens toward the horizon. ok is false when the
// platform is not above the horizon, where the resolution is undefined.
func HorizontalResolution(inst model.InstrumentProperties, g SurfaceSatelliteGeometry) (res float64, ok bool) {
	if !(g.CosZenith > 0) {
		return 0, false
	}
	res = g.Range * DiffractionLimit(inst.Band, inst.Aperture) / g.CosZenith
	if math.IsNaN(res) || math.IsInf(res, 0) {
		return 0, false
	}
	return res, true
}

// Visible reports whether the surface point can be imaged by inst.
func Visible(inst model.InstrumentProperties, g SurfaceSatelliteGeometry) bool {
	if !(g.CosZenith > 0) {
		return false
	}
	return !inst.Pushbroom || g.AbsSinSwathAngle < SwathHalfWidthSin
}

// Sunlit reports daylight at the point.
func Sunlit(sun SunSurfaceGeometry) bool { return sun.CosSolarZenith > SunlitCos }

// Night reports full darkness at the point.
func Night(sun SunSurfaceGeometry) bool { return sun.CosSolarZenith < NightCos }

// Glinted reports whether the platform sees specular reflection of the sun.
func Glinted(g SurfaceSatelliteGeometry, sun SunSurfaceGeometry) bool {
	return r3.Dot(g.Direction, sun.ReflectedRay) > GlintCos
}

// RecordingTarget returns the history updated by an observation in band
// under the given illumination. Emissive mid-infrared always records;
// visible/near-infrared records reflectance in daylight (split on glint) and
// emission at night, and nothing in the terminator. Ultraviolet and far
// infrared do not reach the surface.
func RecordingTarget(band model.OpticalBand, sun SunSurfaceGeometry, glinted bool) (SubStatus, bool) {
	switch band {
	case model.MidInfrared:
		return StatusMidInfrared, true
	case model.VisNIR:
		switch {
		case Sunlit(sun) && glinted:
			return StatusGlintedVisNIR, true
		case Sunlit(sun):
			return StatusUnglintedVisNIR, true
		case Night(sun):
			return StatusNightVisNIR, true
		default:
			return 0, false
		}
	case model.Ultraviolet, model.FarInfrared:
		return 0, false
	default:
		return 0, false
	}
}
