package model

import (
	"fmt"
	"strings"
)

// OpticalBand is a coarse spectral class. The discretization only
// distinguishes bands whose properties lead to different constraints on
// mission design; nothing beyond the representative wavelength is simulated.
type OpticalBand int

const (
	// Ultraviolet covers near, middle and far UV. The atmosphere is opaque.
	Ultraviolet OpticalBand = iota
	// VisNIR is visible and near infrared: reflective by day, emissive
	// (lights, fires) at night.
	VisNIR
	// MidInfrared is thermal (emissive) imaging.
	MidInfrared
	// FarInfrared is opaque from the surface; astronomy only.
	FarInfrared
)

// OpticalBands lists every band in declaration order.
var OpticalBands = []OpticalBand{Ultraviolet, VisNIR, MidInfrared, FarInfrared}

// Wavelength returns the representative wavelength of the band in metres,
// or 0 for an unknown band.
func (b OpticalBand) Wavelength() float64 {
	switch b {
	case Ultraviolet:
		return 200e-9
	case VisNIR:
		return 555e-9 // 540 THz green
	case MidInfrared:
		return 10e-6
	case FarInfrared:
		return 100e-6
	default:
		return 0
	}
}

// Valid reports whether b is one of the declared bands.
func (b OpticalBand) Valid() bool {
	return b >= Ultraviolet && b <= FarInfrared
}

func (b OpticalBand) String() string {
	switch b {
	case Ultraviolet:
		return "Ultraviolet"
	case VisNIR:
		return "VisNIR"
	case MidInfrared:
		return "MidInfrared"
	case FarInfrared:
		return "FarInfrared"
	default:
		return fmt.Sprintf("OpticalBand(%d)", int(b))
	}
}

// ParseOpticalBand maps a band name (case-insensitive) to its OpticalBand.
func ParseOpticalBand(name string) (OpticalBand, error) {
	for _, b := range OpticalBands {
		if strings.EqualFold(strings.TrimSpace(name), b.String()) {
			return b, nil
		}
	}
	return 0, fmt.Errorf("unknown optical band %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (b OpticalBand) MarshalText() ([]byte, error) {
	if !b.Valid() {
		return nil, fmt.Errorf("unknown optical band %d", int(b))
	}
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so bands can be named
// in scenario files.
func (b *OpticalBand) UnmarshalText(text []byte) error {
	parsed, err := ParseOpticalBand(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}
