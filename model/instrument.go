package model

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidInstrument is returned when instrument properties fail validation.
var ErrInvalidInstrument = errors.New("invalid instrument")

// InstrumentProperties describes one imaging product of an imager: a single
// band observed through a given aperture.
type InstrumentProperties struct {
	// FieldOfView is the full field of view in radians. It is carried for
	// consumers; coverage is limited by the horizon and the swath instead.
	FieldOfView float64 `yaml:"field_of_view" json:"field_of_view"`

	// Aperture is the aperture diameter in metres.
	Aperture float64 `yaml:"aperture" json:"aperture"`

	Band OpticalBand `yaml:"band" json:"band"`

	// Pushbroom instruments image a 1-D cross-track swath; the others are
	// 2-D sensors without a swath constraint.
	Pushbroom bool `yaml:"pushbroom" json:"pushbroom"`
}

// Validate rejects properties that cannot produce a resolution.
func (p InstrumentProperties) Validate() error {
	if !p.Band.Valid() {
		return fmt.Errorf("%w: unknown band %d", ErrInvalidInstrument, int(p.Band))
	}
	if math.IsNaN(p.Aperture) || math.IsInf(p.Aperture, 0) || p.Aperture <= 0 {
		return fmt.Errorf("%w: aperture must be positive, got %v", ErrInvalidInstrument, p.Aperture)
	}
	if math.IsNaN(p.FieldOfView) || p.FieldOfView < 0 {
		return fmt.Errorf("%w: field of view must be non-negative, got %v", ErrInvalidInstrument, p.FieldOfView)
	}
	return nil
}

// DiffractionLimit returns the sine of the diffraction-limited angular
// resolution (Rayleigh criterion) of the instrument.
func (p InstrumentProperties) DiffractionLimit() float64 {
	return 1.22 * p.Band.Wavelength() / p.Aperture
}
