package model

// MotionSource indicates how a platform's motion is determined.
type MotionSource int

const (
	MotionSourceUnknown    MotionSource = iota
	MotionSourceSpacetrack              // TLE-based orbit propagation
	MotionSourceStatic                  // position fixed in the body frame
)

// Motion represents a body-centred position in metres.
type Motion struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

// PlatformDefinition represents an imaging platform known to the simulator.
// Only ID is used by the coverage engine; the rest feeds the ephemeris.
type PlatformDefinition struct {
	ID   string
	Name string

	MotionSource MotionSource
	TLE1, TLE2   string

	// Coordinates is used when MotionSource is MotionSourceStatic.
	Coordinates Motion

	Instruments []InstrumentProperties
}
