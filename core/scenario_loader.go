package core

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/coverage-simulator/model"
)

// Scenario is a parsed scenario file: engine settings, the coverage
// selection and the imaging platforms.
type Scenario struct {
	// Start is the simulated start time; zero means "now".
	Start     time.Time
	Engine    EngineConfig
	Coverage  CoverageConfig
	Platforms []model.PlatformDefinition
}

// internal YAML shapes, unexported so the file format can evolve.
type scenarioYAML struct {
	Start     time.Time      `yaml:"start"`
	Engine    EngineConfig   `yaml:"engine"`
	Coverage  *coverageYAML  `yaml:"coverage"`
	Platforms []platformYAML `yaml:"platforms"`
}

type coverageYAML struct {
	Preset  string `yaml:"preset"`
	Product string `yaml:"product"`
	MapType string `yaml:"map_type"`
	// Resolution in metres and Freshness must be rungs of the ladders.
	Resolution    *float64       `yaml:"resolution"`
	Freshness     *time.Duration `yaml:"freshness"`
	ShowGlinted   *bool          `yaml:"show_glinted"`
	ShowUnglinted *bool          `yaml:"show_unglinted"`
	IncludeLand   *bool          `yaml:"include_land"`
	IncludeOcean  *bool          `yaml:"include_ocean"`
}

type platformYAML struct {
	ID          string                       `yaml:"id"`
	Name        string                       `yaml:"name"`
	TLE         []string                     `yaml:"tle"`
	Position    *model.Motion                `yaml:"position"`
	Instruments []model.InstrumentProperties `yaml:"instruments"`
}

// LoadScenario reads a YAML scenario from r. Unknown fields, duplicate or
// empty platform IDs, invalid instruments and selections off the ladders
// are rejected; nothing is applied until the whole file is valid.
func LoadScenario(r io.Reader) (*Scenario, error) {
	var payload scenarioYAML
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("LoadScenario: decode failed: %w", err)
	}

	engine := payload.Engine
	engine.ApplyDefaults()
	if err := engine.Validate(); err != nil {
		return nil, fmt.Errorf("LoadScenario: engine: %w", err)
	}

	coverage, err := payload.Coverage.config()
	if err != nil {
		return nil, fmt.Errorf("LoadScenario: coverage: %w", err)
	}

	sc := &Scenario{
		Start:     payload.Start,
		Engine:    engine,
		Coverage:  coverage,
		Platforms: make([]model.PlatformDefinition, 0, len(payload.Platforms)),
	}
	seen := make(map[string]bool, len(payload.Platforms))
	for i, p := range payload.Platforms {
		def, err := p.definition()
		if err != nil {
			return nil, fmt.Errorf("LoadScenario: platform %d: %w", i, err)
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("LoadScenario: platform %d: %w: %q", i, ErrPlatformExists, def.ID)
		}
		seen[def.ID] = true
		sc.Platforms = append(sc.Platforms, def)
	}
	return sc, nil
}

// LoadScenarioFile opens path and parses it with LoadScenario.
func LoadScenarioFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("LoadScenario: %w", err)
	}
	defer f.Close()
	return LoadScenario(f)
}

// Apply adds every platform to the ephemeris and registers its instruments
// with the engine.
func (s *Scenario) Apply(ephemeris *EarthEphemeris, engine *SimulationEngine) error {
	if ephemeris == nil || engine == nil {
		return errors.New("Apply: nil ephemeris or engine")
	}
	for i := range s.Platforms {
		p := &s.Platforms[i]
		if err := ephemeris.AddPlatform(p); err != nil {
			return fmt.Errorf("Apply: %w", err)
		}
		if err := engine.RegisterImager(p.ID, p.Instruments); err != nil {
			return fmt.Errorf("Apply: %w", err)
		}
	}
	return nil
}

func (c *coverageYAML) config() (CoverageConfig, error) {
	if c == nil {
		return DefaultCoverageConfig(), nil
	}
	cfg := DefaultCoverageConfig()
	if c.MapType != "" {
		mt, err := ParseMapType(c.MapType)
		if err != nil {
			return CoverageConfig{}, err
		}
		cfg.MapType = mt
	}
	if c.Preset != "" {
		preset, err := Preset(c.Preset, cfg.MapType)
		if err != nil {
			return CoverageConfig{}, err
		}
		cfg = preset
	}
	if c.Product != "" {
		p, err := ParseProduct(c.Product)
		if err != nil {
			return CoverageConfig{}, err
		}
		cfg.Product = p
	}
	if c.Resolution != nil {
		i := ladderIndex(ResolutionThresholds[:], *c.Resolution)
		if i < 0 {
			return CoverageConfig{}, fmt.Errorf("%w: resolution %v m is not one of %v", ErrInvalidCoverageConfig, *c.Resolution, ResolutionThresholds)
		}
		cfg.ResolutionIndex = i
	}
	if c.Freshness != nil {
		i := ladderIndex(FreshnessThresholds, c.Freshness.Seconds())
		if i < 0 {
			return CoverageConfig{}, fmt.Errorf("%w: freshness %s is not a ladder rung", ErrInvalidCoverageConfig, *c.Freshness)
		}
		cfg.FreshnessIndex = i
	}
	for _, o := range []struct {
		src *bool
		dst *bool
	}{
		{c.ShowGlinted, &cfg.ShowGlinted},
		{c.ShowUnglinted, &cfg.ShowUnglinted},
		{c.IncludeLand, &cfg.IncludeLand},
		{c.IncludeOcean, &cfg.IncludeOcean},
	} {
		if o.src != nil {
			*o.dst = *o.src
		}
	}
	return cfg, cfg.Validate()
}

func (p platformYAML) definition() (model.PlatformDefinition, error) {
	id := strings.TrimSpace(p.ID)
	if id == "" {
		return model.PlatformDefinition{}, ErrEmptyPlatformID
	}
	def := model.PlatformDefinition{
		ID:          id,
		Name:        p.Name,
		Instruments: p.Instruments,
	}
	switch {
	case len(p.TLE) > 0 && p.Position != nil:
		return def, fmt.Errorf("platform %q: both tle and position given", id)
	case len(p.TLE) > 0:
		if len(p.TLE) != 2 {
			return def, fmt.Errorf("platform %q: %w: want 2 lines, got %d", id, ErrInvalidTLE, len(p.TLE))
		}
		def.MotionSource = model.MotionSourceSpacetrack
		def.TLE1, def.TLE2 = p.TLE[0], p.TLE[1]
	case p.Position != nil:
		def.MotionSource = model.MotionSourceStatic
		def.Coordinates = *p.Position
	default:
		return def, fmt.Errorf("platform %q: needs tle or position", id)
	}
	for i, inst := range p.Instruments {
		if err := inst.Validate(); err != nil {
			return def, fmt.Errorf("platform %q instrument %d: %w", id, i, err)
		}
	}
	return def, nil
}

func ladderIndex(ladder []float64, v float64) int {
	for i, rung := range ladder {
		if rung == v {
			return i
		}
	}
	return -1
}
