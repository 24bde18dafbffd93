package core

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/coverage-simulator/model"
	"github.com/signalsfoundry/coverage-simulator/timectrl"
)

const scenarioFixture = `
start: 2021-10-02T23:00:00Z
engine:
  grid_width: 128
  grid_height: 64
  step_interval: 1m
coverage:
  preset: weather-forecasting
  map_type: freshness
  resolution: 1000
platforms:
  - id: iss
    name: ISS (ZARYA)
    tle:
      - "` + issTLE1 + `"
      - "` + issTLE2 + `"
    instruments:
      - band: MidInfrared
        aperture: 0.2
        field_of_view: 0.5
      - band: visnir
        aperture: 0.1
        pushbroom: true
  - id: tower
    position: {x: 6371100, y: 0, z: 0}
    instruments:
      - band: VisNIR
        aperture: 0.05
`

func TestLoadScenario_Parses(t *testing.T) {
	sc, err := LoadScenario(strings.NewReader(scenarioFixture))
	if err != nil {
		t.Fatalf("LoadScenario returned error: %v", err)
	}

	if want := time.Date(2021, 10, 2, 23, 0, 0, 0, time.UTC); !sc.Start.Equal(want) {
		t.Errorf("Start = %v, want %v", sc.Start, want)
	}
	if sc.Engine.GridWidth != 128 || sc.Engine.GridHeight != 64 {
		t.Errorf("grid = %dx%d, want 128x64", sc.Engine.GridWidth, sc.Engine.GridHeight)
	}
	if sc.Engine.StepInterval != time.Minute {
		t.Errorf("StepInterval = %v, want 1m", sc.Engine.StepInterval)
	}
	if def := DefaultEngineConfig(); sc.Engine.MaxStepsPerUpdate != def.MaxStepsPerUpdate {
		t.Errorf("MaxStepsPerUpdate = %d, want default %d", sc.Engine.MaxStepsPerUpdate, def.MaxStepsPerUpdate)
	}

	cov := sc.Coverage
	if cov.Product != EmissiveMIR || cov.MapType != FreshnessMap {
		t.Errorf("coverage = %v/%v, want emissive_mir/freshness", cov.Product, cov.MapType)
	}
	if got := ResolutionThresholds[cov.ResolutionIndex]; got != 1e3 {
		t.Errorf("resolution = %v, want 1000", got)
	}
	if !cov.IncludeLand || !cov.IncludeOcean {
		t.Errorf("weather preset should include land and ocean, got %+v", cov)
	}

	if len(sc.Platforms) != 2 {
		t.Fatalf("len(Platforms) = %d, want 2", len(sc.Platforms))
	}
	iss := sc.Platforms[0]
	if iss.MotionSource != model.MotionSourceSpacetrack || iss.TLE1 != issTLE1 || iss.TLE2 != issTLE2 {
		t.Errorf("iss motion = %v, TLE not carried over", iss.MotionSource)
	}
	if len(iss.Instruments) != 2 {
		t.Fatalf("iss instruments = %d, want 2", len(iss.Instruments))
	}
	if iss.Instruments[0].Band != model.MidInfrared || iss.Instruments[0].Aperture != 0.2 {
		t.Errorf("iss instrument 0 = %+v", iss.Instruments[0])
	}
	if iss.Instruments[1].Band != model.VisNIR || !iss.Instruments[1].Pushbroom {
		t.Errorf("iss instrument 1 = %+v", iss.Instruments[1])
	}

	tower := sc.Platforms[1]
	if tower.MotionSource != model.MotionSourceStatic {
		t.Errorf("tower motion = %v, want static", tower.MotionSource)
	}
	if tower.Coordinates.X != 6371100 {
		t.Errorf("tower X = %v, want 6371100", tower.Coordinates.X)
	}
}

func TestLoadScenario_EmptyUsesDefaults(t *testing.T) {
	sc, err := LoadScenario(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadScenario returned error: %v", err)
	}
	if sc.Engine != DefaultEngineConfig() {
		t.Errorf("Engine = %+v, want defaults", sc.Engine)
	}
	if sc.Coverage != DefaultCoverageConfig() {
		t.Errorf("Coverage = %+v, want defaults", sc.Coverage)
	}
	if !sc.Start.IsZero() {
		t.Errorf("Start = %v, want zero", sc.Start)
	}
}

func TestLoadScenario_Rejects(t *testing.T) {
	cases := map[string]struct {
		yaml string
		want error
	}{
		"unknown field": {yaml: "bogus: 1\n"},
		"bad grid": {
			yaml: "engine: {grid_width: -4}\n",
			want: ErrInvalidGridSize,
		},
		"unknown preset": {
			yaml: "coverage: {preset: stargazing}\n",
			want: ErrInvalidCoverageConfig,
		},
		"unknown product": {
			yaml: "coverage: {product: radar}\n",
			want: ErrInvalidCoverageConfig,
		},
		"resolution off ladder": {
			yaml: "coverage: {resolution: 25}\n",
			want: ErrInvalidCoverageConfig,
		},
		"freshness off ladder": {
			yaml: "coverage: {freshness: 2h}\n",
			want: ErrInvalidCoverageConfig,
		},
		"empty id": {
			yaml: "platforms: [{id: ' ', position: {x: 1}}]\n",
			want: ErrEmptyPlatformID,
		},
		"duplicate id": {
			yaml: "platforms: [{id: a, position: {x: 1}}, {id: a, position: {x: 2}}]\n",
			want: ErrPlatformExists,
		},
		"no motion": {yaml: "platforms: [{id: a}]\n"},
		"one tle line": {
			yaml: "platforms: [{id: a, tle: [x]}]\n",
			want: ErrInvalidTLE,
		},
		"bad band": {yaml: "platforms: [{id: a, position: {x: 1}, instruments: [{band: xray, aperture: 1}]}]\n"},
		"zero aperture": {
			yaml: "platforms: [{id: a, position: {x: 1}, instruments: [{band: VisNIR}]}]\n",
			want: model.ErrInvalidInstrument,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadScenario(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatalf("LoadScenario succeeded, want error")
			}
			if !strings.HasPrefix(err.Error(), "LoadScenario: ") {
				t.Errorf("error %q lacks LoadScenario prefix", err)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Errorf("error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestLoadScenarioFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(scenarioFixture), 0o600); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	sc, err := LoadScenarioFile(path)
	if err != nil {
		t.Fatalf("LoadScenarioFile returned error: %v", err)
	}
	if len(sc.Platforms) != 2 {
		t.Errorf("len(Platforms) = %d, want 2", len(sc.Platforms))
	}

	if _, err := LoadScenarioFile(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file error = %v, want ErrNotExist", err)
	}
}

func TestScenarioApply(t *testing.T) {
	sc, err := LoadScenario(strings.NewReader(scenarioFixture))
	if err != nil {
		t.Fatalf("LoadScenario returned error: %v", err)
	}

	earth := NewEarthEphemeris()
	clock := timectrl.NewTimeController(sc.Start, sc.Engine.StepInterval, timectrl.Accelerated)
	engine, err := NewSimulationEngine(earth, clock, sc.Engine, WithCoverageConfig(sc.Coverage))
	if err != nil {
		t.Fatalf("NewSimulationEngine: %v", err)
	}
	defer engine.Close()

	if err := sc.Apply(earth, engine); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if got := earth.Platforms(); len(got) != 2 || got[0] != "iss" || got[1] != "tower" {
		t.Errorf("Platforms() = %v, want [iss tower]", got)
	}
	if n := engine.Registry().Len(); n != 2 {
		t.Errorf("registry Len = %d, want 2", n)
	}
	if engine.CoverageConfig() != sc.Coverage {
		t.Errorf("engine coverage config = %+v, want %+v", engine.CoverageConfig(), sc.Coverage)
	}

	// A second apply collides on the ephemeris.
	if err := sc.Apply(earth, engine); !errors.Is(err, ErrPlatformExists) {
		t.Errorf("second Apply error = %v, want ErrPlatformExists", err)
	}
	if err := sc.Apply(nil, engine); err == nil {
		t.Errorf("Apply with nil ephemeris succeeded")
	}
}

func TestSampleScenarioStaticPlatformsSeeTheSurface(t *testing.T) {
	sc, err := LoadScenarioFile(filepath.Join("..", "configs", "scenario.yaml"))
	if err != nil {
		t.Fatalf("LoadScenarioFile: %v", err)
	}
	earth := NewEarthEphemeris()
	g, err := BuildGrid(earth, sc.Engine.GridWidth, sc.Engine.GridHeight, sc.Start)
	if err != nil {
		t.Fatalf("BuildGrid: %v", err)
	}

	static := 0
	for _, p := range sc.Platforms {
		if p.MotionSource != model.MotionSourceStatic {
			continue
		}
		static++
		pos := r3.Vec{X: p.Coordinates.X, Y: p.Coordinates.Y, Z: p.Coordinates.Z}
		if r := r3.Norm(pos); r <= EarthRadius {
			t.Errorf("%s: radius %.0f m is not above the surface (%.0f m)", p.ID, r, EarthRadius)
			continue
		}
		visible := 0
		for y := range g.Rows {
			row := &g.Rows[y]
			for x := row.Begin; x < row.End; x++ {
				if AboveHorizon(pos, row.Cells[x].Surface) {
					visible++
				}
			}
		}
		if visible == 0 {
			t.Errorf("%s: no grid cell has the platform above its horizon", p.ID)
		}
	}
	if static == 0 {
		t.Fatalf("sample scenario has no static platform")
	}
}
