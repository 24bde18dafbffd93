package core

import (
	"fmt"
	"sort"
)

// Presets are the coverage selections of common imaging applications.
var Presets = map[string]CoverageConfig{
	"weather-forecasting": {
		Product:         EmissiveMIR,
		ResolutionIndex: resolutionIndex(10e3),
		FreshnessIndex:  freshnessIndex(6 * 3600),
		IncludeLand:     true,
		IncludeOcean:    true,
	},
	"fire-monitoring": {
		Product:         EmissiveMIR,
		ResolutionIndex: resolutionIndex(100),
		FreshnessIndex:  freshnessIndex(24 * 3600),
		IncludeLand:     true,
	},
	"ocean-colour": {
		Product:         ReflectiveVisNIR,
		ResolutionIndex: resolutionIndex(1e3),
		FreshnessIndex:  freshnessIndex(48 * 3600),
		IncludeOcean:    true,
		ShowUnglinted:   true,
	},
	"oil-spill": {
		Product:         ReflectiveVisNIR,
		ResolutionIndex: resolutionIndex(1e3),
		FreshnessIndex:  freshnessIndex(48 * 3600),
		IncludeOcean:    true,
		ShowGlinted:     true,
	},
	"light-pollution": {
		Product:         NightVisNIR,
		ResolutionIndex: resolutionIndex(1e3),
		FreshnessIndex:  freshnessIndex(48 * 3600),
		IncludeLand:     true,
	},
}

// Preset returns the named preset with the given map type.
func Preset(name string, mapType MapType) (CoverageConfig, error) {
	cfg, ok := Presets[name]
	if !ok {
		names := make([]string, 0, len(Presets))
		for n := range Presets {
			names = append(names, n)
		}
		sort.Strings(names)
		return CoverageConfig{}, fmt.Errorf("%w: unknown preset %q (known: %v)", ErrInvalidCoverageConfig, name, names)
	}
	cfg.MapType = mapType
	return cfg, nil
}

func resolutionIndex(metres float64) int {
	return mustIndex(ResolutionThresholds[:], metres)
}

func freshnessIndex(seconds float64) int {
	return mustIndex(FreshnessThresholds, seconds)
}

func mustIndex(ladder []float64, v float64) int {
	i := ladderIndex(ladder, v)
	if i < 0 {
		panic(fmt.Sprintf("%v not on the ladder %v", v, ladder))
	}
	return i
}
