package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrCoverageUnavailable is returned for statistics over an empty map,
	// e.g. before the grid is built.
	ErrCoverageUnavailable = errors.New("coverage not available")
	// ErrInvalidCoverageConfig rejects out-of-range selections.
	ErrInvalidCoverageConfig = errors.New("invalid coverage config")
)

// Product is the data product a coverage map is computed for.
type Product int

const (
	ReflectiveVisNIR Product = iota
	NightVisNIR
	EmissiveMIR
)

func (p Product) String() string {
	switch p {
	case ReflectiveVisNIR:
		return "reflective_visnir"
	case NightVisNIR:
		return "night_visnir"
	case EmissiveMIR:
		return "emissive_mir"
	default:
		return fmt.Sprintf("Product(%d)", int(p))
	}
}

// ParseProduct maps a product name as returned by String.
func ParseProduct(name string) (Product, error) {
	for _, p := range []Product{ReflectiveVisNIR, NightVisNIR, EmissiveMIR} {
		if strings.EqualFold(strings.TrimSpace(name), p.String()) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown product %q", ErrInvalidCoverageConfig, name)
}

// MapType selects which ladder the classification is expressed in.
type MapType int

const (
	// ResolutionMap buckets cells by the finest resolution imaged within the
	// chosen freshness.
	ResolutionMap MapType = iota
	// FreshnessMap buckets cells by how recently they were imaged at the
	// chosen resolution.
	FreshnessMap
)

func (m MapType) String() string {
	switch m {
	case ResolutionMap:
		return "resolution"
	case FreshnessMap:
		return "freshness"
	default:
		return fmt.Sprintf("MapType(%d)", int(m))
	}
}

// ParseMapType maps "resolution" or "freshness" to a MapType.
func ParseMapType(name string) (MapType, error) {
	for _, m := range []MapType{ResolutionMap, FreshnessMap} {
		if strings.EqualFold(strings.TrimSpace(name), m.String()) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown map type %q", ErrInvalidCoverageConfig, name)
}

// CoverageConfig is the selection a coverage report is computed for.
type CoverageConfig struct {
	Product Product
	MapType MapType
	// ResolutionIndex selects the resolution threshold of a freshness map.
	ResolutionIndex int
	// FreshnessIndex selects the freshness threshold of a resolution map.
	FreshnessIndex int
	// ShowGlinted and ShowUnglinted pick the reflective sub-statuses; they
	// are ignored for other products.
	ShowGlinted   bool
	ShowUnglinted bool
	IncludeLand   bool
	IncludeOcean  bool
}

// DefaultCoverageConfig is the reflective visible resolution map over land.
func DefaultCoverageConfig() CoverageConfig {
	return CoverageConfig{
		Product:       ReflectiveVisNIR,
		MapType:       ResolutionMap,
		ShowGlinted:   true,
		ShowUnglinted: true,
		IncludeLand:   true,
	}
}

// Validate checks the selection against the ladders.
func (c CoverageConfig) Validate() error {
	switch c.Product {
	case ReflectiveVisNIR, NightVisNIR, EmissiveMIR:
	default:
		return fmt.Errorf("%w: unknown product %d", ErrInvalidCoverageConfig, int(c.Product))
	}
	switch c.MapType {
	case ResolutionMap, FreshnessMap:
	default:
		return fmt.Errorf("%w: unknown map type %d", ErrInvalidCoverageConfig, int(c.MapType))
	}
	if c.ResolutionIndex < 0 || c.ResolutionIndex >= NumResolutionThresholds {
		return fmt.Errorf("%w: resolution index %d", ErrInvalidCoverageConfig, c.ResolutionIndex)
	}
	if c.FreshnessIndex < 0 || c.FreshnessIndex >= len(FreshnessThresholds) {
		return fmt.Errorf("%w: freshness index %d", ErrInvalidCoverageConfig, c.FreshnessIndex)
	}
	return nil
}

// statuses returns the sub-statuses the selection reads.
func (c CoverageConfig) statuses() []SubStatus {
	switch c.Product {
	case EmissiveMIR:
		return []SubStatus{StatusMidInfrared}
	case NightVisNIR:
		return []SubStatus{StatusNightVisNIR}
	case ReflectiveVisNIR:
		out := make([]SubStatus, 0, 2)
		if c.ShowUnglinted {
			out = append(out, StatusUnglintedVisNIR)
		}
		if c.ShowGlinted {
			out = append(out, StatusGlintedVisNIR)
		}
		return out
	default:
		return nil
	}
}

// Thresholds returns the ladder the classification buckets refer to.
func (c CoverageConfig) Thresholds() []float64 {
	if c.MapType == FreshnessMap {
		return append([]float64(nil), FreshnessThresholds...)
	}
	return append([]float64(nil), ResolutionThresholds[:]...)
}

// Class is the classification of one cell. Non-negative values are bucket
// indices into the report's threshold ladder, finest first.
type Class int8

const (
	ClassUncovered Class = -1
	ClassOffMap    Class = -2
	// ClassMasked marks on-map cells excluded by the land/ocean selection.
	ClassMasked Class = -3
)

// CoverageReport is the aggregator output for one instant.
type CoverageReport struct {
	Config     CoverageConfig
	Width      int
	Height     int
	Thresholds []float64
	// At is the simulated instant (seconds since the engine epoch).
	At float64

	classes   []Class
	counts    []int
	mapCells  int
	fractions []float64
}

// Available reports whether any on-map cell contributed.
func (r *CoverageReport) Available() bool {
	return r != nil && r.mapCells > 0
}

// MapCells returns the number of cells the fractions are relative to.
func (r *CoverageReport) MapCells() int {
	if r == nil {
		return 0
	}
	return r.mapCells
}

// Class returns the classification of (row, col); ClassOffMap outside the grid.
func (r *CoverageReport) Class(row, col int) Class {
	if r == nil || row < 0 || row >= r.Height || col < 0 || col >= r.Width {
		return ClassOffMap
	}
	return r.classes[row*r.Width+col]
}

// Count returns the number of cells at threshold i or better.
func (r *CoverageReport) Count(i int) int {
	if r == nil || i < 0 || i >= len(r.counts) {
		return 0
	}
	return r.counts[i]
}

// Fraction returns the fraction of selected map cells at threshold i or
// better.
func (r *CoverageReport) Fraction(i int) (float64, error) {
	if !r.Available() {
		return 0, ErrCoverageUnavailable
	}
	if i < 0 || i >= len(r.fractions) {
		return 0, fmt.Errorf("%w: threshold index %d", ErrInvalidCoverageConfig, i)
	}
	return r.fractions[i], nil
}

// Fractions returns a copy of all fractions, or nil when unavailable.
func (r *CoverageReport) Fractions() []float64 {
	if !r.Available() {
		return nil
	}
	return append([]float64(nil), r.fractions...)
}

// Aggregate classifies every cell of g for cfg at instant now and counts
// cumulative coverage. A nil grid yields an unavailable report.
func Aggregate(g *Grid, cfg CoverageConfig, now float64) (*CoverageReport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &CoverageReport{
		Config:     cfg,
		Thresholds: cfg.Thresholds(),
		At:         now,
	}
	r.counts = make([]int, len(r.Thresholds))
	if g == nil {
		return r, nil
	}
	r.Width, r.Height = g.Width, g.Height
	r.classes = make([]Class, g.Width*g.Height)

	statuses := cfg.statuses()
	for y := range g.Rows {
		row := &g.Rows[y]
		for x := range row.Cells {
			c := &row.Cells[x]
			idx := y*g.Width + x
			switch {
			case !c.OnMap:
				r.classes[idx] = ClassOffMap
				continue
			case c.Ocean && !cfg.IncludeOcean, !c.Ocean && !cfg.IncludeLand:
				r.classes[idx] = ClassMasked
				continue
			}
			r.mapCells++

			var bucket int
			if cfg.MapType == FreshnessMap {
				bucket = freshnessBucket(c, statuses, cfg.ResolutionIndex, now)
			} else {
				bucket = resolutionBucket(c, statuses, FreshnessThresholds[cfg.FreshnessIndex], now)
			}
			if bucket < 0 {
				r.classes[idx] = ClassUncovered
				continue
			}
			r.classes[idx] = Class(bucket)
			for j := bucket; j < len(r.counts); j++ {
				r.counts[j]++
			}
		}
	}

	if r.mapCells > 0 {
		r.fractions = make([]float64, len(r.counts))
		for i, n := range r.counts {
			r.fractions[i] = float64(n) / float64(r.mapCells)
		}
	}
	return r, nil
}

// freshnessBucket returns the first freshness rung the least imaging age
// fits in, or -1.
func freshnessBucket(c *Cell, statuses []SubStatus, resolution int, now float64) int {
	age := math.Inf(1)
	for _, s := range statuses {
		age = math.Min(age, now-c.LastImaged[s][resolution])
	}
	for i, limit := range FreshnessThresholds {
		if age <= limit {
			return i
		}
	}
	return -1
}

// resolutionBucket returns the finest resolution imaged within freshness, or -1.
func resolutionBucket(c *Cell, statuses []SubStatus, freshness, now float64) int {
	finest := NumResolutionThresholds
	for _, s := range statuses {
		for i := 0; i < NumResolutionThresholds; i++ {
			if now-c.LastImaged[s][i] <= freshness {
				finest = min(finest, i)
				break
			}
		}
	}
	if finest == NumResolutionThresholds {
		return -1
	}
	return finest
}
