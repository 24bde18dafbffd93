package core

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// NumResolutionThresholds is the length of the resolution ladder.
const NumResolutionThresholds = 5

// ResolutionThresholds is the resolution ladder in metres, finest first.
var ResolutionThresholds = [NumResolutionThresholds]float64{1, 10, 100, 1e3, 10e3}

// FreshnessThresholds is the freshness ladder in seconds, freshest first.
// The first rung (1 s) means "currently imaged".
var FreshnessThresholds = []float64{1, 3 * 3600, 6 * 3600, 12 * 3600, 24 * 3600, 48 * 3600}

// Cell is one raster point of the coverage grid.
type Cell struct {
	OnMap bool
	Ocean bool

	Surface SurfacePoint
	// Sun is recomputed at every integration step.
	Sun SunSurfaceGeometry

	// LastImaged holds, per sub-status and resolution threshold, the latest
	// simulated instant (seconds since the engine epoch) at which the cell
	// was imaged at that resolution or better; -Inf when never.
	LastImaged [numSubStatuses][NumResolutionThresholds]float64
}

// LastImagedAt returns the latest imaging instant for the given history.
func (c *Cell) LastImagedAt(s SubStatus, threshold int) float64 {
	return c.LastImaged[s][threshold]
}

// stamp records an observation at instant t for every threshold from
// finest onwards.
func (c *Cell) stamp(s SubStatus, finest int, t float64) {
	for i := finest; i < NumResolutionThresholds; i++ {
		if t > c.LastImaged[s][i] {
			c.LastImaged[s][i] = t
		}
	}
}

// Parallel is one row of the grid.
type Parallel struct {
	Latitude    float64
	SinLatitude float64
	CosLatitude float64
	// CosTheta is the cosine of the auxiliary Mollweide angle of the row.
	CosTheta float64

	// Begin and End bound the on-map columns, [Begin, End).
	Begin, End int
	Cells      []Cell
}

// Grid is a Mollweide equal-area raster of the body's surface.
type Grid struct {
	Width, Height int
	Rows          []Parallel

	mapCells int
}

// MapCells returns the number of on-map cells.
func (g *Grid) MapCells() int {
	if g == nil {
		return 0
	}
	return g.mapCells
}

// Cell returns the cell at (row, col), or nil when out of range.
func (g *Grid) Cell(row, col int) *Cell {
	if g == nil || row < 0 || row >= g.Height || col < 0 || col >= g.Width {
		return nil
	}
	return &g.Rows[row].Cells[col]
}

// RowForLatitude returns the row whose latitude is closest to lat.
func (g *Grid) RowForLatitude(lat float64) int {
	i := sort.Search(g.Height, func(i int) bool { return g.Rows[i].Latitude >= lat })
	switch {
	case i == 0:
		return 0
	case i == g.Height:
		return g.Height - 1
	case lat-g.Rows[i-1].Latitude < g.Rows[i].Latitude-lat:
		return i - 1
	default:
		return i
	}
}

// ColumnForLongitude returns the on-map column of row closest to lon, or -1
// when the row has no on-map cell.
func (g *Grid) ColumnForLongitude(row int, lon float64) int {
	p := &g.Rows[row]
	if p.Begin >= p.End {
		return -1
	}
	xn := 2 * lon * p.CosTheta / math.Pi
	x := int(math.Round((xn + 2) * float64(g.Width) / 4))
	if x < p.Begin {
		x = p.Begin
	}
	if x >= p.End {
		x = p.End - 1
	}
	return x
}

// BuildGrid projects a width×height Mollweide raster on [-2, 2]×[-1, 1] onto
// the body and fills every on-map cell from the provider, using the body
// orientation at t to express positions in the body-fixed frame. No partial
// grid is returned: any provider failure aborts the build.
func BuildGrid(provider EphemerisProvider, width, height int, t time.Time) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidGridSize, width, height)
	}
	orientation, err := provider.BodyOrientation(t)
	if err != nil {
		return nil, fmt.Errorf("build grid: body orientation: %w", err)
	}
	toBody := orientation.Inverse()

	g := &Grid{Width: width, Height: height, Rows: make([]Parallel, height)}
	for y := 0; y < height; y++ {
		yn := 2*float64(y)/float64(height) - 1
		theta := math.Asin(yn)
		sinPhi := (2*theta + math.Sin(2*theta)) / math.Pi
		phi := math.Asin(sinPhi)

		p := &g.Rows[y]
		p.Latitude = phi
		p.SinLatitude = sinPhi
		p.CosLatitude = math.Cos(phi)
		p.CosTheta = math.Cos(theta)
		p.Cells = make([]Cell, width)

		entered := false
		for x := 0; x < width; x++ {
			xn := 4*float64(x)/float64(width) - 2
			lambda := math.Pi * xn / (2 * p.CosTheta)
			if math.IsNaN(phi) || math.IsNaN(lambda) || math.Abs(lambda) > math.Pi {
				if entered && p.End == 0 {
					p.End = x
				}
				continue
			}
			if !entered {
				p.Begin = x
				entered = true
			}

			alt, err := provider.TerrainAltitude(phi, lambda)
			if err != nil {
				return nil, fmt.Errorf("build grid: terrain at row %d col %d: %w", y, x, err)
			}
			world, err := provider.SurfaceToWorld(phi, lambda, alt, t)
			if err != nil {
				return nil, fmt.Errorf("build grid: surface position at row %d col %d: %w", y, x, err)
			}

			c := &p.Cells[x]
			c.OnMap = true
			c.Ocean = alt == 0
			c.Surface = NewSurfacePoint(toBody.Rotate(world))
			for s := range c.LastImaged {
				for i := range c.LastImaged[s] {
					c.LastImaged[s][i] = math.Inf(-1)
				}
			}
		}
		if entered && p.End == 0 {
			p.End = width
		}
		g.mapCells += p.End - p.Begin
	}
	return g, nil
}
