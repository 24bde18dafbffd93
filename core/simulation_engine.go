package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/coverage-simulator/internal/logging"
	"github.com/signalsfoundry/coverage-simulator/kb"
	"github.com/signalsfoundry/coverage-simulator/model"
	"github.com/signalsfoundry/coverage-simulator/timectrl"
)

const tracerName = "github.com/signalsfoundry/coverage-simulator/core"

// Deferral reasons reported to the MetricsRecorder.
const (
	DeferredGrid        = "grid"
	DeferredOrientation = "orientation"
	DeferredSun         = "sun"
	DeferredPlatform    = "platform"
)

// EngineState is the integrator's lifecycle state.
type EngineState int

const (
	// StateUninitialized has no grid and no last-update instant.
	StateUninitialized EngineState = iota
	// StateStepping is held while the catch-up loop runs.
	StateStepping
	// StateIdle has a grid and waits for the next Update.
	StateIdle
	// StateResetPending discards all coverage state on the next Update.
	StateResetPending
)

func (s EngineState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStepping:
		return "stepping"
	case StateIdle:
		return "idle"
	case StateResetPending:
		return "reset_pending"
	default:
		return fmt.Sprintf("EngineState(%d)", int(s))
	}
}

// EngineConfig holds the integrator settings.
type EngineConfig struct {
	GridWidth  int `yaml:"grid_width"`
	GridHeight int `yaml:"grid_height"`
	// StepInterval is the fixed integration step.
	StepInterval time.Duration `yaml:"step_interval"`
	// MaxStepsPerUpdate bounds the catch-up loop; 0 is unbounded.
	MaxStepsPerUpdate int `yaml:"max_steps_per_update"`
	// SolarParallax computes illumination from the sun position instead of
	// a single direction for the whole body.
	SolarParallax bool `yaml:"solar_parallax"`
}

// DefaultEngineConfig is a 512×256 grid stepped every 30 s.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		GridWidth:    512,
		GridHeight:   256,
		StepInterval: 30 * time.Second,
	}
}

// SmallMapConfig is the reduced-resolution grid for slow hosts.
func SmallMapConfig() EngineConfig {
	cfg := DefaultEngineConfig()
	cfg.GridWidth, cfg.GridHeight = 256, 128
	return cfg
}

// ApplyDefaults fills zero fields from DefaultEngineConfig.
func (c *EngineConfig) ApplyDefaults() {
	def := DefaultEngineConfig()
	if c.GridWidth == 0 {
		c.GridWidth = def.GridWidth
	}
	if c.GridHeight == 0 {
		c.GridHeight = def.GridHeight
	}
	if c.StepInterval == 0 {
		c.StepInterval = def.StepInterval
	}
}

// Validate rejects settings the integrator cannot run with.
func (c EngineConfig) Validate() error {
	if c.GridWidth <= 0 || c.GridHeight <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidGridSize, c.GridWidth, c.GridHeight)
	}
	if c.StepInterval <= 0 {
		return fmt.Errorf("invalid step interval %s", c.StepInterval)
	}
	if c.MaxStepsPerUpdate < 0 {
		return fmt.Errorf("invalid max steps per update %d", c.MaxStepsPerUpdate)
	}
	return nil
}

// MetricsRecorder receives engine measurements. observability.CoverageCollector
// implements it.
type MetricsRecorder interface {
	ObserveUpdate(d time.Duration, steps int)
	IncDeferred(reason string)
	SetIntegrationGap(seconds float64)
	SetActiveImagers(n int)
	SetCoverage(mapType string, thresholds, fractions []float64, mapCells int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveUpdate(time.Duration, int)              {}
func (noopMetrics) IncDeferred(string)                            {}
func (noopMetrics) SetIntegrationGap(float64)                     {}
func (noopMetrics) SetActiveImagers(int)                          {}
func (noopMetrics) SetCoverage(string, []float64, []float64, int) {}

// EngineOption configures a SimulationEngine.
type EngineOption func(*SimulationEngine)

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) EngineOption {
	return func(e *SimulationEngine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetricsRecorder publishes engine measurements to m.
func WithMetricsRecorder(m MetricsRecorder) EngineOption {
	return func(e *SimulationEngine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithTracer overrides the global otel tracer.
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *SimulationEngine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithRegistry shares an existing imager registry.
func WithRegistry(r *kb.ImagerRegistry) EngineOption {
	return func(e *SimulationEngine) {
		if r != nil {
			e.registry = r
		}
	}
}

// WithCoverageConfig sets the initial coverage selection. Invalid
// selections are rejected by NewSimulationEngine.
func WithCoverageConfig(cfg CoverageConfig) EngineOption {
	return func(e *SimulationEngine) {
		e.coverage = cfg
	}
}

// TickListener receives the coverage report after every Update that stepped.
type TickListener func(*CoverageReport)

// SimulationEngine integrates imaging coverage over simulated time. It
// catches up all elapsed fixed-size steps on every Update, so coverage does
// not depend on how often the host calls it.
type SimulationEngine struct {
	mu sync.Mutex

	cfg      EngineConfig
	provider EphemerisProvider
	clock    timectrl.SimClock
	registry *kb.ImagerRegistry

	log     logging.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer
	gapWarn rate.Sometimes
	capWarn rate.Sometimes

	// epoch anchors the float64 instants stored in the grid.
	epoch time.Time

	state           EngineState
	paused          bool
	grid            *Grid
	initialized     bool
	last            float64
	lastOrientation Orientation
	gap             float64
	coverage        CoverageConfig
	report          *CoverageReport

	listeners []TickListener
	unsub     func()
}

// NewSimulationEngine constructs an engine reading time from clock. The
// clock's current time becomes the engine epoch.
func NewSimulationEngine(provider EphemerisProvider, clock timectrl.SimClock, cfg EngineConfig, opts ...EngineOption) (*SimulationEngine, error) {
	if provider == nil {
		return nil, errors.New("nil ephemeris provider")
	}
	if clock == nil {
		return nil, errors.New("nil simulation clock")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &SimulationEngine{
		cfg:      cfg,
		provider: provider,
		clock:    clock,
		log:      logging.Noop(),
		metrics:  noopMetrics{},
		tracer:   otel.Tracer(tracerName),
		gapWarn:  rate.Sometimes{First: 1, Interval: time.Minute},
		capWarn:  rate.Sometimes{First: 1, Interval: time.Minute},
		epoch:    clock.Now(),
		state:    StateUninitialized,
		coverage: DefaultCoverageConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.coverage.Validate(); err != nil {
		return nil, err
	}
	if e.registry == nil {
		e.registry = kb.NewImagerRegistry()
	}
	metrics := e.metrics
	e.unsub = e.registry.Subscribe(func(ev kb.Event) {
		metrics.SetActiveImagers(ev.Active)
	})
	metrics.SetActiveImagers(e.registry.Len())
	return e, nil
}

// Close detaches the engine from its registry.
func (e *SimulationEngine) Close() {
	if e.unsub != nil {
		e.unsub()
	}
}

// Registry returns the imager registry the engine steps.
func (e *SimulationEngine) Registry() *kb.ImagerRegistry { return e.registry }

// Config returns the current engine configuration.
func (e *SimulationEngine) Config() EngineConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Epoch is the instant simulated seconds are counted from.
func (e *SimulationEngine) Epoch() time.Time { return e.epoch }

// Seconds converts t to simulated seconds since the epoch.
func (e *SimulationEngine) Seconds(t time.Time) float64 {
	return t.Sub(e.epoch).Seconds()
}

// RegisterImager starts imaging with the given instruments, replacing any
// previous registration of the platform.
func (e *SimulationEngine) RegisterImager(platformID string, instruments []model.InstrumentProperties) error {
	if platformID == "" {
		return ErrEmptyPlatformID
	}
	for i, inst := range instruments {
		if err := inst.Validate(); err != nil {
			return fmt.Errorf("platform %q instrument %d: %w", platformID, i, err)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registry.Register(platformID, instruments)
	return nil
}

// UnregisterImager stops imaging for a platform. Recorded history is kept.
func (e *SimulationEngine) UnregisterImager(platformID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registry.Unregister(platformID)
}

// ClearImagers unregisters every platform.
func (e *SimulationEngine) ClearImagers() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registry.Clear()
}

// RequestReset discards grid and history on the next Update.
func (e *SimulationEngine) RequestReset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateResetPending
}

// Resize changes the grid dimensions; it implies a reset.
func (e *SimulationEngine) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidGridSize, width, height)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.GridWidth, e.cfg.GridHeight = width, height
	e.state = StateResetPending
	return nil
}

// SetPaused halts integration. Pausing discards the grid and history on
// the next Update, so resuming starts a fresh integration at the current
// time instead of catching up the paused interval.
func (e *SimulationEngine) SetPaused(paused bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if paused && !e.paused {
		e.state = StateResetPending
	}
	e.paused = paused
}

// Paused reports whether integration is halted.
func (e *SimulationEngine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// SetCoverageConfig changes the coverage selection and re-aggregates the
// current grid.
func (e *SimulationEngine) SetCoverageConfig(cfg CoverageConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.coverage = cfg
	if e.grid == nil {
		return nil
	}
	report, err := Aggregate(e.grid, cfg, e.last)
	if err != nil {
		return err
	}
	e.report = report
	e.publishCoverage(report)
	return nil
}

// CoverageConfig returns the current coverage selection.
func (e *SimulationEngine) CoverageConfig() CoverageConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.coverage
}

// Coverage returns the latest report. It is nil before the first completed
// Update; the report's methods treat nil as unavailable.
func (e *SimulationEngine) Coverage() *CoverageReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.report
}

// Illumination returns the sun geometry of a cell at the last step.
func (e *SimulationEngine) Illumination(row, col int) (SunSurfaceGeometry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.grid.Cell(row, col)
	if c == nil || !c.OnMap {
		return SunSurfaceGeometry{}, false
	}
	return c.Sun, true
}

// State returns the lifecycle state.
func (e *SimulationEngine) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// IntegrationGap is the simulated time, in seconds, between the previous
// and the latest Update.
func (e *SimulationEngine) IntegrationGap() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gap
}

// LastUpdate returns the simulated instant of the last processed step.
func (e *SimulationEngine) LastUpdate() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return time.Time{}, false
	}
	return e.instant(e.last), true
}

// Grid returns the current grid, nil before it is built. It must not be
// read concurrently with Update.
func (e *SimulationEngine) Grid() *Grid {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.grid
}

// RegisterTickListener adds a callback run after each stepping Update,
// outside the engine lock.
func (e *SimulationEngine) RegisterTickListener(fn TickListener) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// Update integrates coverage up to the clock's current time.
func (e *SimulationEngine) Update(ctx context.Context) error {
	ctx, log := logging.WithUpdateLogger(ctx, e.log)
	ctx, span := e.tracer.Start(ctx, "coverage.Update")
	defer span.End()

	start := time.Now()
	res, err := e.update(ctx, log)
	e.metrics.ObserveUpdate(time.Since(start), res.steps)
	span.SetAttributes(
		attribute.Int("coverage.steps", res.steps),
		attribute.Int("coverage.imagers", res.imagers),
		attribute.Float64("coverage.gap_seconds", res.gap),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if res.report != nil {
		for _, fn := range res.listeners {
			fn(res.report)
		}
	}
	return nil
}

type updateResult struct {
	steps     int
	imagers   int
	gap       float64
	report    *CoverageReport
	listeners []TickListener
}

func (e *SimulationEngine) update(ctx context.Context, log logging.Logger) (updateResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var res updateResult
	if e.state == StateResetPending {
		e.discard()
		log.Info(ctx, "coverage state reset",
			logging.Int("grid_width", e.cfg.GridWidth),
			logging.Int("grid_height", e.cfg.GridHeight),
		)
		return res, nil
	}
	if e.paused {
		return res, nil
	}

	now := e.clock.Now()
	if e.grid == nil {
		g, err := BuildGrid(e.provider, e.cfg.GridWidth, e.cfg.GridHeight, now)
		if err != nil {
			return res, e.deferred(ctx, log, DeferredGrid, err)
		}
		e.grid = g
		log.Info(ctx, "coverage grid built",
			logging.Int("width", g.Width),
			logging.Int("height", g.Height),
			logging.Int("map_cells", g.MapCells()),
		)
	}

	current, err := e.provider.BodyOrientation(now)
	if err != nil {
		return res, e.deferred(ctx, log, DeferredOrientation, err)
	}

	nowS := e.Seconds(now)
	if !e.initialized {
		e.last = nowS
		e.lastOrientation = current
		e.initialized = true
	}
	e.gap = nowS - e.last
	res.gap = e.gap
	e.metrics.SetIntegrationGap(e.gap)

	imagers := e.registry.Snapshot()
	res.imagers = len(imagers)

	if e.gap < 0 {
		log.Warn(ctx, "simulation time moved backwards; restarting integration at current time",
			logging.Float64("gap_seconds", e.gap),
		)
		e.last = nowS
		e.lastOrientation = current
	} else {
		e.state = StateStepping
		steps, err := e.catchUp(ctx, log, now, current, imagers)
		res.steps = steps
		if err != nil {
			e.state = StateIdle
			return res, err
		}
	}
	e.state = StateIdle

	report, err := Aggregate(e.grid, e.coverage, nowS)
	if err != nil {
		return res, err
	}
	e.report = report
	e.publishCoverage(report)

	res.report = report
	res.listeners = append([]TickListener(nil), e.listeners...)
	return res, nil
}

// catchUp runs every fixed step between the last processed instant and now,
// interpolating the body orientation across the interval.
func (e *SimulationEngine) catchUp(ctx context.Context, log logging.Logger, now time.Time, current Orientation, imagers []kb.Imager) (int, error) {
	dt := e.cfg.StepInterval
	gap := e.gap
	n := int(math.Floor(gap / dt.Seconds()))

	if rp, ok := e.provider.(RotationPeriodProvider); ok {
		if half := rp.RotationPeriod().Seconds() / 2; half > 0 && gap > half {
			e.gapWarn.Do(func() {
				log.Warn(ctx, "integration gap exceeds half a rotation; orientation interpolation is ambiguous",
					logging.Float64("gap_seconds", gap),
					logging.Float64("half_rotation_seconds", half),
				)
			})
		}
	}
	if limit := e.cfg.MaxStepsPerUpdate; limit > 0 && n > limit {
		skipped := n - limit
		e.capWarn.Do(func() {
			log.Warn(ctx, "catch-up capped; oldest steps skipped",
				logging.Int("steps", n),
				logging.Int("max_steps", limit),
				logging.Int("skipped", skipped),
			)
		})
		n = limit
	}

	from, last0 := e.lastOrientation, e.last
	interval := e.Seconds(now) - last0
	completed := from
	steps := 0
	for step := n; step >= 0; step-- {
		if err := ctx.Err(); err != nil {
			e.lastOrientation = completed
			return steps, err
		}
		t := now.Add(-time.Duration(step) * dt)
		ts := e.Seconds(t)
		frac := 1.0
		if interval > 0 {
			frac = (ts - last0) / interval
		}
		o := Slerp(from, current, frac)
		if err := e.step(ctx, log, t, ts, o, current, now, imagers); err != nil {
			e.lastOrientation = completed
			return steps, err
		}
		e.last = ts
		completed = o
		steps++
	}
	e.lastOrientation = current
	log.Debug(ctx, "coverage integrated",
		logging.Int("steps", steps),
		logging.Int("imagers", len(imagers)),
		logging.Float64("gap_seconds", gap),
	)
	return steps, nil
}

// step advances the grid to instant t with body orientation o.
func (e *SimulationEngine) step(ctx context.Context, log logging.Logger, t time.Time, ts float64, o, current Orientation, now time.Time, imagers []kb.Imager) error {
	sun, err := e.provider.SunPosition(t)
	if err != nil {
		return e.deferred(ctx, log, DeferredSun, err)
	}
	toBody := o.Inverse()
	sunBody := toBody.Rotate(sun)
	sunDir := unitOrZero(sunBody)
	for y := range e.grid.Rows {
		row := &e.grid.Rows[y]
		for x := row.Begin; x < row.End; x++ {
			c := &row.Cells[x]
			if e.cfg.SolarParallax {
				c.Sun = SunGeometryFromPosition(c.Surface, sunBody)
			} else {
				c.Sun = SunGeometryFromDirection(c.Surface, sunDir)
			}
		}
	}

	for _, im := range imagers {
		if len(im.Instruments) == 0 {
			continue
		}
		pos, vel, err := e.provider.PlatformState(im.PlatformID, t)
		if err != nil {
			e.metrics.IncDeferred(DeferredPlatform)
			log.Debug(ctx, "platform state unavailable; skipping step",
				logging.String("platform_id", im.PlatformID),
				logging.Err(err),
			)
			continue
		}
		bodyPos := toBody.Rotate(pos)
		swathNormal := unitOrZero(toBody.Rotate(vel))

		lat, lon, _, err := e.provider.WorldToLatLon(current.Rotate(bodyPos), now)
		if err != nil {
			e.metrics.IncDeferred(DeferredPlatform)
			log.Debug(ctx, "sub-satellite point unavailable; skipping step",
				logging.String("platform_id", im.PlatformID),
				logging.Err(err),
			)
			continue
		}

		sweep := swathSweep{
			grid:        e.grid,
			satellite:   bodyPos,
			swathNormal: swathNormal,
			longitude:   lon,
			instruments: im.Instruments,
			at:          ts,
		}
		start := e.grid.RowForLatitude(lat)
		for y := start; y < e.grid.Height; y++ {
			if !sweep.row(y) {
				break
			}
		}
		for y := start - 1; y >= 0; y-- {
			if !sweep.row(y) {
				break
			}
		}
	}
	return nil
}

// swathSweep stamps the cells one platform images during one step.
type swathSweep struct {
	grid        *Grid
	satellite   r3.Vec
	swathNormal r3.Vec
	longitude   float64
	instruments []model.InstrumentProperties
	at          float64
}

// row processes one parallel and reports whether it was relevant, i.e.
// some visible cell was resolved at the coarsest threshold or better.
func (s *swathSweep) row(y int) bool {
	ref := s.grid.ColumnForLongitude(y, s.longitude)
	if ref < 0 {
		return false
	}
	p := &s.grid.Rows[y]
	if !AboveHorizon(s.satellite, p.Cells[ref].Surface) {
		return false
	}
	relevant := false
	for x := p.Begin; x < p.End; x++ {
		c := &p.Cells[x]
		if !AboveHorizon(s.satellite, c.Surface) {
			continue
		}
		geom := NewSurfaceSatelliteGeometry(s.satellite, s.swathNormal, c.Surface)
		for _, inst := range s.instruments {
			if !Visible(inst, geom) {
				continue
			}
			res, ok := HorizontalResolution(inst, geom)
			if !ok {
				continue
			}
			finest := finestThreshold(res)
			if finest < 0 {
				continue
			}
			relevant = true
			target, ok := RecordingTarget(inst.Band, c.Sun, Glinted(geom, c.Sun))
			if !ok {
				continue
			}
			c.stamp(target, finest, s.at)
		}
	}
	return relevant
}

// finestThreshold returns the first resolution threshold res is strictly
// better than, or -1.
func finestThreshold(res float64) int {
	for i, th := range ResolutionThresholds {
		if res < th {
			return i
		}
	}
	return -1
}

func (e *SimulationEngine) deferred(ctx context.Context, log logging.Logger, reason string, err error) error {
	if errors.Is(err, ErrEphemerisUnavailable) {
		e.metrics.IncDeferred(reason)
		log.Warn(ctx, "ephemeris unavailable; work deferred",
			logging.String("reason", reason),
			logging.Err(err),
		)
	}
	return fmt.Errorf("coverage update: %s: %w", reason, err)
}

func (e *SimulationEngine) discard() {
	e.grid = nil
	e.initialized = false
	e.last = 0
	e.lastOrientation = Orientation{}
	e.gap = 0
	e.report = nil
	e.state = StateUninitialized
	e.metrics.SetCoverage(e.coverage.MapType.String(), nil, nil, 0)
}

func (e *SimulationEngine) publishCoverage(r *CoverageReport) {
	e.metrics.SetCoverage(r.Config.MapType.String(), r.Thresholds, r.Fractions(), r.MapCells())
}

func (e *SimulationEngine) instant(s float64) time.Time {
	return e.epoch.Add(time.Duration(s * float64(time.Second)))
}
