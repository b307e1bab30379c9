// Package stats assembles dashboard aggregates: it resolves windows,
// pulls activity rows from storage, and runs the aggregator for each
// named period.
package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mpelikan/stridedash/internal/aggregate"
	"github.com/mpelikan/stridedash/internal/logging"
	"github.com/mpelikan/stridedash/internal/timewindow"
)

// ActivitySource is the storage collaborator the engine reads from.
// Results may be unordered; the range is half-open [start, end).
type ActivitySource interface {
	ActivitiesInRange(ctx context.Context, start, end time.Time) ([]aggregate.Record, error)
}

// Service computes window aggregates from an activity source.
type Service struct {
	source ActivitySource
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the wall clock, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a stats service backed by the given source.
func NewService(source ActivitySource, opts ...Option) *Service {
	s := &Service{source: source, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WindowStats is the aggregate for a single resolved period.
type WindowStats struct {
	Period timewindow.Period `json:"period"`
	Window timewindow.Window `json:"window"`
	aggregate.Result
}

// Deltas is the current-vs-baseline diff the presentation layer renders.
// Positive means current >= baseline (ties count as non-regression).
type Deltas struct {
	ComparedTo       timewindow.Period `json:"compared_to"`
	RunDistance      float64           `json:"run_distance"`
	RideDistance     float64           `json:"ride_distance"`
	SwimDistance     float64           `json:"swim_distance"`
	TotalTimeSeconds int64             `json:"total_time_s"`
	Positive         bool              `json:"positive"`
}

// WindowEntry is one dashboard slot: either the computed stats or the
// per-window failure that produced none.
type WindowEntry struct {
	*WindowStats
	Deltas *Deltas `json:"deltas,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// Dashboard is the composite response for all seven periods.
type Dashboard struct {
	Timezone string                             `json:"timezone"`
	Units    aggregate.Unit                     `json:"units"`
	Windows  map[timewindow.Period]*WindowEntry `json:"windows"`
}

// ComputeWindow resolves one period and aggregates its rows.
func (s *Service) ComputeWindow(ctx context.Context, period timewindow.Period, tz string, unit aggregate.Unit, includeEbikes bool) (*WindowStats, error) {
	win, err := timewindow.Resolve(period, tz, s.now())
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", tz, err)
	}

	rows, err := s.source.ActivitiesInRange(ctx, win.Start, win.End)
	if err != nil {
		return nil, fmt.Errorf("fetching activities for %s: %w", period, err)
	}

	result := aggregate.Aggregate(rows, win, loc, unit, includeEbikes)
	if result.Skipped > 0 {
		logging.Warn("skipped malformed activity rows", "period", string(period), "skipped", result.Skipped)
	}
	return &WindowStats{Period: period, Window: win, Result: result}, nil
}

// ComputeDashboard computes every period concurrently. A failed window
// is reported in its own entry; it never blocks or corrupts siblings.
func (s *Service) ComputeDashboard(ctx context.Context, tz string, unit aggregate.Unit, includeEbikes bool) (*Dashboard, error) {
	// Validate shared inputs up front so one bad parameter fails the
	// whole request instead of seven identical per-window errors.
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", tz, err)
	}

	dash := &Dashboard{
		Timezone: tz,
		Units:    unit,
		Windows:  make(map[timewindow.Period]*WindowEntry, len(timewindow.Periods())),
	}

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	for _, period := range timewindow.Periods() {
		g.Go(func() error {
			ws, err := s.ComputeWindow(gCtx, period, tz, unit, includeEbikes)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logging.Error("window computation failed", "period", string(period), "error", err)
				dash.Windows[period] = &WindowEntry{Error: err.Error()}
				return nil
			}
			dash.Windows[period] = &WindowEntry{WindowStats: ws}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	attachDeltas(dash)
	return dash, nil
}

// attachDeltas fills in comparison diffs for every period that has a
// baseline, once all windows are present.
func attachDeltas(dash *Dashboard) {
	for _, period := range timewindow.Periods() {
		baseline, ok := timewindow.Comparison(period)
		if !ok {
			continue
		}
		cur := dash.Windows[period]
		base := dash.Windows[baseline]
		if cur == nil || base == nil || cur.WindowStats == nil || base.WindowStats == nil {
			continue
		}
		cur.Deltas = computeDeltas(baseline, &cur.Result, &base.Result)
	}
}

func computeDeltas(baseline timewindow.Period, cur, base *aggregate.Result) *Deltas {
	return &Deltas{
		ComparedTo:       baseline,
		RunDistance:      cur.Run.Distance - base.Run.Distance,
		RideDistance:     cur.Ride.Distance - base.Ride.Distance,
		SwimDistance:     cur.Swim.Distance - base.Swim.Distance,
		TotalTimeSeconds: cur.TotalTimeSeconds - base.TotalTimeSeconds,
		Positive:         cur.TotalTimeSeconds >= base.TotalTimeSeconds,
	}
}
