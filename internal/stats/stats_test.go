package stats

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mpelikan/stridedash/internal/aggregate"
	"github.com/mpelikan/stridedash/internal/timewindow"
)

const tzBratislava = "Europe/Bratislava"

type mockSource struct {
	rows []aggregate.Record
	err  error
	// failOverlapping makes only ranges containing this instant fail,
	// leaving sibling windows healthy.
	failOverlapping time.Time
}

func (m *mockSource) ActivitiesInRange(_ context.Context, start, end time.Time) ([]aggregate.Record, error) {
	if m.err != nil {
		if m.failOverlapping.IsZero() {
			return nil, m.err
		}
		if !m.failOverlapping.Before(start) && m.failOverlapping.Before(end) {
			return nil, m.err
		}
	}
	var out []aggregate.Record
	for _, r := range m.rows {
		if !r.StartTime.Before(start) && r.StartTime.Before(end) {
			out = append(out, r)
		}
	}
	return out, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestComputeWindow(t *testing.T) {
	loc, err := time.LoadLocation(tzBratislava)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, loc)

	src := &mockSource{rows: []aggregate.Record{
		{SportType: "Run", DistanceMeters: 5000, MovingTimeSeconds: 1800, StartTime: time.Date(2024, 3, 10, 8, 0, 0, 0, loc)},
		{SportType: "Ride", DistanceMeters: 20000, MovingTimeSeconds: 3600, StartTime: time.Date(2024, 3, 12, 17, 0, 0, 0, loc)},
	}}
	svc := NewService(src, WithClock(fixedClock(now)))

	ws, err := svc.ComputeWindow(context.Background(), timewindow.Last7, tzBratislava, aggregate.UnitKilometers, false)
	if err != nil {
		t.Fatalf("ComputeWindow: %v", err)
	}
	if ws.Period != timewindow.Last7 {
		t.Errorf("period = %s", ws.Period)
	}
	if ws.Run.Distance != 5.0 || ws.Ride.Distance != 20.0 {
		t.Errorf("distances = run %v, ride %v", ws.Run.Distance, ws.Ride.Distance)
	}
	if ws.TotalTimeSeconds != 5400 {
		t.Errorf("total time = %d, want 5400", ws.TotalTimeSeconds)
	}
	if len(ws.Series.Run) != 8 {
		t.Errorf("series length = %d, want 8", len(ws.Series.Run))
	}
}

func TestComputeWindowRejectsBadPeriod(t *testing.T) {
	svc := NewService(&mockSource{})
	if _, err := svc.ComputeWindow(context.Background(), "fortnight", tzBratislava, aggregate.UnitKilometers, false); err == nil {
		t.Error("expected error for unknown period")
	}
}

func TestComputeDashboard(t *testing.T) {
	loc, err := time.LoadLocation(tzBratislava)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, loc)

	src := &mockSource{rows: []aggregate.Record{
		// Current windows: one run this week.
		{SportType: "Run", DistanceMeters: 10000, MovingTimeSeconds: 3600, StartTime: time.Date(2024, 3, 10, 8, 0, 0, 0, loc)},
		// Baseline windows: a longer run in February.
		{SportType: "Run", DistanceMeters: 15000, MovingTimeSeconds: 5400, StartTime: time.Date(2024, 2, 10, 8, 0, 0, 0, loc)},
	}}
	svc := NewService(src, WithClock(fixedClock(now)))

	dash, err := svc.ComputeDashboard(context.Background(), tzBratislava, aggregate.UnitKilometers, false)
	if err != nil {
		t.Fatalf("ComputeDashboard: %v", err)
	}
	if dash.Timezone != tzBratislava || dash.Units != aggregate.UnitKilometers {
		t.Errorf("echoed params = %s, %s", dash.Timezone, dash.Units)
	}
	if len(dash.Windows) != len(timewindow.Periods()) {
		t.Fatalf("got %d windows, want %d", len(dash.Windows), len(timewindow.Periods()))
	}
	for _, p := range timewindow.Periods() {
		entry := dash.Windows[p]
		if entry == nil || entry.WindowStats == nil {
			t.Fatalf("window %s missing or failed: %+v", p, entry)
		}
		if entry.Error != "" {
			t.Errorf("window %s error = %q", p, entry.Error)
		}
	}

	// month_to_date trails prev_month, so the diff is negative.
	mtd := dash.Windows[timewindow.MonthToDate]
	if mtd.Deltas == nil {
		t.Fatal("month_to_date should carry deltas")
	}
	if mtd.Deltas.ComparedTo != timewindow.PrevMonth {
		t.Errorf("compared_to = %s", mtd.Deltas.ComparedTo)
	}
	if mtd.Deltas.RunDistance != -5.0 {
		t.Errorf("run delta = %v, want -5.0", mtd.Deltas.RunDistance)
	}
	if mtd.Deltas.Positive {
		t.Error("3600s vs 5400s should not be positive")
	}

	// Baseline-only periods carry no deltas of their own.
	if dash.Windows[timewindow.Last7Prev].Deltas != nil {
		t.Error("last7_prev should not carry deltas")
	}
	if dash.Windows[timewindow.YTDPrev].Deltas != nil {
		t.Error("ytd_prev should not carry deltas")
	}
}

func TestComputeDashboardDeltaTieIsPositive(t *testing.T) {
	loc, err := time.LoadLocation(tzBratislava)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, loc)

	src := &mockSource{rows: []aggregate.Record{
		{SportType: "Run", DistanceMeters: 5000, MovingTimeSeconds: 1800, StartTime: time.Date(2024, 3, 10, 8, 0, 0, 0, loc)},
		{SportType: "Run", DistanceMeters: 5000, MovingTimeSeconds: 1800, StartTime: time.Date(2024, 2, 10, 8, 0, 0, 0, loc)},
	}}
	svc := NewService(src, WithClock(fixedClock(now)))

	dash, err := svc.ComputeDashboard(context.Background(), tzBratislava, aggregate.UnitKilometers, false)
	if err != nil {
		t.Fatalf("ComputeDashboard: %v", err)
	}
	mtd := dash.Windows[timewindow.MonthToDate]
	if mtd.Deltas == nil || !mtd.Deltas.Positive {
		t.Errorf("equal totals should report positive, got %+v", mtd.Deltas)
	}
	if mtd.Deltas.TotalTimeSeconds != 0 {
		t.Errorf("time delta = %d, want 0", mtd.Deltas.TotalTimeSeconds)
	}
}

func TestComputeDashboardIsolatesWindowFailure(t *testing.T) {
	loc, err := time.LoadLocation(tzBratislava)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, loc)

	// Fail only ranges covering February 2023, which hits ytd_prev alone.
	src := &mockSource{
		rows: []aggregate.Record{
			{SportType: "Run", DistanceMeters: 5000, MovingTimeSeconds: 1800, StartTime: time.Date(2024, 3, 10, 8, 0, 0, 0, loc)},
		},
		err:             errors.New("database is locked"),
		failOverlapping: time.Date(2023, 2, 1, 0, 0, 0, 0, loc),
	}
	svc := NewService(src, WithClock(fixedClock(now)))

	dash, err := svc.ComputeDashboard(context.Background(), tzBratislava, aggregate.UnitKilometers, false)
	if err != nil {
		t.Fatalf("ComputeDashboard: %v", err)
	}

	broken := dash.Windows[timewindow.YTDPrev]
	if broken.WindowStats != nil {
		t.Error("ytd_prev should carry no stats")
	}
	if !strings.Contains(broken.Error, "database is locked") {
		t.Errorf("ytd_prev error = %q", broken.Error)
	}

	// ytd survives, but loses its deltas with the baseline gone.
	ytd := dash.Windows[timewindow.YTD]
	if ytd.WindowStats == nil || ytd.Error != "" {
		t.Fatalf("ytd should survive: %+v", ytd)
	}
	if ytd.Deltas != nil {
		t.Error("ytd deltas should be absent when baseline failed")
	}

	// Unrelated comparisons are untouched.
	if dash.Windows[timewindow.Last7].Deltas == nil {
		t.Error("last7 should still carry deltas")
	}
}

func TestComputeDashboardRejectsBadTimezone(t *testing.T) {
	svc := NewService(&mockSource{})
	if _, err := svc.ComputeDashboard(context.Background(), "Not/AZone", aggregate.UnitKilometers, false); err == nil {
		t.Error("expected error for unknown timezone")
	}
}
