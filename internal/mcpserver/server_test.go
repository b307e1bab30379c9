package mcpserver

import (
	"context"
	"testing"
	"time"

	"github.com/mpelikan/stridedash/internal/aggregate"
	"github.com/mpelikan/stridedash/internal/stats"
)

type staticSource struct {
	rows []aggregate.Record
}

func (s *staticSource) ActivitiesInRange(_ context.Context, start, end time.Time) ([]aggregate.Record, error) {
	var out []aggregate.Record
	for _, r := range s.rows {
		if !r.StartTime.Before(start) && r.StartTime.Before(end) {
			out = append(out, r)
		}
	}
	return out, nil
}

func testServer(rows []aggregate.Record) *Server {
	svc := stats.NewService(&staticSource{rows: rows})
	return New(svc, Defaults{
		Timezone: "Europe/Bratislava",
		Units:    aggregate.UnitKilometers,
	})
}

func TestResolveParams(t *testing.T) {
	s := testServer(nil)

	tz, unit, ebikes, err := s.resolveParams("", "", nil)
	if err != nil {
		t.Fatalf("resolveParams: %v", err)
	}
	if tz != "Europe/Bratislava" || unit != aggregate.UnitKilometers || ebikes {
		t.Errorf("defaults = %s, %s, %v", tz, unit, ebikes)
	}

	on := true
	tz, unit, ebikes, err = s.resolveParams("UTC", "mi", &on)
	if err != nil {
		t.Fatalf("resolveParams: %v", err)
	}
	if tz != "UTC" || unit != aggregate.UnitMiles || !ebikes {
		t.Errorf("overrides = %s, %s, %v", tz, unit, ebikes)
	}

	if _, _, _, err := s.resolveParams("", "leagues", nil); err == nil {
		t.Error("expected error for unknown unit")
	}
}

func TestResolveWindowTool(t *testing.T) {
	s := testServer(nil)

	_, out, err := s.resolveWindow(context.Background(), nil, ResolveWindowInput{Period: "last7"})
	if err != nil {
		t.Fatalf("resolveWindow: %v", err)
	}
	if out.Period != "last7" || out.Days != 8 {
		t.Errorf("output = %+v", out)
	}
	if out.ComparedTo != "last7_prev" {
		t.Errorf("compared_to = %q", out.ComparedTo)
	}

	if _, _, err := s.resolveWindow(context.Background(), nil, ResolveWindowInput{Period: "decade"}); err == nil {
		t.Error("expected error for unknown period")
	}
}

func TestGetWindowStatsTool(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Bratislava")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now().In(loc)
	rows := []aggregate.Record{
		{SportType: "Run", DistanceMeters: 5000, MovingTimeSeconds: 1800, StartTime: now.Add(-time.Hour)},
	}
	s := testServer(rows)

	_, ws, err := s.getWindowStats(context.Background(), nil, WindowStatsInput{Period: "last7"})
	if err != nil {
		t.Fatalf("getWindowStats: %v", err)
	}
	if ws.Period != "last7" {
		t.Errorf("period = %s", ws.Period)
	}
	if ws.Run.Distance != 5.0 {
		t.Errorf("run distance = %v, want 5.0", ws.Run.Distance)
	}

	if _, _, err := s.getWindowStats(context.Background(), nil, WindowStatsInput{Period: "last7", Units: "furlongs"}); err == nil {
		t.Error("expected error for unknown unit")
	}
}

func TestGetDashboardTotalsTool(t *testing.T) {
	s := testServer(nil)

	_, dash, err := s.getDashboardTotals(context.Background(), nil, DashboardTotalsInput{})
	if err != nil {
		t.Fatalf("getDashboardTotals: %v", err)
	}
	if dash.Timezone != "Europe/Bratislava" || len(dash.Windows) != 7 {
		t.Errorf("dashboard = tz %s, %d windows", dash.Timezone, len(dash.Windows))
	}
}
