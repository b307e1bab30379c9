package timewindow

import (
	"testing"
	"time"
)

const tzBratislava = "Europe/Bratislava"

func mustLoc(t *testing.T, tz string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(tz)
	if err != nil {
		t.Fatalf("loading %s: %v", tz, err)
	}
	return loc
}

func TestResolveLast7(t *testing.T) {
	loc := mustLoc(t, tzBratislava)
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, loc)

	win, err := Resolve(Last7, tzBratislava, now)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	wantStart := time.Date(2024, 3, 8, 0, 0, 0, 0, loc)
	wantEnd := time.Date(2024, 3, 16, 0, 0, 0, 0, loc)
	if !win.Start.Equal(wantStart) {
		t.Errorf("start = %v, want %v", win.Start, wantStart)
	}
	if !win.End.Equal(wantEnd) {
		t.Errorf("end = %v, want %v", win.End, wantEnd)
	}
	if days := win.Days(loc); days != 8 {
		t.Errorf("Days = %d, want 8 (7 fully elapsed plus today)", days)
	}
}

func TestResolveEndIsTomorrowMidnight(t *testing.T) {
	// Every "current" period extends through today inclusive.
	zones := []string{tzBratislava, "America/New_York", "Asia/Kolkata", "UTC"}
	for _, tz := range zones {
		loc := mustLoc(t, tz)
		now := time.Date(2024, 7, 4, 18, 30, 0, 0, loc)
		wantEnd := time.Date(2024, 7, 5, 0, 0, 0, 0, loc)

		for _, p := range []Period{Last7, MonthToDate, YTD} {
			win, err := Resolve(p, tz, now)
			if err != nil {
				t.Fatalf("Resolve(%s, %s): %v", p, tz, err)
			}
			if !win.End.Equal(wantEnd) {
				t.Errorf("%s in %s: end = %v, want %v", p, tz, win.End, wantEnd)
			}
		}
	}
}

func TestResolveLast7Prev(t *testing.T) {
	loc := mustLoc(t, tzBratislava)
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, loc)

	win, err := Resolve(Last7Prev, tzBratislava, now)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !win.Start.Equal(time.Date(2024, 3, 8, 0, 0, 0, 0, loc)) {
		t.Errorf("start = %v", win.Start)
	}
	if !win.End.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, loc)) {
		t.Errorf("end = %v, want today's midnight (today excluded)", win.End)
	}
	if days := win.Days(loc); days != 7 {
		t.Errorf("Days = %d, want 7", days)
	}
}

func TestResolveMonthWindows(t *testing.T) {
	loc := mustLoc(t, tzBratislava)
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, loc)

	mtd, err := Resolve(MonthToDate, tzBratislava, now)
	if err != nil {
		t.Fatalf("Resolve(mtd): %v", err)
	}
	if !mtd.Start.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, loc)) {
		t.Errorf("mtd start = %v", mtd.Start)
	}

	prev, err := Resolve(PrevMonth, tzBratislava, now)
	if err != nil {
		t.Fatalf("Resolve(prev_month): %v", err)
	}
	if !prev.Start.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, loc)) {
		t.Errorf("prev_month start = %v", prev.Start)
	}
	if !prev.End.Equal(mtd.Start) {
		t.Errorf("prev_month end = %v, want mtd start %v", prev.End, mtd.Start)
	}
	// 2024 is a leap year.
	if days := prev.Days(loc); days != 29 {
		t.Errorf("prev_month Days = %d, want 29", days)
	}

	prev2, err := Resolve(PrevMonthMinus1, tzBratislava, now)
	if err != nil {
		t.Fatalf("Resolve(prev_month_minus_1): %v", err)
	}
	if !prev2.Start.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, loc)) {
		t.Errorf("prev_month_minus_1 start = %v", prev2.Start)
	}
	if !prev2.End.Equal(prev.Start) {
		t.Errorf("prev_month_minus_1 end = %v, want prev_month start", prev2.End)
	}
}

func TestPrevMonthDisjointFromMonthToDate(t *testing.T) {
	loc := mustLoc(t, tzBratislava)
	for _, now := range []time.Time{
		time.Date(2024, 3, 1, 0, 30, 0, 0, loc),
		time.Date(2024, 3, 15, 10, 0, 0, 0, loc),
		time.Date(2024, 12, 31, 23, 59, 0, 0, loc),
	} {
		mtd, _ := Resolve(MonthToDate, tzBratislava, now)
		prev, _ := Resolve(PrevMonth, tzBratislava, now)
		if prev.End.After(mtd.Start) {
			t.Errorf("now=%v: prev_month [%v,%v) overlaps month_to_date [%v,%v)",
				now, prev.Start, prev.End, mtd.Start, mtd.End)
		}
	}
}

func TestResolveYTDPrevMatchesElapsedDuration(t *testing.T) {
	loc := mustLoc(t, tzBratislava)
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, loc)

	ytd, err := Resolve(YTD, tzBratislava, now)
	if err != nil {
		t.Fatalf("Resolve(ytd): %v", err)
	}
	if !ytd.Start.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, loc)) {
		t.Errorf("ytd start = %v", ytd.Start)
	}

	prev, err := Resolve(YTDPrev, tzBratislava, now)
	if err != nil {
		t.Fatalf("Resolve(ytd_prev): %v", err)
	}
	if !prev.Start.Equal(time.Date(2023, 1, 1, 0, 0, 0, 0, loc)) {
		t.Errorf("ytd_prev start = %v", prev.Start)
	}
	if got, want := prev.End.Sub(prev.Start), ytd.End.Sub(ytd.Start); got != want {
		t.Errorf("ytd_prev duration = %v, want %v", got, want)
	}
	// 75 elapsed days into leap-year 2024 lands on Mar 17 in 2023.
	if !prev.End.Equal(time.Date(2023, 3, 17, 0, 0, 0, 0, loc)) {
		t.Errorf("ytd_prev end = %v", prev.End)
	}
}

func TestResolveAcrossDSTTransition(t *testing.T) {
	// Central Europe springs forward on 2024-03-31 at 02:00. The
	// last7 window spanning that morning keeps calendar-day
	// boundaries even though one day is only 23 hours long.
	loc := mustLoc(t, tzBratislava)
	now := time.Date(2024, 3, 31, 12, 0, 0, 0, loc)

	win, err := Resolve(Last7, tzBratislava, now)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !win.Start.Equal(time.Date(2024, 3, 24, 0, 0, 0, 0, loc)) {
		t.Errorf("start = %v", win.Start)
	}
	if !win.End.Equal(time.Date(2024, 4, 1, 0, 0, 0, 0, loc)) {
		t.Errorf("end = %v", win.End)
	}
	if days := win.Days(loc); days != 8 {
		t.Errorf("Days = %d, want 8", days)
	}
	if elapsed := win.End.Sub(win.Start); elapsed != 8*24*time.Hour-time.Hour {
		t.Errorf("elapsed = %v, want %v (one 23-hour day)", elapsed, 8*24*time.Hour-time.Hour)
	}
}

func TestResolveRejectsBadInput(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

	if _, err := Resolve("last30", tzBratislava, now); err == nil {
		t.Error("expected error for unknown period")
	}
	if _, err := Resolve(Last7, "Mars/Olympus_Mons", now); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func TestParsePeriod(t *testing.T) {
	for _, p := range Periods() {
		got, err := ParsePeriod(string(p))
		if err != nil || got != p {
			t.Errorf("ParsePeriod(%q) = %v, %v", p, got, err)
		}
	}
	if _, err := ParsePeriod("all_time"); err == nil {
		t.Error("expected error for unknown period string")
	}
}

func TestComparison(t *testing.T) {
	tests := []struct {
		period   Period
		baseline Period
		ok       bool
	}{
		{Last7, Last7Prev, true},
		{MonthToDate, PrevMonth, true},
		{PrevMonth, PrevMonthMinus1, true},
		{YTD, YTDPrev, true},
		{Last7Prev, "", false},
		{PrevMonthMinus1, "", false},
		{YTDPrev, "", false},
	}
	for _, tt := range tests {
		baseline, ok := Comparison(tt.period)
		if baseline != tt.baseline || ok != tt.ok {
			t.Errorf("Comparison(%s) = %v, %v; want %v, %v", tt.period, baseline, ok, tt.baseline, tt.ok)
		}
	}
}

func TestWindowContains(t *testing.T) {
	loc := mustLoc(t, tzBratislava)
	win := Window{
		Start: time.Date(2024, 3, 8, 0, 0, 0, 0, loc),
		End:   time.Date(2024, 3, 16, 0, 0, 0, 0, loc),
	}
	if !win.Contains(win.Start) {
		t.Error("start should be inclusive")
	}
	if win.Contains(win.End) {
		t.Error("end should be exclusive")
	}
	if !win.Contains(time.Date(2024, 3, 15, 23, 59, 59, 0, loc)) {
		t.Error("instant just before end should be contained")
	}
}

func TestDayStartsAtDSTGap(t *testing.T) {
	loc := mustLoc(t, tzBratislava)
	win := Window{
		Start: time.Date(2024, 3, 30, 0, 0, 0, 0, loc),
		End:   time.Date(2024, 4, 1, 0, 0, 0, 0, loc),
	}
	days := win.DayStarts(loc)
	if len(days) != 2 {
		t.Fatalf("got %d day starts, want 2", len(days))
	}
	if !days[1].Equal(time.Date(2024, 3, 31, 0, 0, 0, 0, loc)) {
		t.Errorf("second day start = %v", days[1])
	}
}
