// Package aggregate computes per-category activity totals and per-day
// cumulative series for a resolved dashboard window.
package aggregate

import (
	"fmt"
	"math"
	"time"

	"github.com/mpelikan/stridedash/internal/timewindow"
)

// Unit is the distance unit totals are reported in.
type Unit string

const (
	UnitKilometers Unit = "km"
	UnitMiles      Unit = "mi"
)

const kmPerMile = 1.609344

// ParseUnit validates a unit identifier from user input.
func ParseUnit(s string) (Unit, error) {
	switch Unit(s) {
	case UnitKilometers:
		return UnitKilometers, nil
	case UnitMiles:
		return UnitMiles, nil
	}
	return "", fmt.Errorf("unknown unit %q (want km or mi)", s)
}

// Record is a single activity row as the engine consumes it. StartTime
// is the absolute instant the activity started, not a wall-clock value.
type Record struct {
	SportType         string
	DistanceMeters    float64
	MovingTimeSeconds int64
	StartTime         time.Time
}

// Totals holds one category's accumulated distance and moving time.
// Distance is in the requested unit, rounded to one decimal place.
type Totals struct {
	Distance    float64 `json:"distance"`
	TimeSeconds int64   `json:"time_s"`
}

// Series holds the per-day cumulative sparkline values, one entry per
// calendar day of the window. Distances are in the requested unit
// rounded to one decimal; total time is in whole minutes.
type Series struct {
	Run          []float64 `json:"run"`
	Ride         []float64 `json:"ride"`
	Swim         []float64 `json:"swim"`
	TotalMinutes []int64   `json:"total_min"`
}

// Result is the aggregate for one window. TotalTimeSeconds is always
// the sum of the three category times, never accumulated separately.
type Result struct {
	Run              Totals `json:"run"`
	Ride             Totals `json:"ride"`
	Swim             Totals `json:"swim"`
	TotalTimeSeconds int64  `json:"total_time_s"`
	Series           Series `json:"series"`

	// Skipped counts malformed rows dropped during accumulation.
	Skipped int `json:"-"`
}

const dayLayout = "2006-01-02"

// Aggregate classifies rows, accumulates per-category totals, and
// builds cumulative daily series for every calendar day of win in loc.
//
// Accumulation happens in raw meters and seconds; unit conversion and
// the one-decimal rounding apply once per emitted value, so rounding
// error never compounds across days. Malformed rows (negative numbers,
// missing sport type) are skipped, never fatal.
func Aggregate(rows []Record, win timewindow.Window, loc *time.Location, unit Unit, includeEbikes bool) Result {
	type acc struct {
		meters  float64
		seconds int64
	}
	var totals [3]acc
	metersByDay := [3]map[string]float64{make(map[string]float64), make(map[string]float64), make(map[string]float64)}
	secondsByDay := make(map[string]int64)

	var res Result
	for _, r := range rows {
		if r.SportType == "" || r.DistanceMeters < 0 || r.MovingTimeSeconds < 0 {
			res.Skipped++
			continue
		}
		cat := Classify(r.SportType, includeEbikes)
		if cat == CategoryExcluded {
			continue
		}
		totals[cat].meters += r.DistanceMeters
		totals[cat].seconds += r.MovingTimeSeconds

		// Day boundaries follow the window's timezone, matching the
		// window resolver; a UTC key here would shift late-evening
		// activities onto the wrong sparkline day.
		day := r.StartTime.In(loc).Format(dayLayout)
		metersByDay[cat][day] += r.DistanceMeters
		secondsByDay[day] += r.MovingTimeSeconds
	}

	res.Run = Totals{Distance: round1(convert(totals[CategoryRun].meters, unit)), TimeSeconds: totals[CategoryRun].seconds}
	res.Ride = Totals{Distance: round1(convert(totals[CategoryRide].meters, unit)), TimeSeconds: totals[CategoryRide].seconds}
	res.Swim = Totals{Distance: round1(convert(totals[CategorySwim].meters, unit)), TimeSeconds: totals[CategorySwim].seconds}
	res.TotalTimeSeconds = res.Run.TimeSeconds + res.Ride.TimeSeconds + res.Swim.TimeSeconds

	days := win.DayStarts(loc)
	res.Series = Series{
		Run:          cumulativeDistance(days, metersByDay[CategoryRun], unit),
		Ride:         cumulativeDistance(days, metersByDay[CategoryRide], unit),
		Swim:         cumulativeDistance(days, metersByDay[CategorySwim], unit),
		TotalMinutes: cumulativeMinutes(days, secondsByDay),
	}
	return res
}

func cumulativeDistance(days []time.Time, metersByDay map[string]float64, unit Unit) []float64 {
	out := make([]float64, len(days))
	var cum float64
	for i, d := range days {
		cum += metersByDay[d.Format(dayLayout)]
		out[i] = round1(convert(cum, unit))
	}
	return out
}

func cumulativeMinutes(days []time.Time, secondsByDay map[string]int64) []int64 {
	out := make([]int64, len(days))
	var cum int64
	for i, d := range days {
		cum += secondsByDay[d.Format(dayLayout)]
		out[i] = int64(math.Round(float64(cum) / 60))
	}
	return out
}

// convert turns meters into the requested display unit.
func convert(meters float64, unit Unit) float64 {
	km := meters / 1000
	if unit == UnitMiles {
		return km / kmPerMile
	}
	return km
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
