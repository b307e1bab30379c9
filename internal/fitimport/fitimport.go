// Package fitimport loads activities from local FIT files, for rides
// and runs that never reached Strava.
package fitimport

import (
	"context"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/tormoder/fit"

	"github.com/mpelikan/stridedash/internal/logging"
	"github.com/mpelikan/stridedash/internal/observability"
	"github.com/mpelikan/stridedash/internal/store"
)

// Importer reads FIT files into the store.
type Importer struct {
	store *store.Store
}

// NewImporter creates an importer backed by the given store.
func NewImporter(s *store.Store) *Importer {
	return &Importer{store: s}
}

// ImportDir walks dir for .fit files and upserts one activity per
// file. Files that fail to decode are logged and skipped so a single
// corrupt export never aborts the import. Returns the number imported.
func (im *Importer) ImportDir(ctx context.Context, dir string) (int, error) {
	var imported int
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".fit") {
			return nil
		}

		activity, err := ReadFile(path)
		if err != nil {
			logging.Warn("skipping FIT file", "path", path, "error", err)
			return nil
		}
		if err := im.store.UpsertActivity(ctx, activity); err != nil {
			return fmt.Errorf("saving %s: %w", path, err)
		}
		imported++
		return nil
	})
	if err != nil {
		return imported, fmt.Errorf("importing FIT directory %s: %w", dir, err)
	}

	observability.RecordActivitiesUpserted(store.SourceFIT, imported)
	logging.Info("FIT import finished", "dir", dir, "imported", imported)
	return imported, nil
}

// ReadFile decodes one FIT activity file into a store row. The row ID
// is the session start time as unix seconds; FIT files carry no
// portable activity ID, and re-importing the same file must converge
// on the same row.
func ReadFile(path string) (store.Activity, error) {
	f, err := os.Open(path)
	if err != nil {
		return store.Activity{}, fmt.Errorf("opening FIT file: %w", err)
	}
	defer f.Close()

	decoded, err := fit.Decode(f)
	if err != nil {
		return store.Activity{}, fmt.Errorf("decoding FIT file: %w", err)
	}
	activity, err := decoded.Activity()
	if err != nil {
		return store.Activity{}, fmt.Errorf("activity FIT expected: %w", err)
	}
	if len(activity.Sessions) == 0 {
		return store.Activity{}, fmt.Errorf("activity file has no session message")
	}
	session := activity.Sessions[0]

	start := session.StartTime
	if start.IsZero() || fit.IsBaseTime(start) {
		return store.Activity{}, fmt.Errorf("session has no start time")
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return store.Activity{
		ID:                start.Unix(),
		Source:            store.SourceFIT,
		Name:              name,
		SportType:         MapSport(session.Sport, session.SubSport),
		DistanceMeters:    safePositive(session.GetTotalDistanceScaled()),
		MovingTimeSeconds: int64(safePositive(session.GetTotalMovingTimeScaled())),
		ElapsedTimeSecs:   int64(safePositive(session.GetTotalElapsedTimeScaled())),
		ElevationGain:     float64(validUint16(session.TotalAscent)),
		StartDate:         start.UTC(),
	}, nil
}

// MapSport translates a FIT sport/sub-sport pair into the Strava
// sport-type vocabulary the aggregator classifies.
func MapSport(sport fit.Sport, subSport fit.SubSport) string {
	switch sport {
	case fit.SportRunning:
		switch subSport {
		case fit.SubSportTrail:
			return "TrailRun"
		case fit.SubSportTreadmill, fit.SubSportVirtualActivity:
			return "VirtualRun"
		}
		return "Run"
	case fit.SportCycling:
		switch subSport {
		case fit.SubSportGravelCycling:
			return "GravelRide"
		case fit.SubSportVirtualActivity:
			return "VirtualRide"
		case fit.SubSportEBikeFitness:
			return "EBikeRide"
		}
		return "Ride"
	case fit.SportEBiking:
		return "EBikeRide"
	case fit.SportSwimming:
		return "Swim"
	}
	return fmt.Sprint(sport)
}

func validUint16(v uint16) uint16 {
	if v == math.MaxUint16 {
		return 0
	}
	return v
}

func safePositive(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0
	}
	return v
}
