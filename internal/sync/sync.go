// Package sync pulls activities from Strava into the local store.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/mpelikan/stridedash/internal/logging"
	"github.com/mpelikan/stridedash/internal/observability"
	"github.com/mpelikan/stridedash/internal/store"
	"github.com/mpelikan/stridedash/internal/strava"
)

// FetchProgressCallback is called after each API page is fetched.
type FetchProgressCallback func(result strava.FetchResult)

// SaveProgressCallback is called after each activity is saved.
type SaveProgressCallback func(current, total int, activityName string)

// Service syncs activities from Strava to the database.
type Service struct {
	store  *store.Store
	client *strava.Client
}

// NewService creates a sync service.
func NewService(s *store.Store, client *strava.Client) *Service {
	return &Service{
		store:  s,
		client: client,
	}
}

// SyncAll fetches the athlete's entire history and upserts every
// activity. Returns the number of activities written.
func (s *Service) SyncAll(ctx context.Context, fetchProgress FetchProgressCallback, saveProgress SaveProgressCallback) (int, error) {
	activities, err := s.client.FetchAllActivities(ctx, strava.ProgressCallback(fetchProgress))
	if err != nil {
		observability.RecordSyncRun(err)
		return 0, fmt.Errorf("fetching activities: %w", err)
	}

	n, err := s.saveAll(ctx, activities, saveProgress)
	observability.RecordSyncRun(err)
	return n, err
}

// SyncDelta fetches only activities newer than since and upserts them.
func (s *Service) SyncDelta(ctx context.Context, since time.Time, fetchProgress FetchProgressCallback, saveProgress SaveProgressCallback) (int, error) {
	activities, err := s.client.FetchActivitiesSince(ctx, since, strava.ProgressCallback(fetchProgress))
	if err != nil {
		observability.RecordSyncRun(err)
		return 0, fmt.Errorf("fetching activities: %w", err)
	}

	n, err := s.saveAll(ctx, activities, saveProgress)
	observability.RecordSyncRun(err)
	return n, err
}

func (s *Service) saveAll(ctx context.Context, activities []strava.Activity, saveProgress SaveProgressCallback) (int, error) {
	var newest time.Time
	for i, activity := range activities {
		if err := s.store.UpsertActivity(ctx, ConvertActivity(activity)); err != nil {
			observability.RecordActivitiesUpserted(store.SourceStrava, i)
			return i, fmt.Errorf("saving activity %d (%s): %w", activity.ID, activity.Name, err)
		}
		if activity.StartDate.After(newest) {
			newest = activity.StartDate
		}
		if saveProgress != nil {
			saveProgress(i+1, len(activities), activity.Name)
		}
	}

	observability.RecordActivitiesUpserted(store.SourceStrava, len(activities))
	observability.RecordLastActivity(newest)
	if len(activities) > 0 {
		logging.Info("sync saved activities", "count", len(activities), "newest", newest.Format(time.RFC3339))
	}
	return len(activities), nil
}

// ConvertActivity maps an API activity to a store row. Very old
// activities sometimes arrive without sport_type; the legacy type
// field fills the gap so they still classify.
func ConvertActivity(a strava.Activity) store.Activity {
	sportType := a.SportType
	if sportType == "" {
		sportType = a.Type
	}
	return store.Activity{
		ID:                a.ID,
		Source:            store.SourceStrava,
		Name:              a.Name,
		SportType:         sportType,
		DistanceMeters:    a.Distance,
		MovingTimeSeconds: int64(a.MovingTime),
		ElapsedTimeSecs:   int64(a.ElapsedTime),
		ElevationGain:     a.TotalElevationGain,
		StartDate:         a.StartDate,
	}
}
