// Package workers runs the background loops: token refresh and
// scheduled activity syncs.
package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mpelikan/stridedash/internal/auth"
	"github.com/mpelikan/stridedash/internal/logging"
	"github.com/mpelikan/stridedash/internal/store"
	"github.com/mpelikan/stridedash/internal/strava"
	syncsvc "github.com/mpelikan/stridedash/internal/sync"
)

// TokenRefresher keeps auth tokens up to date.
type TokenRefresher struct {
	storage  *auth.Storage
	interval time.Duration
}

// NewTokenRefresher creates a token refresh worker.
func NewTokenRefresher(storage *auth.Storage, interval time.Duration) *TokenRefresher {
	return &TokenRefresher{
		storage:  storage,
		interval: interval,
	}
}

// Run checks token validity on the configured interval until the
// context is cancelled.
func (t *TokenRefresher) Run(ctx context.Context) {
	log := logging.Logger
	log.Info().Dur("interval", t.interval).Msg("token refresher started")

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.checkAndRefresh()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("token refresher stopped")
			return
		case <-ticker.C:
			t.checkAndRefresh()
		}
	}
}

func (t *TokenRefresher) checkAndRefresh() {
	log := logging.Logger
	log.Debug().Msg("checking token validity")

	tokens, err := t.storage.LoadTokens()
	if err != nil {
		log.Error().Err(err).Msg("failed to load tokens for refresh check")
		return
	}

	// Refresh if the token expires within 10 minutes.
	timeUntilExpiry := time.Until(time.Unix(tokens.ExpiresAt, 0))
	if timeUntilExpiry >= 10*time.Minute {
		log.Debug().Dur("expires_in", timeUntilExpiry.Round(time.Second)).Msg("token still valid")
		return
	}

	log.Info().Dur("expires_in", timeUntilExpiry).Msg("token expiring soon, refreshing")

	clientConfig, err := t.storage.LoadClientConfig()
	if err != nil {
		log.Error().Err(err).Msg("failed to load client config for refresh")
		return
	}

	newTokens, err := auth.RefreshAccessToken(clientConfig.ClientID, clientConfig.ClientSecret, tokens.RefreshToken)
	if err != nil {
		log.Error().Err(err).Msg("failed to refresh token")
		return
	}

	if err := t.storage.SaveTokens(newTokens); err != nil {
		log.Error().Err(err).Msg("failed to save refreshed tokens")
		return
	}

	log.Info().
		Str("new_expires_at", time.Unix(newTokens.ExpiresAt, 0).Format(time.RFC3339)).
		Msg("token refreshed successfully")
}

// ActivitySyncer syncs activities from Strava on a cron schedule.
type ActivitySyncer struct {
	store       *store.Store
	storage     *auth.Storage
	cronSpec    string
	retryConfig strava.RetryConfig
}

// NewActivitySyncer creates a scheduled sync worker. cronSpec is a
// standard five-field cron expression.
func NewActivitySyncer(st *store.Store, storage *auth.Storage, cronSpec string, retryConfig strava.RetryConfig) *ActivitySyncer {
	return &ActivitySyncer{
		store:       st,
		storage:     storage,
		cronSpec:    cronSpec,
		retryConfig: retryConfig,
	}
}

// Run schedules syncs until the context is cancelled.
func (a *ActivitySyncer) Run(ctx context.Context) error {
	log := logging.Logger

	c := cron.New()
	if _, err := c.AddFunc(a.cronSpec, func() { a.syncActivities(ctx) }); err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", a.cronSpec, err)
	}

	log.Info().Str("schedule", a.cronSpec).Msg("activity syncer started")
	c.Start()

	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
	log.Info().Msg("activity syncer stopped")
	return nil
}

func (a *ActivitySyncer) syncActivities(ctx context.Context) {
	log := logging.Logger
	log.Info().Msg("starting activity sync")

	accessToken, err := a.storage.GetValidAccessToken()
	if err != nil {
		log.Error().Err(err).Msg("failed to get access token for sync")
		return
	}

	client := strava.NewClient(accessToken, a.retryConfig)

	// A previous run may have left us near the limit.
	if err := client.WaitForRateLimit(ctx); err != nil {
		log.Info().Err(err).Msg("activity sync cancelled while waiting for rate limit")
		return
	}

	if err := runSync(ctx, a.store, client); err != nil {
		log.Error().Err(err).Msg("activity sync failed")
	}
}

// SyncOnce performs a single sync, used on startup and for manual
// sync requests from the API.
func SyncOnce(ctx context.Context, st *store.Store, storage *auth.Storage, retryConfig strava.RetryConfig) error {
	accessToken, err := storage.GetValidAccessToken()
	if err != nil {
		return fmt.Errorf("getting access token: %w", err)
	}
	return runSync(ctx, st, strava.NewClient(accessToken, retryConfig))
}

func runSync(ctx context.Context, st *store.Store, client *strava.Client) error {
	log := logging.Logger
	service := syncsvc.NewService(st, client)

	progress := func(result strava.FetchResult) {
		rl := result.RateLimit
		logEvent := log.Debug()
		if rl.IsRateLimited {
			logEvent = log.Info()
		}
		logEvent.
			Int("page", result.Page).
			Int("activities_on_page", len(result.Activities)).
			Int("total_fetched", result.TotalFetched).
			Str("15min_usage", fmt.Sprintf("%d/%d", rl.Usage15Min, rl.Limit15Min)).
			Str("daily_usage", fmt.Sprintf("%d/%d", rl.UsageDaily, rl.LimitDaily)).
			Msg("activity sync progress")
	}

	latest, ok, err := st.LatestStartDate(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to get latest activity date, doing full sync")
		ok = false
	}

	var saved int
	if ok {
		log.Info().Str("since", latest.Format(time.RFC3339)).Msg("performing delta sync")
		saved, err = service.SyncDelta(ctx, latest, progress, nil)
	} else {
		log.Info().Msg("performing full sync (no existing activities)")
		saved, err = service.SyncAll(ctx, progress, nil)
	}
	if err != nil {
		return err
	}

	rl := client.GetRateLimit()
	log.Info().
		Int("saved", saved).
		Str("15min_usage", fmt.Sprintf("%d/%d", rl.Usage15Min, rl.Limit15Min)).
		Str("daily_usage", fmt.Sprintf("%d/%d", rl.UsageDaily, rl.LimitDaily)).
		Msg("activity sync completed")
	return nil
}

// LogDatabaseStats logs current database statistics.
func LogDatabaseStats(ctx context.Context, st *store.Store) {
	log := logging.Logger

	count, err := st.CountActivities(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to count activities")
		return
	}
	if count == 0 {
		log.Info().Int64("total_activities", 0).Msg("database statistics")
		return
	}

	newest := "unknown"
	if latest, ok, err := st.LatestStartDate(ctx); err == nil && ok {
		newest = latest.Format(time.RFC3339)
	}

	log.Info().
		Int64("total_activities", count).
		Str("newest_activity", newest).
		Msg("database statistics")
}
