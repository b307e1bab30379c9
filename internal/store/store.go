// Package store persists activities and auth credentials in SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/mpelikan/stridedash/internal/aggregate"
	"github.com/mpelikan/stridedash/internal/logging"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Activity is a normalized activity row. ID is the Strava activity ID
// for synced rows; FIT imports derive one from the session start time,
// so (Source, ID) is the unique key.
type Activity struct {
	ID                int64
	Source            string
	Name              string
	SportType         string
	DistanceMeters    float64
	MovingTimeSeconds int64
	ElapsedTimeSecs   int64
	ElevationGain     float64
	StartDate         time.Time
}

// Activity sources.
const (
	SourceStrava = "strava"
	SourceFIT    = "fit"
)

// SportSummary is a per-sport rollup for a date range.
type SportSummary struct {
	SportType   string  `json:"sport_type"`
	Count       int64   `json:"count"`
	Meters      float64 `json:"distance_m"`
	TimeSeconds int64   `json:"time_s"`
}

// AuthConfig is the single-row OAuth state.
type AuthConfig struct {
	ClientID     string
	ClientSecret string
	AccessToken  sql.NullString
	RefreshToken sql.NullString
	ExpiresAt    sql.NullInt64
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and configures
// it for concurrent access. WAL mode allows readers alongside the sync
// writer; the pool is capped at one connection since SQLite serializes
// writes anyway.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configuring database (%s): %w", pragma, err)
		}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logging.Debug("database configured", "path", path, "journal_mode", "WAL")
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	dir, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("opening embedded migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, dir)
	if err != nil {
		return fmt.Errorf("creating goose provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	for _, r := range results {
		logging.Debug("migration applied", "version", r.Source.Version, "path", r.Source.Path)
	}
	return nil
}

// UpsertActivity inserts or refreshes one activity row. Re-synced
// activities overwrite their previous values, so edits on Strava
// (renames, sport-type corrections) converge on the next sync.
func (s *Store) UpsertActivity(ctx context.Context, a Activity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activities (id, source, name, sport_type, distance_m, moving_time_s, elapsed_time_s, elevation_gain_m, start_date, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, unixepoch())
		ON CONFLICT (source, id) DO UPDATE SET
			name = excluded.name,
			sport_type = excluded.sport_type,
			distance_m = excluded.distance_m,
			moving_time_s = excluded.moving_time_s,
			elapsed_time_s = excluded.elapsed_time_s,
			elevation_gain_m = excluded.elevation_gain_m,
			start_date = excluded.start_date,
			updated_at = unixepoch()`,
		a.ID, a.Source, a.Name, a.SportType, a.DistanceMeters, a.MovingTimeSeconds,
		a.ElapsedTimeSecs, a.ElevationGain, a.StartDate.Unix())
	if err != nil {
		return fmt.Errorf("upserting activity %d: %w", a.ID, err)
	}
	return nil
}

// ActivitiesInRange returns rows whose start instant falls in the
// half-open range [start, end), in the shape the aggregator consumes.
func (s *Store) ActivitiesInRange(ctx context.Context, start, end time.Time) ([]aggregate.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sport_type, distance_m, moving_time_s, start_date
		FROM activities
		WHERE start_date >= ? AND start_date < ?
		ORDER BY start_date`,
		start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("querying activities: %w", err)
	}
	defer rows.Close()

	var out []aggregate.Record
	for rows.Next() {
		var r aggregate.Record
		var startUnix int64
		if err := rows.Scan(&r.SportType, &r.DistanceMeters, &r.MovingTimeSeconds, &startUnix); err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		r.StartTime = time.Unix(startUnix, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// SportSummariesInRange groups activities by raw sport type for the
// half-open range [start, end).
func (s *Store) SportSummariesInRange(ctx context.Context, start, end time.Time) ([]SportSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sport_type, COUNT(*), COALESCE(SUM(distance_m), 0), COALESCE(SUM(moving_time_s), 0)
		FROM activities
		WHERE start_date >= ? AND start_date < ?
		GROUP BY sport_type
		ORDER BY sport_type`,
		start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("querying sport summaries: %w", err)
	}
	defer rows.Close()

	var out []SportSummary
	for rows.Next() {
		var ss SportSummary
		if err := rows.Scan(&ss.SportType, &ss.Count, &ss.Meters, &ss.TimeSeconds); err != nil {
			return nil, fmt.Errorf("scanning sport summary: %w", err)
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

// CountActivities returns the total number of stored activities.
func (s *Store) CountActivities(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting activities: %w", err)
	}
	return n, nil
}

// LatestStartDate returns the most recent activity start instant, or
// ok=false when the table is empty. Delta syncs resume from here.
func (s *Store) LatestStartDate(ctx context.Context) (time.Time, bool, error) {
	var unix sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(start_date) FROM activities`).Scan(&unix); err != nil {
		return time.Time{}, false, fmt.Errorf("querying latest start date: %w", err)
	}
	if !unix.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(unix.Int64, 0).UTC(), true, nil
}

// SaveAuthConfig stores client credentials, preserving any tokens the
// row already holds.
func (s *Store) SaveAuthConfig(ctx context.Context, clientID, clientSecret string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_config (id, client_id, client_secret, updated_at)
		VALUES (1, ?, ?, unixepoch())
		ON CONFLICT (id) DO UPDATE SET
			client_id = excluded.client_id,
			client_secret = excluded.client_secret,
			updated_at = unixepoch()`,
		clientID, clientSecret)
	if err != nil {
		return fmt.Errorf("saving auth config: %w", err)
	}
	return nil
}

// UpdateTokens replaces the stored OAuth tokens. Returns
// sql.ErrNoRows if no config row exists yet.
func (s *Store) UpdateTokens(ctx context.Context, accessToken, refreshToken string, expiresAt int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE auth_config
		SET access_token = ?, refresh_token = ?, expires_at = ?, updated_at = unixepoch()
		WHERE id = 1`,
		accessToken, refreshToken, expiresAt)
	if err != nil {
		return fmt.Errorf("updating tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating tokens: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetAuthConfig loads the single auth row. Returns sql.ErrNoRows when
// credentials have never been saved.
func (s *Store) GetAuthConfig(ctx context.Context) (AuthConfig, error) {
	var cfg AuthConfig
	err := s.db.QueryRowContext(ctx, `
		SELECT client_id, client_secret, access_token, refresh_token, expires_at
		FROM auth_config WHERE id = 1`).
		Scan(&cfg.ClientID, &cfg.ClientSecret, &cfg.AccessToken, &cfg.RefreshToken, &cfg.ExpiresAt)
	if err != nil {
		return AuthConfig{}, err
	}
	return cfg, nil
}

// DeleteAuthConfig removes stored credentials and tokens.
func (s *Store) DeleteAuthConfig(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM auth_config`); err != nil {
		return fmt.Errorf("deleting auth config: %w", err)
	}
	return nil
}
