package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/mpelikan/stridedash/internal/aggregate"
	"github.com/mpelikan/stridedash/internal/auth"
	"github.com/mpelikan/stridedash/internal/fitimport"
	"github.com/mpelikan/stridedash/internal/logging"
	"github.com/mpelikan/stridedash/internal/mcpserver"
	"github.com/mpelikan/stridedash/internal/server"
	"github.com/mpelikan/stridedash/internal/stats"
	"github.com/mpelikan/stridedash/internal/store"
	"github.com/mpelikan/stridedash/internal/strava"
	"github.com/mpelikan/stridedash/internal/workers"
)

// RuntimeConfig holds all runtime configuration from CLI flags.
type RuntimeConfig struct {
	DBPath               string
	ListenAddr           string
	Timezone             string
	Units                string
	IncludeEbikes        bool
	SyncCron             string
	TokenRefreshInterval time.Duration
	NoSync               bool
	ForceReauth          bool
	FITDir               string
	MCPMode              bool
}

// Run is the main entry point for the unified run mode.
func Run(cfg *RuntimeConfig) error {
	log := logging.Logger

	// Credentials may come from a .env file next to the binary.
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("loaded .env file")
	}

	unit, err := aggregate.ParseUnit(cfg.Units)
	if err != nil {
		return err
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("loading timezone %q: %w", cfg.Timezone, err)
	}

	log.Info().
		Str("db_path", cfg.DBPath).
		Str("listen", cfg.ListenAddr).
		Str("timezone", cfg.Timezone).
		Str("units", string(unit)).
		Bool("no_sync", cfg.NoSync).
		Bool("mcp", cfg.MCPMode).
		Str("sync_cron", cfg.SyncCron).
		Dur("token_refresh_interval", cfg.TokenRefreshInterval).
		Msg("starting stridedash")

	// Set up context for shutdown handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	log.Info().Str("path", cfg.DBPath).Msg("opening database")
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	if cfg.FITDir != "" {
		imported, err := fitimport.NewImporter(st).ImportDir(ctx, cfg.FITDir)
		if err != nil {
			return fmt.Errorf("importing FIT directory: %w", err)
		}
		log.Info().Str("dir", cfg.FITDir).Int("imported", imported).Msg("FIT import completed")
	}

	workers.LogDatabaseStats(ctx, st)

	// Start background workers with errgroup for graceful shutdown
	g, gCtx := errgroup.WithContext(ctx)

	var syncFn server.SyncFunc
	if !cfg.NoSync {
		storage := auth.NewStorage(st)

		if err := ensureAuthenticated(ctx, storage, cfg); err != nil {
			return fmt.Errorf("authentication: %w", err)
		}

		// Rate limiting is handled by waiting for window resets.
		retryConfig := strava.DefaultRetryConfig()

		if err := workers.SyncOnce(ctx, st, storage, retryConfig); err != nil {
			log.Warn().Err(err).Msg("initial sync failed")
			// Continue anyway - the scheduled worker will retry
		}

		workers.LogDatabaseStats(ctx, st)

		log.Info().Msg("starting background workers")

		tokenRefresher := workers.NewTokenRefresher(storage, cfg.TokenRefreshInterval)
		g.Go(func() error {
			tokenRefresher.Run(gCtx)
			return nil
		})

		activitySyncer := workers.NewActivitySyncer(st, storage, cfg.SyncCron, retryConfig)
		g.Go(func() error {
			return activitySyncer.Run(gCtx)
		})

		syncFn = func(ctx context.Context) error {
			return workers.SyncOnce(ctx, st, storage, retryConfig)
		}
	} else {
		log.Info().Msg("running in offline mode (--no-sync), skipping Strava API sync")
	}

	statsService := stats.NewService(st)

	var serverErr error
	if cfg.MCPMode {
		srv := mcpserver.New(statsService, mcpserver.Defaults{
			Timezone:      cfg.Timezone,
			Units:         unit,
			IncludeEbikes: cfg.IncludeEbikes,
		})
		serverErr = srv.Run(ctx)
	} else {
		handler := server.NewHandler(statsService, st, syncFn, server.Defaults{
			Timezone:      cfg.Timezone,
			Units:         unit,
			IncludeEbikes: cfg.IncludeEbikes,
		})
		serverErr = handler.Run(ctx, cfg.ListenAddr)
	}

	if !cfg.NoSync {
		log.Info().Msg("waiting for workers to shut down")
		cancel()
		if err := g.Wait(); err != nil {
			log.Warn().Err(err).Msg("worker error during shutdown")
		} else {
			log.Info().Msg("all workers shut down gracefully")
		}
	}

	return serverErr
}

// ensureAuthenticated checks for valid auth tokens and runs the OAuth
// flow when there are none.
func ensureAuthenticated(ctx context.Context, storage *auth.Storage, cfg *RuntimeConfig) error {
	log := logging.Logger

	if cfg.ForceReauth {
		log.Info().Msg("force re-authentication requested, clearing existing credentials and tokens")
		if err := storage.DeleteTokens(); err != nil {
			log.Debug().Err(err).Msg("failed to delete existing auth config (may not exist)")
		}
	}

	clientConfig, err := storage.LoadClientConfig()
	if err != nil || cfg.ForceReauth {
		clientConfig, err = credentialsFromEnv()
		if err != nil {
			clientConfig, err = promptForCredentials()
			if err != nil {
				return fmt.Errorf("getting credentials: %w", err)
			}
		}
		if err := storage.SaveClientConfig(clientConfig.ClientID, clientConfig.ClientSecret); err != nil {
			return fmt.Errorf("saving credentials: %w", err)
		}
	}

	if !cfg.ForceReauth {
		if _, err := storage.GetValidAccessToken(); err == nil {
			log.Info().Msg("using existing authentication")
			return nil
		} else if strings.Contains(err.Error(), "refreshing token") {
			log.Warn().Err(err).Msg("token refresh failed, re-authentication required")
			fmt.Println("\n=== Token Refresh Failed ===")
			fmt.Println("Your Strava authentication has expired or been revoked.")
			fmt.Println("Re-authentication is required.")
		} else {
			log.Info().Msg("no valid authentication found, starting OAuth flow")
		}
	}

	return runOAuthFlow(ctx, storage, clientConfig)
}

// credentialsFromEnv reads API credentials from the environment.
func credentialsFromEnv() (*auth.ClientConfig, error) {
	clientID := strings.TrimSpace(os.Getenv("STRAVA_CLIENT_ID"))
	clientSecret := strings.TrimSpace(os.Getenv("STRAVA_CLIENT_SECRET"))
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("STRAVA_CLIENT_ID and STRAVA_CLIENT_SECRET not set")
	}
	return &auth.ClientConfig{
		ClientID:     clientID,
		ClientSecret: clientSecret,
	}, nil
}

// promptForCredentials prompts the user to enter their Strava API
// credentials interactively.
func promptForCredentials() (*auth.ClientConfig, error) {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("\n=== Strava API Credentials Required ===")
	fmt.Println("Get your API credentials from: https://www.strava.com/settings/api")
	fmt.Println()

	fmt.Print("Enter your Client ID: ")
	clientID, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("reading client ID: %w", err)
	}
	clientID = strings.TrimSpace(clientID)

	if clientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}

	fmt.Print("Enter your Client Secret: ")
	clientSecret, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("reading client secret: %w", err)
	}
	clientSecret = strings.TrimSpace(clientSecret)

	if clientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}

	return &auth.ClientConfig{
		ClientID:     clientID,
		ClientSecret: clientSecret,
	}, nil
}

// runOAuthFlow performs the browser OAuth flow and stores the result.
func runOAuthFlow(ctx context.Context, storage *auth.Storage, clientConfig *auth.ClientConfig) error {
	log := logging.Logger

	fmt.Println("\n=== Strava Authentication Required ===")
	fmt.Println("A browser window will open for you to authorize this application.")
	fmt.Println("Press Enter to continue...")

	reader := bufio.NewReader(os.Stdin)
	reader.ReadString('\n')

	tokens, err := auth.Authenticate(ctx, clientConfig.ClientID, clientConfig.ClientSecret)
	if err != nil {
		return fmt.Errorf("OAuth flow failed: %w", err)
	}

	log.Info().
		Str("expires_at", time.Unix(tokens.ExpiresAt, 0).Format(time.RFC3339)).
		Msg("OAuth authentication successful")

	if err := storage.SaveTokens(tokens); err != nil {
		return fmt.Errorf("saving tokens: %w", err)
	}

	fmt.Printf("\nAuthentication successful! Token expires: %s\n\n",
		time.Unix(tokens.ExpiresAt, 0).Format(time.RFC1123))

	return nil
}
