// Package cmd wires flags, configuration, and the runtime together.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mpelikan/stridedash/internal/logging"
)

var (
	verbosity            int
	dbPath               string
	listenAddr           string
	timezone             string
	units                string
	includeEbikes        bool
	syncCron             string
	tokenRefreshInterval time.Duration
	noSync               bool
	forceReauth          bool
	fitDir               string
	mcpMode              bool
)

var rootCmd = &cobra.Command{
	Use:   "stridedash",
	Short: "Personal fitness dashboard backed by Strava and FIT files",
	Long: `stridedash syncs your Strava activities (and optional local FIT files)
to a SQLite database and serves run/ride/swim totals with daily
cumulative series for rolling and calendar periods, each compared to
its previous period.

The server runs with:
- Automatic authentication via OAuth (prompts on first run)
- Background token refresh to keep authentication valid
- Scheduled activity sync from Strava
- A JSON API for the dashboard frontend, or an MCP server (--mcp)

Credentials come from STRAVA_CLIENT_ID / STRAVA_CLIENT_SECRET (or a
.env file); missing values are prompted for on first run. Get them
from https://www.strava.com/settings/api

Use --force-reauth to re-enter credentials and re-authenticate.
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup(logging.Level(verbosity))
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		rtCfg := &RuntimeConfig{
			DBPath:               dbPath,
			ListenAddr:           listenAddr,
			Timezone:             timezone,
			Units:                units,
			IncludeEbikes:        includeEbikes,
			SyncCron:             syncCron,
			TokenRefreshInterval: tokenRefreshInterval,
			NoSync:               noSync,
			ForceReauth:          forceReauth,
			FITDir:               fitDir,
			MCPMode:              mcpMode,
		}
		return Run(rtCfg)
	},
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase verbosity (-v for debug, -vv for trace with HTTP headers)")

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "stridedash.db", "path to SQLite database file")
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen", ":8080", "HTTP API listen address")
	rootCmd.PersistentFlags().StringVar(&timezone, "tz", "Europe/Bratislava", "IANA timezone for day boundaries")
	rootCmd.PersistentFlags().StringVar(&units, "units", "km", "default distance unit (km or mi)")
	rootCmd.PersistentFlags().BoolVar(&includeEbikes, "include-ebikes", false, "count e-bike rides as rides")
	rootCmd.PersistentFlags().StringVar(&syncCron, "sync-cron", "*/15 * * * *", "cron schedule for activity syncs")
	rootCmd.PersistentFlags().DurationVar(&tokenRefreshInterval, "token-refresh-interval", 30*time.Minute, "interval between token refresh checks")

	rootCmd.PersistentFlags().BoolVar(&noSync, "no-sync", false, "serve from the local database only, without Strava API sync")
	rootCmd.PersistentFlags().BoolVar(&forceReauth, "force-reauth", false, "force OAuth re-authentication, clearing existing tokens")
	rootCmd.PersistentFlags().StringVar(&fitDir, "fit-dir", "", "directory of FIT files to import on startup")
	rootCmd.PersistentFlags().BoolVar(&mcpMode, "mcp", false, "serve MCP over stdio instead of the HTTP API")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
