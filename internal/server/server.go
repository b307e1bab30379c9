// Package server exposes the dashboard HTTP API.
package server

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mpelikan/stridedash/internal/aggregate"
	"github.com/mpelikan/stridedash/internal/logging"
	"github.com/mpelikan/stridedash/internal/observability"
	"github.com/mpelikan/stridedash/internal/stats"
	"github.com/mpelikan/stridedash/internal/store"
	"github.com/mpelikan/stridedash/internal/timewindow"
)

// StatsService is the aggregation surface the handlers call.
type StatsService interface {
	ComputeDashboard(ctx context.Context, tz string, unit aggregate.Unit, includeEbikes bool) (*stats.Dashboard, error)
	ComputeWindow(ctx context.Context, period timewindow.Period, tz string, unit aggregate.Unit, includeEbikes bool) (*stats.WindowStats, error)
}

// StatusStore is the storage surface for status and sport breakdowns.
type StatusStore interface {
	CountActivities(ctx context.Context) (int64, error)
	LatestStartDate(ctx context.Context) (time.Time, bool, error)
	SportSummariesInRange(ctx context.Context, start, end time.Time) ([]store.SportSummary, error)
}

// SyncFunc triggers one sync run.
type SyncFunc func(ctx context.Context) error

// Defaults are the fallback query parameters when a request omits
// them.
type Defaults struct {
	Timezone      string
	Units         aggregate.Unit
	IncludeEbikes bool
}

// Handler serves the dashboard API.
type Handler struct {
	stats    StatsService
	store    StatusStore
	syncFn   SyncFunc
	defaults Defaults
	syncing  atomic.Bool
	started  time.Time
}

// NewHandler creates the API handler. syncFn may be nil when sync is
// disabled.
func NewHandler(statsService StatsService, statusStore StatusStore, syncFn SyncFunc, defaults Defaults) *Handler {
	return &Handler{
		stats:    statsService,
		store:    statusStore,
		syncFn:   syncFn,
		defaults: defaults,
		started:  time.Now(),
	}
}

// Router builds the gin engine with all routes registered.
func (h *Handler) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestMetrics())

	router.GET("/healthz", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.GET("/totals", h.Totals)
	api.GET("/window/:period", h.Window)
	api.GET("/stats", h.SportStats)
	api.GET("/status", h.Status)
	api.POST("/sync", h.Sync)

	return router
}

// requestMetrics records per-route counters, latency, and a debug log
// line for every request.
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		startedAt := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(startedAt)
		observability.RecordHTTPRequest(route, strconv.Itoa(c.Writer.Status()), elapsed)
		logging.Debug("request served",
			"method", c.Request.Method,
			"route", route,
			"status", c.Writer.Status(),
			"elapsed", elapsed.String())
	}
}

func (h *Handler) params(c *gin.Context) (tz string, unit aggregate.Unit, includeEbikes bool, ok bool) {
	tz = c.DefaultQuery("tz", h.defaults.Timezone)

	unit = h.defaults.Units
	if raw := c.Query("units"); raw != "" {
		var err error
		if unit, err = aggregate.ParseUnit(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return "", "", false, false
		}
	}

	includeEbikes = h.defaults.IncludeEbikes
	if raw := c.Query("ebikes"); raw != "" {
		var err error
		if includeEbikes, err = strconv.ParseBool(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ebikes must be a boolean"})
			return "", "", false, false
		}
	}
	return tz, unit, includeEbikes, true
}

// Totals serves the full dashboard: all periods with comparisons.
func (h *Handler) Totals(c *gin.Context) {
	tz, unit, includeEbikes, ok := h.params(c)
	if !ok {
		return
	}

	dash, err := h.stats.ComputeDashboard(c.Request.Context(), tz, unit, includeEbikes)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dash)
}

// Window serves a single resolved period.
func (h *Handler) Window(c *gin.Context) {
	period, err := timewindow.ParsePeriod(c.Param("period"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tz, unit, includeEbikes, ok := h.params(c)
	if !ok {
		return
	}

	ws, err := h.stats.ComputeWindow(c.Request.Context(), period, tz, unit, includeEbikes)
	if err != nil {
		status := http.StatusInternalServerError
		if _, loadErr := time.LoadLocation(tz); loadErr != nil {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ws)
}

// SportStats serves the raw per-sport rollup for one period, before
// any category mapping.
func (h *Handler) SportStats(c *gin.Context) {
	period, err := timewindow.ParsePeriod(c.DefaultQuery("period", string(timewindow.YTD)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tz := c.DefaultQuery("tz", h.defaults.Timezone)

	win, err := timewindow.Resolve(period, tz, time.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summaries, err := h.store.SportSummariesInRange(c.Request.Context(), win.Start, win.End)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"period": period,
		"window": win,
		"sports": summaries,
	})
}

// Status reports database contents and process uptime.
func (h *Handler) Status(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := h.store.CountActivities(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{
		"activities":     count,
		"sync_enabled":   h.syncFn != nil,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	}
	if latest, ok, err := h.store.LatestStartDate(ctx); err == nil && ok {
		resp["latest_activity"] = latest.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

// Sync triggers a manual sync run. Only one run may be in flight.
func (h *Handler) Sync(c *gin.Context) {
	if h.syncFn == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sync is disabled"})
		return
	}
	if !h.syncing.CompareAndSwap(false, true) {
		c.JSON(http.StatusConflict, gin.H{"error": "sync already running"})
		return
	}

	go func() {
		defer h.syncing.Store(false)
		// Detached from the request so closing the browser tab does
		// not abort a running sync.
		if err := h.syncFn(context.Background()); err != nil {
			logging.Error("manual sync failed", "error", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "sync started"})
}

// Health is the liveness endpoint.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Run serves the API until the context is cancelled, then shuts down
// gracefully.
func (h *Handler) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      h.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("HTTP API listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
