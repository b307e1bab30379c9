// Package mcpserver exposes the dashboard aggregates as MCP tools so
// assistants can query training totals conversationally.
package mcpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mpelikan/stridedash/internal/aggregate"
	"github.com/mpelikan/stridedash/internal/logging"
	"github.com/mpelikan/stridedash/internal/stats"
	"github.com/mpelikan/stridedash/internal/timewindow"
)

func ptr[T any](v T) *T {
	return &v
}

// Defaults are applied when a tool call omits a parameter.
type Defaults struct {
	Timezone      string
	Units         aggregate.Unit
	IncludeEbikes bool
}

// Server wraps the MCP server and the stats service.
type Server struct {
	mcp      *mcp.Server
	stats    *stats.Service
	defaults Defaults
}

// New creates an MCP server with the dashboard tools registered.
func New(statsService *stats.Service, defaults Defaults) *Server {
	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "stridedash",
		Version: "1.0.0",
	}, nil)

	s := &Server{
		mcp:      mcpServer,
		stats:    statsService,
		defaults: defaults,
	}
	s.registerTools()

	logging.Info("MCP server initialized", "tools_registered", 3)
	return s
}

// Run serves MCP over stdio until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	logging.Info("MCP server starting")
	defer logging.Info("MCP server stopped")
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "get_dashboard_totals",
		Description: `Get the full training dashboard: run/ride/swim totals and daily cumulative series for every tracked period, with period-over-period comparisons.

Use when:
- User asks "How is my training going?" or "Show my totals"
- User wants this week/month/year compared to the previous one

Parameters:
- tz (string): IANA timezone for day boundaries. Default: the server's configured timezone.
- units (string): "km" or "mi". Default: the server's configured unit.
- include_ebikes (boolean): Count e-bike rides as rides. Default: server setting.

Returns: All periods (last7, month_to_date, prev_month, ytd and their baselines) with distance/time totals, daily series, and deltas.`,
		Annotations: &mcp.ToolAnnotations{
			Title:           "Get Dashboard Totals",
			ReadOnlyHint:    true,
			IdempotentHint:  true,
			OpenWorldHint:   ptr(false),
			DestructiveHint: ptr(false),
		},
	}, s.getDashboardTotals)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "get_window_stats",
		Description: `Get run/ride/swim totals and the daily cumulative series for one named period.

Use when:
- User asks about a specific period: "How far did I run this month?"
- User wants the sparkline data for one window

Parameters:
- period (string, required): One of last7, last7_prev, month_to_date, prev_month, prev_month_minus_1, ytd, ytd_prev.
- tz (string): IANA timezone. Default: server setting.
- units (string): "km" or "mi". Default: server setting.
- include_ebikes (boolean): Count e-bike rides as rides. Default: server setting.

Returns: The resolved window plus per-category distance and time totals and per-day cumulative series.`,
		Annotations: &mcp.ToolAnnotations{
			Title:           "Get Window Stats",
			ReadOnlyHint:    true,
			IdempotentHint:  true,
			OpenWorldHint:   ptr(false),
			DestructiveHint: ptr(false),
		},
	}, s.getWindowStats)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "resolve_window",
		Description: `Resolve a named period to its concrete [start, end) instant range without aggregating anything.

Use when:
- User asks "What dates does month_to_date cover?"
- Debugging which activities fall inside a period

Parameters:
- period (string, required): One of last7, last7_prev, month_to_date, prev_month, prev_month_minus_1, ytd, ytd_prev.
- tz (string): IANA timezone. Default: server setting.

Returns: Start and end instants, the number of calendar days covered, and the comparison baseline period if one exists.`,
		Annotations: &mcp.ToolAnnotations{
			Title:           "Resolve Window",
			ReadOnlyHint:    true,
			IdempotentHint:  true,
			OpenWorldHint:   ptr(false),
			DestructiveHint: ptr(false),
		},
	}, s.resolveWindow)
}

// DashboardTotalsInput is the input for the get_dashboard_totals tool.
type DashboardTotalsInput struct {
	TZ            string `json:"tz,omitempty" jsonschema:"IANA timezone used for local-midnight day boundaries, e.g. Europe/Bratislava."`
	Units         string `json:"units,omitempty" jsonschema:"Distance unit for totals and series: km or mi."`
	IncludeEbikes *bool  `json:"include_ebikes,omitempty" jsonschema:"Whether e-bike rides count toward ride totals."`
}

// WindowStatsInput is the input for the get_window_stats tool.
type WindowStatsInput struct {
	Period        string `json:"period" jsonschema:"Named period: last7, last7_prev, month_to_date, prev_month, prev_month_minus_1, ytd, or ytd_prev."`
	TZ            string `json:"tz,omitempty" jsonschema:"IANA timezone used for local-midnight day boundaries."`
	Units         string `json:"units,omitempty" jsonschema:"Distance unit for totals and series: km or mi."`
	IncludeEbikes *bool  `json:"include_ebikes,omitempty" jsonschema:"Whether e-bike rides count toward ride totals."`
}

// ResolveWindowInput is the input for the resolve_window tool.
type ResolveWindowInput struct {
	Period string `json:"period" jsonschema:"Named period: last7, last7_prev, month_to_date, prev_month, prev_month_minus_1, ytd, or ytd_prev."`
	TZ     string `json:"tz,omitempty" jsonschema:"IANA timezone used for local-midnight day boundaries."`
}

// ResolveWindowOutput is the output of the resolve_window tool.
type ResolveWindowOutput struct {
	Period     string `json:"period"`
	Start      string `json:"start"`
	End        string `json:"end"`
	Days       int    `json:"days"`
	ComparedTo string `json:"compared_to,omitempty"`
}

func (s *Server) resolveParams(tz, units string, includeEbikes *bool) (string, aggregate.Unit, bool, error) {
	if tz == "" {
		tz = s.defaults.Timezone
	}

	unit := s.defaults.Units
	if units != "" {
		var err error
		if unit, err = aggregate.ParseUnit(units); err != nil {
			return "", "", false, err
		}
	}

	ebikes := s.defaults.IncludeEbikes
	if includeEbikes != nil {
		ebikes = *includeEbikes
	}
	return tz, unit, ebikes, nil
}

func (s *Server) getDashboardTotals(ctx context.Context, req *mcp.CallToolRequest, input DashboardTotalsInput) (*mcp.CallToolResult, *stats.Dashboard, error) {
	logging.Info("MCP tool call", "tool", "get_dashboard_totals", "tz", input.TZ, "units", input.Units)

	tz, unit, ebikes, err := s.resolveParams(input.TZ, input.Units, input.IncludeEbikes)
	if err != nil {
		return nil, nil, err
	}
	dash, err := s.stats.ComputeDashboard(ctx, tz, unit, ebikes)
	if err != nil {
		return nil, nil, fmt.Errorf("computing dashboard: %w", err)
	}
	return nil, dash, nil
}

func (s *Server) getWindowStats(ctx context.Context, req *mcp.CallToolRequest, input WindowStatsInput) (*mcp.CallToolResult, *stats.WindowStats, error) {
	logging.Info("MCP tool call", "tool", "get_window_stats", "period", input.Period, "tz", input.TZ)

	period, err := timewindow.ParsePeriod(input.Period)
	if err != nil {
		return nil, nil, err
	}
	tz, unit, ebikes, err := s.resolveParams(input.TZ, input.Units, input.IncludeEbikes)
	if err != nil {
		return nil, nil, err
	}

	ws, err := s.stats.ComputeWindow(ctx, period, tz, unit, ebikes)
	if err != nil {
		return nil, nil, fmt.Errorf("computing window: %w", err)
	}
	return nil, ws, nil
}

func (s *Server) resolveWindow(ctx context.Context, req *mcp.CallToolRequest, input ResolveWindowInput) (*mcp.CallToolResult, ResolveWindowOutput, error) {
	logging.Info("MCP tool call", "tool", "resolve_window", "period", input.Period, "tz", input.TZ)

	period, err := timewindow.ParsePeriod(input.Period)
	if err != nil {
		return nil, ResolveWindowOutput{}, err
	}
	tz := input.TZ
	if tz == "" {
		tz = s.defaults.Timezone
	}

	win, err := timewindow.Resolve(period, tz, time.Now())
	if err != nil {
		return nil, ResolveWindowOutput{}, err
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, ResolveWindowOutput{}, err
	}

	out := ResolveWindowOutput{
		Period: string(period),
		Start:  win.Start.Format(time.RFC3339),
		End:    win.End.Format(time.RFC3339),
		Days:   win.Days(loc),
	}
	if baseline, ok := timewindow.Comparison(period); ok {
		out.ComparedTo = string(baseline)
	}
	return nil, out, nil
}
