// Package mcp exposes the pipeline and its read surface as MCP tools over
// stdio.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mfenderov/estate-pulse/internal/ingestion"
	"github.com/mfenderov/estate-pulse/internal/pipeline"
	"github.com/mfenderov/estate-pulse/internal/scheduler"
	"github.com/mfenderov/estate-pulse/internal/store"
	"github.com/mfenderov/estate-pulse/internal/trends"
	"github.com/mfenderov/estate-pulse/pkg/models"
)

// Question length bounds for search_articles.
const (
	MinQuestionLength = 5
	MaxQuestionLength = 500
)

// Searcher answers semantic queries over indexed chunks.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]models.SearchResult, error)
}

// Ingester processes an ad-hoc URL list.
type Ingester interface {
	ProcessURLs(ctx context.Context, urls []string) (*pipeline.Result, error)
}

// Trigger starts the periodic job on demand.
type Trigger interface {
	TriggerNow(ctx context.Context, job scheduler.Job) bool
	Status() scheduler.Status
}

// Reader is the stored read surface.
type Reader interface {
	ListArticles(ctx context.Context, f store.ArticleFilter) ([]models.Article, error)
	ListMarkets(ctx context.Context) ([]models.Market, error)
	ListAlerts(ctx context.Context, unacknowledgedOnly bool, limit int) ([]models.Alert, error)
	AcknowledgeAlert(ctx context.Context, id string) error
	Stats(ctx context.Context) (store.Stats, error)
}

// Trends computes market trends.
type Trends interface {
	Trend(ctx context.Context, market string, days int) (trends.Trend, error)
	History(ctx context.Context, market string, days int) ([]trends.DailyPoint, error)
}

// RunHistory reports the last completed periodic run.
type RunHistory interface {
	Last() *ingestion.Summary
}

// Config holds MCP server configuration.
type Config struct {
	Name         string
	Version      string
	QueryTimeout time.Duration // per tool call; default 60s
}

// Deps are the components behind the tools.
type Deps struct {
	Search    Searcher
	Ingest    Ingester
	Scheduler Trigger
	Job       scheduler.Job
	Runs      RunHistory
	Reader    Reader
	Trends    Trends
}

// Server wraps the MCP server.
type Server struct {
	mcpServer *server.MCPServer
	deps      Deps
	timeout   time.Duration
}

// NewServer creates an MCP server with the pipeline tools registered.
func NewServer(config Config, deps Deps) (*Server, error) {
	var errs []error
	if deps.Search == nil {
		errs = append(errs, errors.New("searcher is required"))
	}
	if deps.Ingest == nil {
		errs = append(errs, errors.New("ingester is required"))
	}
	if deps.Reader == nil {
		errs = append(errs, errors.New("reader is required"))
	}
	if deps.Trends == nil {
		errs = append(errs, errors.New("trends is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = 60 * time.Second
	}

	mcpServer := server.NewMCPServer(
		config.Name,
		config.Version,
		server.WithToolCapabilities(true),
	)

	s := &Server{
		mcpServer: mcpServer,
		deps:      deps,
		timeout:   config.QueryTimeout,
	}

	mcpServer.AddTool(mcp.NewTool("search_articles",
		mcp.WithDescription("Semantic search over ingested real-estate news. Returns the most relevant article passages."),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description(fmt.Sprintf("Natural-language question (%d-%d characters)", MinQuestionLength, MaxQuestionLength)),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of passages to return (default: 5, max: 20)"),
		),
	), s.searchHandler)

	mcpServer.AddTool(mcp.NewTool("ingest_urls",
		mcp.WithDescription("Fetch, analyze and store specific article URLs."),
		mcp.WithArray("urls",
			mcp.Required(),
			mcp.WithStringItems(),
			mcp.Description(fmt.Sprintf("Article URLs (http or https, at most %d)", pipeline.MaxAdHocURLs)),
		),
	), s.ingestHandler)

	mcpServer.AddTool(mcp.NewTool("trigger_ingestion",
		mcp.WithDescription("Start a discovery and ingestion run in the background unless one is already running."),
	), s.triggerHandler)

	mcpServer.AddTool(mcp.NewTool("pipeline_status",
		mcp.WithDescription("Report scheduler state, the last ingestion run and store totals."),
	), s.statusHandler)

	mcpServer.AddTool(mcp.NewTool("list_articles",
		mcp.WithDescription("List stored articles, newest first."),
		mcp.WithString("source", mcp.Description("Only articles from this source label")),
		mcp.WithNumber("days", mcp.Description("Only articles stored in the last N days")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of articles (default: 50)")),
		mcp.WithNumber("offset", mcp.Description("Number of articles to skip")),
	), s.listArticlesHandler)

	mcpServer.AddTool(mcp.NewTool("list_markets",
		mcp.WithDescription("List markets that have sentiment readings."),
	), s.listMarketsHandler)

	mcpServer.AddTool(mcp.NewTool("market_trend",
		mcp.WithDescription("Sentiment trend for a market: average, change vs the previous period, top topics and optional daily history."),
		mcp.WithString("market", mcp.Required(), mcp.Description("Market name, e.g. \"Austin\"")),
		mcp.WithNumber("days", mcp.Description("Window length in days (default: 7)")),
		mcp.WithBoolean("history", mcp.Description("Include daily averages")),
	), s.trendHandler)

	mcpServer.AddTool(mcp.NewTool("list_alerts",
		mcp.WithDescription("List sentiment shift alerts, newest first."),
		mcp.WithBoolean("unacknowledged_only", mcp.Description("Only alerts not yet acknowledged (default: true)")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of alerts (default: 20)")),
	), s.listAlertsHandler)

	mcpServer.AddTool(mcp.NewTool("acknowledge_alert",
		mcp.WithDescription("Mark an alert as acknowledged."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Alert ID")),
	), s.acknowledgeHandler)

	return s, nil
}

// ServeStdio starts the MCP server using stdio transport.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ValidateQuestion checks the search question bounds and returns it trimmed.
func ValidateQuestion(question string) (string, error) {
	question = strings.TrimSpace(question)
	n := utf8.RuneCountInString(question)
	if n < MinQuestionLength || n > MaxQuestionLength {
		return "", fmt.Errorf("question must be %d-%d characters, got %d", MinQuestionLength, MaxQuestionLength, n)
	}
	return question, nil
}

func (s *Server) searchHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError("question parameter is required"), nil
	}
	limit := min(max(req.GetInt("limit", 5), 1), 20)

	results, err := s.handleSearch(ctx, question, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	return jsonResult(results)
}

func (s *Server) handleSearch(ctx context.Context, question string, limit int) ([]models.SearchResult, error) {
	question, err := ValidateQuestion(question)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.deps.Search.Search(ctx, question, limit)
}

func (s *Server) ingestHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	urls, err := req.RequireStringSlice("urls")
	if err != nil {
		return mcp.NewToolResultError("urls parameter is required"), nil
	}

	result, err := s.handleIngest(ctx, urls)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("ingestion failed: %v", err)), nil
	}
	return jsonResult(result)
}

func (s *Server) handleIngest(ctx context.Context, urls []string) (*pipeline.Result, error) {
	urls, err := pipeline.ValidateURLs(urls)
	if err != nil {
		return nil, err
	}
	return s.deps.Ingest.ProcessURLs(ctx, urls)
}

func (s *Server) triggerHandler(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.deps.Scheduler == nil || s.deps.Job == nil {
		return mcp.NewToolResultError("periodic ingestion is not configured"), nil
	}
	started := s.deps.Scheduler.TriggerNow(ctx, s.deps.Job)
	return jsonResult(map[string]any{
		"started": started,
		"status":  s.deps.Scheduler.Status(),
	})
}

type statusReport struct {
	Scheduler *scheduler.Status  `json:"scheduler,omitempty"`
	LastRun   *ingestion.Summary `json:"last_run,omitempty"`
	Store     store.Stats        `json:"store"`
}

func (s *Server) statusHandler(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.handleStatus(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status failed: %v", err)), nil
	}
	return jsonResult(report)
}

func (s *Server) handleStatus(ctx context.Context) (*statusReport, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stats, err := s.deps.Reader.Stats(ctx)
	if err != nil {
		return nil, err
	}
	report := &statusReport{Store: stats}
	if s.deps.Scheduler != nil {
		st := s.deps.Scheduler.Status()
		report.Scheduler = &st
	}
	if s.deps.Runs != nil {
		report.LastRun = s.deps.Runs.Last()
	}
	return report, nil
}

func (s *Server) listArticlesHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f := store.ArticleFilter{
		Source: req.GetString("source", ""),
		Limit:  req.GetInt("limit", 50),
		Offset: req.GetInt("offset", 0),
	}
	if days := req.GetInt("days", 0); days > 0 {
		f.Since = time.Now().AddDate(0, 0, -days)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	articles, err := s.deps.Reader.ListArticles(ctx, f)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list articles failed: %v", err)), nil
	}
	return jsonResult(articles)
}

func (s *Server) listMarketsHandler(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	markets, err := s.deps.Reader.ListMarkets(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list markets failed: %v", err)), nil
	}
	return jsonResult(markets)
}

type trendReport struct {
	trends.Trend
	History []trends.DailyPoint `json:"history,omitempty"`
}

func (s *Server) trendHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	market, err := req.RequireString("market")
	if err != nil {
		return mcp.NewToolResultError("market parameter is required"), nil
	}
	days := req.GetInt("days", 7)
	if days <= 0 {
		return mcp.NewToolResultError("days must be positive"), nil
	}

	report, err := s.handleTrend(ctx, market, days, req.GetBool("history", false))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("trend failed: %v", err)), nil
	}
	return jsonResult(report)
}

func (s *Server) handleTrend(ctx context.Context, market string, days int, history bool) (*trendReport, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	trend, err := s.deps.Trends.Trend(ctx, market, days)
	if err != nil {
		return nil, err
	}
	report := &trendReport{Trend: trend}
	if history {
		if report.History, err = s.deps.Trends.History(ctx, market, days); err != nil {
			return nil, err
		}
	}
	return report, nil
}

func (s *Server) listAlertsHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	alerts, err := s.deps.Reader.ListAlerts(ctx, req.GetBool("unacknowledged_only", true), req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list alerts failed: %v", err)), nil
	}
	return jsonResult(alerts)
}

func (s *Server) acknowledgeHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id parameter is required"), nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.deps.Reader.AcknowledgeAlert(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("alert not found: %s", id)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("acknowledge failed: %v", err)), nil
	}
	return jsonResult(map[string]any{"id": id, "acknowledged": true})
}
