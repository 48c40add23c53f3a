package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"madridtracker/server/config"
	"madridtracker/server/internal/analytics"
	"madridtracker/server/internal/database"
	"madridtracker/server/internal/lifecycle"
	"madridtracker/server/internal/models"
	"madridtracker/server/internal/pipeline"
	"madridtracker/server/internal/query"
)

// Tracker runs the write side: scrapes and staleness maintenance.
type Tracker interface {
	StartScrape(zoneNames []string) error
	ResolveStale(ctx context.Context, thresholdDays int) (int64, error)
	LastRun() *pipeline.RunResult
	Busy() bool
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	query              *query.Service
	tracker            Tracker
	db                 Pinger
	analytics          config.AnalyticsConfig
	staleThresholdDays int
	logger             *logrus.Logger
}

type Deps struct {
	Query              *query.Service
	Tracker            Tracker
	DB                 Pinger
	Analytics          config.AnalyticsConfig
	StaleThresholdDays int
}

type ScrapeRequest struct {
	Zones []string `json:"zones"`
}

func NewHandler(deps Deps, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Handler{
		query:              deps.Query,
		tracker:            deps.Tracker,
		db:                 deps.DB,
		analytics:          deps.Analytics,
		staleThresholdDays: deps.StaleThresholdDays,
		logger:             logger,
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, query.ErrInvalidReference),
		errors.Is(err, query.ErrInvalidParameter),
		errors.Is(err, analytics.ErrInvalidPeriod),
		errors.Is(err, database.ErrInvalidZoneType),
		errors.Is(err, lifecycle.ErrInvalidThreshold),
		errors.Is(err, config.ErrUnknownZone):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrScrapingDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the error response. Client errors carry the cause, server
// errors only the message.
func (h *Handler) fail(c *gin.Context, err error, message string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", c.FullPath()).Error(message)
		c.JSON(status, gin.H{"error": message})
		return
	}
	h.logger.WithError(err).WithField("path", c.FullPath()).Warn(message)
	c.JSON(status, gin.H{"error": fmt.Sprintf("%s: %v", message, err)})
}

func intQuery(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", query.ErrInvalidParameter, name)
	}
	return v, nil
}

func floatQuery(c *gin.Context, name string) (*float64, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a number", query.ErrInvalidParameter, name)
	}
	return &v, nil
}

func floatQueryOr(c *gin.Context, name string, def float64) (float64, error) {
	v, err := floatQuery(c, name)
	if err != nil || v == nil {
		return def, err
	}
	return *v, nil
}

// splitList accepts both repeated parameters and comma separated values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.WithError(err).Error("Database ping failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "Database unreachable"})
		return
	}

	body := gin.H{"status": "ok"}
	if h.tracker != nil {
		body["run_in_progress"] = h.tracker.Busy()
		body["last_run"] = h.tracker.LastRun()
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) GetListings(c *gin.Context) {
	var filter models.ListingFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", query.ErrInvalidParameter, err), "Invalid listing filter")
		return
	}
	filter.Zones = splitList(filter.Zones)

	listings, err := h.query.GetListings(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err, "Failed to get listings")
		return
	}
	c.JSON(http.StatusOK, listings)
}

// FindListing resolves a listing ID or listing URL given as ref.
func (h *Handler) FindListing(c *gin.Context) {
	ref := c.Query("ref")
	if strings.TrimSpace(ref) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ref is required"})
		return
	}

	listing, err := h.query.FindListing(c.Request.Context(), ref)
	if err != nil {
		h.fail(c, err, "Failed to find listing")
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (h *Handler) GetPriceHistory(c *gin.Context) {
	history, err := h.query.GetPriceHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "Failed to get price history")
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *Handler) GetPriceStats(c *gin.Context) {
	stats, err := h.query.GetPropertyPriceStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "Failed to get price stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.query.GetDatabaseStats(c.Request.Context())
	if err != nil {
		h.fail(c, err, "Failed to get stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) GetZoneTrends(c *gin.Context) {
	minProperties, err := intQuery(c, "min_properties", 0)
	if err != nil {
		h.fail(c, err, "Invalid parameters")
		return
	}

	trends, err := h.query.GetPriceTrendsByZone(c.Request.Context(), c.DefaultQuery("zone_type", "distrito"), minProperties)
	if err != nil {
		h.fail(c, err, "Failed to get zone trends")
		return
	}
	c.JSON(http.StatusOK, trends)
}

func (h *Handler) GetPriceTrends(c *gin.Context) {
	trends, err := h.query.PriceTrends(c.Request.Context(), c.DefaultQuery("period", "W"))
	if err != nil {
		h.fail(c, err, "Failed to get price trends")
		return
	}
	c.JSON(http.StatusOK, trends)
}

func (h *Handler) GetPricePerSqm(c *gin.Context) {
	evolution, err := h.query.PricePerSqmEvolution(c.Request.Context(), c.DefaultQuery("period", "W"), c.Query("distrito"))
	if err != nil {
		h.fail(c, err, "Failed to get price per sqm evolution")
		return
	}
	c.JSON(http.StatusOK, evolution)
}

func (h *Handler) GetNewVsSold(c *gin.Context) {
	days, err := intQuery(c, "days", query.DefaultNewVsSoldDays)
	if err != nil {
		h.fail(c, err, "Invalid parameters")
		return
	}

	trends, err := h.query.NewVsSold(c.Request.Context(), days)
	if err != nil {
		h.fail(c, err, "Failed to get new vs sold trends")
		return
	}
	c.JSON(http.StatusOK, trends)
}

func (h *Handler) GetVelocity(c *gin.Context) {
	velocity, err := h.query.Velocity(c.Request.Context())
	if err != nil {
		h.fail(c, err, "Failed to get velocity metrics")
		return
	}
	c.JSON(http.StatusOK, velocity)
}

func (h *Handler) GetOpportunities(c *gin.Context) {
	limit, err := intQuery(c, "limit", query.DefaultTopLimit)
	if err != nil {
		h.fail(c, err, "Invalid parameters")
		return
	}

	opportunities, err := h.query.Opportunities(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err, "Failed to get opportunities")
		return
	}
	c.JSON(http.StatusOK, opportunities)
}

func (h *Handler) GetBargains(c *gin.Context) {
	limit, err := intQuery(c, "limit", query.DefaultTopLimit)
	if err != nil {
		h.fail(c, err, "Invalid parameters")
		return
	}
	threshold, err := floatQuery(c, "threshold")
	if err != nil {
		h.fail(c, err, "Invalid parameters")
		return
	}

	bargains, err := h.query.Bargains(c.Request.Context(), threshold, limit)
	if err != nil {
		h.fail(c, err, "Failed to get bargains")
		return
	}
	c.JSON(http.StatusOK, bargains)
}

func (h *Handler) GetChollos(c *gin.Context) {
	limit, err := intQuery(c, "limit", query.DefaultTopLimit)
	if err != nil {
		h.fail(c, err, "Invalid parameters")
		return
	}

	chollos, err := h.query.Chollos(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err, "Failed to get chollos")
		return
	}
	c.JSON(http.StatusOK, chollos)
}

func (h *Handler) GetPriceDrops(c *gin.Context) {
	days, err := intQuery(c, "days", h.analytics.DropWindowDays)
	if err != nil {
		h.fail(c, err, "Invalid parameters")
		return
	}
	minDrop, err := floatQueryOr(c, "min_drop_percent", h.analytics.DropMinPercent)
	if err != nil {
		h.fail(c, err, "Invalid parameters")
		return
	}

	drops, err := h.query.GetRecentPriceDrops(c.Request.Context(), days, minDrop)
	if err != nil {
		h.fail(c, err, "Failed to get price drops")
		return
	}
	c.JSON(http.StatusOK, drops)
}

func (h *Handler) GetDesperateSellers(c *gin.Context) {
	minDrops, err := intQuery(c, "min_drops", h.analytics.DesperateMinDrops)
	if err != nil {
		h.fail(c, err, "Invalid parameters")
		return
	}
	minTotal, err := floatQueryOr(c, "min_total_drop_percent", h.analytics.DesperateMinTotalDrop)
	if err != nil {
		h.fail(c, err, "Invalid parameters")
		return
	}

	sellers, err := h.query.GetPropertiesWithMultipleDrops(c.Request.Context(), minDrops, minTotal)
	if err != nil {
		h.fail(c, err, "Failed to get desperate sellers")
		return
	}
	c.JSON(http.StatusOK, sellers)
}

func (h *Handler) GetHistorySummary(c *gin.Context) {
	summary, err := h.query.HistorySummary(c.Request.Context())
	if err != nil {
		h.fail(c, err, "Failed to get price history summary")
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetDashboard always answers 200. Failed sections are listed under errors.
func (h *Handler) GetDashboard(c *gin.Context) {
	c.JSON(http.StatusOK, h.query.Dashboard(c.Request.Context()))
}

// RunScrape starts a background scrape of the requested zones, all when none
// are given.
func (h *Handler) RunScrape(c *gin.Context) {
	var req ScrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.WithError(err).Error("Failed to parse scrape request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request parameters"})
		return
	}

	if err := h.tracker.StartScrape(req.Zones); err != nil {
		h.fail(c, err, "Failed to start scrape")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":  "accepted",
		"message": "Scrape started",
		"zones":   req.Zones,
	})
}

func (h *Handler) ResolveStale(c *gin.Context) {
	days, err := intQuery(c, "threshold_days", h.staleThresholdDays)
	if err != nil {
		h.fail(c, err, "Invalid parameters")
		return
	}

	retired, err := h.tracker.ResolveStale(c.Request.Context(), days)
	if err != nil {
		h.fail(c, err, "Failed to resolve stale listings")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         "success",
		"retired":        retired,
		"threshold_days": days,
	})
}
