package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"madridtracker/server/config"
	"madridtracker/server/internal/query"
)

type ZonesHandler struct {
	zones *config.ZoneCatalog
	query *query.Service
}

func NewZonesHandler(zones *config.ZoneCatalog, q *query.Service) *ZonesHandler {
	return &ZonesHandler{
		zones: zones,
		query: q,
	}
}

// SetupZoneRoutes adds the zone catalog and zone statistics routes
func SetupZoneRoutes(router *gin.Engine, handler *ZonesHandler) {
	router.GET("/api/zones", handler.ListZones)
	router.GET("/api/zones/distritos", handler.ListDistritos)
	router.GET("/api/zones/stats", handler.GetZoneStats)
}

// ListZones returns the catalog, optionally narrowed to one distrito
func (h *ZonesHandler) ListZones(c *gin.Context) {
	distrito := c.Query("distrito")
	if distrito == "" {
		c.JSON(http.StatusOK, h.zones.Zones())
		return
	}

	zones := h.zones.ZonesByDistrito(distrito)
	if len(zones) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Distrito not found"})
		return
	}
	c.JSON(http.StatusOK, zones)
}

func (h *ZonesHandler) ListDistritos(c *gin.Context) {
	c.JSON(http.StatusOK, h.zones.Distritos())
}

// GetZoneStats ranks distritos by average price per sqm
func (h *ZonesHandler) GetZoneStats(c *gin.Context) {
	minSample, err := intQuery(c, "min_sample", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stats, err := h.query.ZoneStats(c.Request.Context(), minSample)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get zone stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
