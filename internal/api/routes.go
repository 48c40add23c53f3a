package api

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// NewRouter builds the engine with recovery, request logging and CORS.
// origins is "*" or a comma separated allow list.
func NewRouter(origins string, logger *logrus.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	corsConfig := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if list := splitList([]string{origins}); len(list) == 0 || (len(list) == 1 && list[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = list
	}
	router.Use(cors.New(corsConfig))
	return router
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if strings.HasSuffix(c.Request.URL.Path, "/health") {
			return
		}
		logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("Handled request")
	}
}

func SetupRoutes(router *gin.Engine, handler *Handler) {
	api := router.Group("/api")
	{
		api.GET("/health", handler.Health)

		api.GET("/listings", handler.GetListings)
		api.GET("/listings/find", handler.FindListing)
		api.GET("/listings/:id/history", handler.GetPriceHistory)
		api.GET("/listings/:id/price-stats", handler.GetPriceStats)

		api.GET("/stats", handler.GetStats)
		api.GET("/trends/zones", handler.GetZoneTrends)
		api.GET("/trends/prices", handler.GetPriceTrends)
		api.GET("/trends/price-per-sqm", handler.GetPricePerSqm)
		api.GET("/trends/new-vs-sold", handler.GetNewVsSold)
		api.GET("/velocity", handler.GetVelocity)

		api.GET("/opportunities", handler.GetOpportunities)
		api.GET("/bargains", handler.GetBargains)
		api.GET("/chollos", handler.GetChollos)
		api.GET("/price-drops", handler.GetPriceDrops)
		api.GET("/desperate-sellers", handler.GetDesperateSellers)
		api.GET("/price-history/summary", handler.GetHistorySummary)
		api.GET("/dashboard", handler.GetDashboard)

		api.POST("/scrape", handler.RunScrape)
		api.POST("/maintenance/resolve-stale", handler.ResolveStale)
	}
}
