// Package server exposes the latest snapshot over a read-only HTTP API
// for automation consumers, plus health and Prometheus endpoints.
package server

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/tejusbharadwaj/qustodio-bridge/internal/metrics"
	"github.com/tejusbharadwaj/qustodio-bridge/internal/models"
	middleware "github.com/tejusbharadwaj/qustodio-bridge/internal/server/middlewares"
)

// ServerConfig holds configuration options for the HTTP server
type ServerConfig struct {
	RateLimit      float64 // Requests per second
	RateLimitBurst int     // Maximum burst size for rate limiting
}

// DefaultServerConfig returns a ServerConfig with sensible defaults
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		RateLimit:      5.0,
		RateLimitBurst: 10,
	}
}

// SnapshotSource is the read side of the coordinator.
type SnapshotSource interface {
	Snapshot() (map[int64]models.ProfileSnapshot, bool, time.Time)
	Profile(id int64) (models.ProfileSnapshot, bool)
	Healthy() bool
	LastError() error
}

// SetupRouter builds the gin router with the full middleware chain.
// The gatherer backs the /metrics endpoint; tests inject their own
// registry.
func SetupRouter(
	source SnapshotSource,
	m *metrics.Metrics,
	logger *logrus.Logger,
	config ServerConfig,
	gatherer prometheus.Gatherer,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(
		gin.Recovery(), // unexpected defects become 500s, not crashes
		middleware.RequestID(),
		middleware.RateLimiting(rate.NewLimiter(rate.Limit(config.RateLimit), config.RateLimitBurst)),
		middleware.Logging(logger),
		middleware.Metrics(m),
	)

	router.GET("/healthz", healthHandler(source))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1")
	v1.GET("/profiles", listProfilesHandler(source))
	v1.GET("/profiles/:id", getProfileHandler(source))

	return router
}

func healthHandler(source SnapshotSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, _, lastSuccess := source.Snapshot()

		if !source.Healthy() {
			body := gin.H{"status": "degraded"}
			if err := source.LastError(); err != nil {
				body["error"] = err.Error()
			}
			if !lastSuccess.IsZero() {
				body["last_success"] = lastSuccess.UTC().Format(time.RFC3339)
			}
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"last_success": lastSuccess.UTC().Format(time.RFC3339),
		})
	}
}

func listProfilesHandler(source SnapshotSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, healthy, lastSuccess := source.Snapshot()

		profiles := make([]models.ProfileSnapshot, 0, len(data))
		for _, snapshot := range data {
			profiles = append(profiles, snapshot)
		}
		sort.Slice(profiles, func(i, j int) bool {
			return profiles[i].ID < profiles[j].ID
		})

		body := gin.H{
			"healthy":  healthy,
			"profiles": profiles,
		}
		if !lastSuccess.IsZero() {
			body["last_success"] = lastSuccess.UTC().Format(time.RFC3339)
		}
		c.JSON(http.StatusOK, body)
	}
}

func getProfileHandler(source SnapshotSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid profile id"})
			return
		}

		snapshot, ok := source.Profile(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile unavailable"})
			return
		}

		c.JSON(http.StatusOK, snapshot)
	}
}
