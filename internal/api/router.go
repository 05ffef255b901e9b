// Package api exposes the read-only observability surface over HTTP: health,
// registry snapshots and Prometheus metrics. It never mutates state.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/wesfu/wesfu/internal/app"
	"github.com/wesfu/wesfu/internal/config"
)

func SetupRouter(cfg *config.Config, reg *app.Registry) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	started := time.Now()
	r.GET("/healthz", func(c *gin.Context) {
		sessions, rooms := reg.Counts()
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"uptime":   time.Since(started).String(),
			"sessions": sessions,
			"rooms":    rooms,
		})
	})

	v1 := r.Group("/api/v1")
	v1.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, reg.ListRooms())
	})
	v1.GET("/users", func(c *gin.Context) {
		c.JSON(http.StatusOK, reg.ListUsers())
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	log.Info().Str("module", "api").Msg("router setup")
	return r
}
