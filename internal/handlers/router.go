package handlers

import (
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/foodie-orderflow/internal/logger"
)

// NewRouter builds the engine with recovery, request ids, access logs and gzip.
// Live sockets are never compressed.
func NewRouter(cfg HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.RequestID(), logger.RequestLogger())
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPathsRegexs([]string{`/live$`})))

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	RegisterOrdersRoutes(r, cfg)
	return r
}
