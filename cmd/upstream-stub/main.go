// Command upstream-stub is a stand-in for the Archivist API used when running
// the gateway locally. It answers /health and echoes every other request.
package main

import (
	"flag"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	addr := flag.String("addr", ":3001", "listen address")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.NoRoute(func(c *gin.Context) {
		logger.Info("received request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("forwarded_for", c.GetHeader("X-Forwarded-For")),
			zap.String("request_id", c.GetHeader("X-Request-ID")))

		c.JSON(http.StatusOK, gin.H{
			"message":       "Hello from upstream stub on " + *addr,
			"method":        c.Request.Method,
			"path":          c.Request.URL.Path,
			"forwarded_for": c.GetHeader("X-Forwarded-For"),
		})
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("upstream stub listening", zap.String("addr", *addr))
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatal("upstream stub stopped", zap.Error(err))
	}
}
