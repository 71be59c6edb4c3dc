package web

import (
	"fmt"
	"log"

	"github.com/deemkeen/chatterpub/activitypub"
	"github.com/deemkeen/chatterpub/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 256 * 1024

// NewRouter builds the HTTP surface over the engine.
func NewRouter(engine *activitypub.Engine) *gin.Engine {
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))
	g.Use(MaxBytesMiddleware(maxBodyBytes))

	g.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "version": util.GetNameAndVersion()})
	})

	g.POST("/actors/:did/outbox", func(c *gin.Context) {
		HandleSubmit(c, engine)
	})

	g.GET("/actors/:did/outbox", func(c *gin.Context) {
		HandleOutbox(c, engine)
	})

	g.GET("/actors/:did/inbox", func(c *gin.Context) {
		HandleInbox(c, engine)
	})

	g.GET("/actors/:did", func(c *gin.Context) {
		HandleActor(c, engine)
	})

	g.GET("/objects/:cid", func(c *gin.Context) {
		HandleObject(c, engine)
	})

	g.GET("/activities/:cid", func(c *gin.Context) {
		HandleActivity(c, engine)
	})

	return g
}

// Router starts serving the HTTP API.
func Router(conf *util.AppConfig, engine *activitypub.Engine) error {
	addr := fmt.Sprintf("%s:%d", conf.Conf.Host, conf.Conf.HttpPort)
	log.Printf("Starting HTTP server on %s", addr)
	return NewRouter(engine).Run(addr)
}
