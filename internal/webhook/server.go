// Package webhook is the HTTP boundary: it decodes each platform's event
// payloads into the channel-agnostic shapes the conversation core
// understands and routes them to the dispatcher and correlator. Webhook
// signature verification is handled upstream (reverse proxy) and is not
// implemented here.
package webhook

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router *gin.Engine
	logger *zap.Logger
}

func NewServer(logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	return &Server{
		router: router,
		logger: logger,
	}
}

// MountSlack registers the Slack event and interactivity endpoints.
func (s *Server) MountSlack(h *SlackHandler) {
	s.router.POST("/slack/events", h.Events)
	s.router.POST("/slack/actions", h.Actions)
}

// MountFacebook registers the Messenger webhook and the webview form
// submission endpoint.
func (s *Server) MountFacebook(h *FacebookHandler) {
	s.router.GET("/facebook/webhook", h.Verify)
	s.router.POST("/facebook/webhook", h.Webhook)
	s.router.POST("/facebook/forms", h.Forms)
}

func (s *Server) Run(addr string) error {
	s.logger.Info("Webhook server listening", zap.String("addr", addr))
	return s.router.Run(addr)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("HTTP request",
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Duration("latency", time.Since(start)))
	}
}
