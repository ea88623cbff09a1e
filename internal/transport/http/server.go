package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/okarpov/roomcast/internal/auth"
	"github.com/okarpov/roomcast/internal/config"
	"github.com/okarpov/roomcast/internal/core"
	"github.com/okarpov/roomcast/internal/metrics"
	"github.com/okarpov/roomcast/internal/store"
)

// NewServer builds the HTTP server: websocket endpoint, membership admin
// API, health and metrics. The websocket endpoint hangs off a plain mux in
// front of the gin router: the upgrade needs to hijack the raw
// http.ResponseWriter, which gin's wrapped writer refuses once the 101 status
// has been written.
func NewServer(reg *core.Registry, gw store.Gateway, verifier *auth.Verifier, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	rooms := &RoomHandlers{
		reg:            reg,
		gw:             gw,
		log:            logger,
		storageTimeout: cfg.Chat.StorageTimeout,
	}
	api := router.Group("/api", AuthMiddleware(verifier, logger))
	api.POST("/rooms/:id/members", rooms.AddMember)
	api.DELETE("/rooms/:id/members/:member", rooms.RemoveMember)
	api.GET("/rooms/:id/presence", rooms.Presence)
	api.GET("/rooms/:id/messages", rooms.Messages)

	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(reg, verifier, cfg.Chat, logger))
	mux.Handle("/", router)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
