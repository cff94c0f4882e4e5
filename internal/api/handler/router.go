package handler

import (
	"net/http"
	"slices"
	"strconv"
	"time"

	"talkback/backend/internal/logging"
	"talkback/backend/internal/metrics"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterOptions struct {
	// IssueTokens exposes POST /auth/token.
	IssueTokens bool
	// CORSOrigins lists allowed browser origins; empty or "*" allows any.
	CORSOrigins []string
}

// NewRouter registers every route.
func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestContext(), cors.New(corsConfig(opts.CORSOrigins)))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if opts.IssueTokens {
		r.POST("/auth/token", h.IssueToken)
	}

	api := r.Group("/api", h.Auth.RequireMember())

	messages := api.Group("/chat-message")
	messages.POST("", h.PostMessage)
	messages.GET("/:room/recent", h.RecentMessages)
	messages.GET("/:room/previous", h.PreviousMessages)
	messages.POST("/:room/read", h.MarkRoomRead)
	messages.GET("/:room/unread", h.RoomUnreadCount)

	presence := api.Group("/presence")
	presence.POST("/:room/enter", h.EnterRoom)
	presence.POST("/:room/leave", h.LeaveRoom)

	notify := api.Group("/notify")
	notify.GET("/ws", h.ServeWebSocket)
	notify.GET("/sse", h.ServeSSE)
	notify.POST("/heartbeat", h.Heartbeat)
	notify.GET("", h.ListNotifications)
	notify.GET("/unread-count", h.NotificationUnreadCount)
	notify.PATCH("/:id/read", h.MarkNotificationRead)

	rooms := api.Group("/chat-room")
	rooms.POST("", h.CreateRoom)
	rooms.GET("", h.ListRooms)
	rooms.GET("/requests", h.ListRequests)
	rooms.POST("/:room/accept", h.AcceptRoom)
	rooms.POST("/:room/reject", h.RejectRoom)
	rooms.DELETE("/:room", h.DisconnectRoom)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cfg
}

// requestContext tags the request with an id, then logs and times it.
func requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = logging.NewRequestID()
		}
		c.Header("X-Request-ID", id)
		c.Request = c.Request.WithContext(logging.ContextWithRequestID(c.Request.Context(), id))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())

		log := logging.Ctx(c.Request.Context())
		ev := log.Debug()
		if status >= http.StatusInternalServerError {
			ev = log.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", elapsed).
			Msg("http request")
	}
}
