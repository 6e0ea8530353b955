package app

import (
	"net/http"

	"parkshare/internal/middleware"
	"parkshare/internal/modules/booking"
	"parkshare/internal/modules/extension"
	"parkshare/internal/modules/issue"
	"parkshare/internal/modules/space"
	"parkshare/internal/modules/waitlist"
	"parkshare/internal/notification"
	"parkshare/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// Router builds the HTTP surface. User routes live under /api/v1 and
// collaborator callbacks under /internal.
func (a *App) Router() *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestLogger(a.log), middleware.CORS(a.cfg.CORSOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"spaces": len(a.index.Spaces()),
			"online": a.hub.OnlineCount(),
		})
	})

	bookingHandler := booking.NewHandler(a.Bookings)
	spaceHandler := space.NewHandler(a.store.Spaces)

	v1 := r.Group("/api/v1")
	{
		bookingHandler.RegisterPublicRoutes(v1)
		spaceHandler.RegisterPublicRoutes(v1)
		v1.GET("/ws/offers", notification.NewWSHandler(a.hub, a.jwt, a.log).HandleWebSocket)

		protected := v1.Group("")
		protected.Use(middleware.JWTAuth(a.jwt))
		{
			bookingHandler.RegisterRoutes(protected)
			extension.NewHandler(a.Extensions).RegisterRoutes(protected)
			waitlist.NewHandler(a.Waitlist).RegisterRoutes(protected)
			issue.NewHandler(a.Issues).RegisterRoutes(protected)
		}
	}

	internal := r.Group("/internal")
	internal.Use(middleware.InternalTokenAuth(a.cfg.InternalTokenHash, a.log))
	{
		bookingHandler.RegisterInternalRoutes(internal)
		spaceHandler.RegisterInternalRoutes(internal)
		internal.POST("/reconcile", a.runReconcile)
	}

	return r
}

func (a *App) runReconcile(c *gin.Context) {
	rep, err := a.Loop.RunOnce(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, rep)
}
