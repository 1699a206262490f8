package httpapi

import (
	"os"

	"github.com/coreflow/backbone/internal/app/examplejobs"
	"github.com/coreflow/backbone/internal/auth"
	"github.com/coreflow/backbone/internal/health"
	"github.com/coreflow/backbone/internal/httpapi/handlers"
	"github.com/coreflow/backbone/internal/httpapi/middlewares"
	"github.com/coreflow/backbone/internal/jobqueue/store"
	"github.com/coreflow/backbone/internal/observability"
	"github.com/coreflow/backbone/internal/ratelimit"
	"github.com/coreflow/backbone/internal/ws/hub"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps is everything NewRouter needs, constructed once at startup by the
// owning binary (cmd/api).
type Deps struct {
	Store   store.Store
	JWT     *auth.Manager
	Prom    *observability.Prom
	Limiter *ratelimit.Limiter
	Hub     *hub.Hub
	Health  *health.Checker
}

func NewRouter(d Deps) *gin.Engine {
	if os.Getenv("APP_ENV") != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger())
	r.Use(middlewares.Metrics(d.Prom))
	r.Use(middlewares.CORSMiddleware([]string{"http://localhost:3000"}))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.MaxBodyBytes(1 << 20))
	r.Use(middlewares.RequireJSON())

	authMiddleware := middlewares.NewAuthMiddleware(d.JWT)

	r.GET("/liveness", d.Health.Liveness)
	r.GET("/readiness", d.Health.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ws", authMiddleware.RequireAuthWebSocket(), handlers.NewWSHandler(d.Hub).Upgrade)

	adminJobs := handlers.NewAdminJobsHandler(d.Store)
	admin := r.Group("/admin")
	admin.Use(authMiddleware.RequireAuth(), authMiddleware.RequireRole("admin"))
	{
		admin.GET("/jobs", adminJobs.List)
		admin.GET("/jobs/:id", adminJobs.GetByID)
		admin.POST("/jobs/:id/retry", adminJobs.Retry)
	}

	// The example extension: one authenticated route under /api, rate
	// limited the same way any application route would be.
	notificationsHandler := examplejobs.NewHandler(d.Store)
	api := r.Group("/api")
	api.Use(authMiddleware.RequireAuth())
	if d.Limiter != nil {
		api.Use(d.Limiter.Middleware("notification_send", d.Prom))
	}
	{
		api.POST("/notifications", notificationsHandler.SendNotification)
	}

	return r
}
