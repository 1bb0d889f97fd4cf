package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/geocoder89/progresshub/internal/auth"
	"github.com/geocoder89/progresshub/internal/cache"
	"github.com/geocoder89/progresshub/internal/config"
	"github.com/geocoder89/progresshub/internal/domain/user"
	"github.com/geocoder89/progresshub/internal/http/handlers"
	"github.com/geocoder89/progresshub/internal/http/middlewares"
	"github.com/geocoder89/progresshub/internal/observability"
	"github.com/geocoder89/progresshub/internal/ratelimit"
	"github.com/geocoder89/progresshub/internal/service/accounts"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const serviceName = "progresshub-api"

// Deps are the long-lived collaborators main builds once at startup.
type Deps struct {
	Accounts *accounts.Service
	Tokens   *auth.Manager
	Reports  handlers.ReportStore

	// optional
	Limiter  ratelimit.Limiter
	Prom     *observability.Prom
	Gatherer prometheus.Gatherer
	Checks   []handlers.Check
}

func NewRouter(log *slog.Logger, cfg config.Config, deps Deps) *gin.Engine {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// gin trusts every proxy unless told otherwise, which would let clients
	// pick their own ClientIP through X-Forwarded-For
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Error("invalid trusted proxies, trusting none", "err", err)
		_ = r.SetTrustedProxies(nil)
	}

	// middleware
	r.Use(gin.CustomRecovery(func(c *gin.Context, rec any) {
		log.ErrorContext(c.Request.Context(), "panic recovered", "panic", rec, "route", c.FullPath())
		handlers.RespondInternal(c, "Internal server error")
	}))
	r.Use(otelgin.Middleware(serviceName))
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger(log))
	r.Use(middlewares.SecurityHeaders(cfg.IsProd()))
	r.Use(middlewares.CORSMiddleware(cfg.CORSAllowedOrigins))
	r.Use(middlewares.MaxBodyBytes(cfg.MaxBodyBytes))
	if deps.Prom != nil {
		r.Use(deps.Prom.GinHandleMiddleware())
	}

	// health, metrics and docs
	h := handlers.NewHealthHandler(deps.Checks...)
	r.GET("/", handlers.Root)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}
	r.GET("/docs", handlers.SwaggerUI)
	r.GET("/docs/openapi.yaml", handlers.OpenAPISpec)

	am := middlewares.NewAuthMiddleware(deps.Tokens)
	authHandler := handlers.NewAuthHandler(deps.Accounts, deps.Tokens, deps.Prom)
	usersHandler := handlers.NewUsersHandler(deps.Accounts, cache.New[user.User](1024, 30*time.Second))
	reportsHandler := handlers.NewReportsHandler(deps.Reports)

	api := r.Group("/api")

	authGroup := api.Group("/auth")
	if deps.Limiter != nil {
		authGroup.Use(middlewares.Throttle(deps.Limiter, middlewares.KeyByIP, deps.Prom))
	}
	authGroup.Use(middlewares.RequireJSON())
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)

	users := api.Group("/users", am.RequireAuth())
	users.GET("/me", usersHandler.Me)
	users.GET("", am.RequireRole(user.RoleAdmin), usersHandler.List)

	reports := api.Group("/reports")
	reports.GET("", reportsHandler.List)
	reports.GET("/:id", reportsHandler.GetByID)
	reports.POST("", am.RequireAuth(), middlewares.RequireJSON(), reportsHandler.Create)
	reports.PUT("/:id", am.RequireAuth(), middlewares.RequireJSON(), reportsHandler.Update)
	reports.DELETE("/:id", am.RequireAuth(), reportsHandler.Delete)

	r.NoRoute(handlers.NoRoute)

	return r
}

// NewServer applies the timeouts every listener in this service uses.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
