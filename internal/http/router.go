package http

import (
	"context"
	"time"

	"github.com/druckerapp/drucker/internal/config"
	"github.com/druckerapp/drucker/internal/http/handlers"
	"github.com/druckerapp/drucker/internal/http/middlewares"
	"github.com/druckerapp/drucker/internal/observability"
	"github.com/druckerapp/drucker/internal/redisclient"
	"github.com/druckerapp/drucker/internal/repo/postgres"
	"github.com/druckerapp/drucker/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

func NewRouter(pool *pgxpool.Pool, rdb *redisclient.Client, cfg config.Config) *gin.Engine {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// metrics registry + prometheus middleware
	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)

	// middleware

	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger())
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(cfg.AllowedOrigins))
	r.Use(middlewares.MaxBodyBytes(1 << 20))
	r.Use(prom.GinHandleMiddleware())
	r.Use(otelgin.Middleware("drucker-api"))

	// health probes
	pingDB := func() error {
		if pool == nil {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		return pool.Ping(ctx)
	}
	pingRedis := func() error {
		if rdb == nil {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		return rdb.Ping(ctx)
	}

	h := handlers.NewHealthHandler(pingDB, pingRedis)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// wire up repositories
	usersRepo := postgres.NewUsersRepo(pool, prom)
	resetsRepo := postgres.NewResetsRepo(pool, prom)

	sessions := session.NewManager(cfg.SessionSecret, cfg.SessionTTL())

	// wire up handlers
	authHandler := handlers.NewAuthHandler(usersRepo, usersRepo, sessions, cfg, prom)
	resetsHandler := handlers.NewResetsHandler(resetsRepo, usersRepo, prom)
	adminUsersHandler := handlers.NewAdminUsersHandler(usersRepo, cfg)

	sessionMW := middlewares.NewSessionMiddleware(sessions, usersRepo, usersRepo, cfg)

	limiter := middlewares.NewRateLimiter(rdb.Raw(), 10, time.Minute)

	requireJSON := middlewares.RequireJSON()

	auth := r.Group("/auth")
	auth.POST("/signup", requireJSON, limiter.Middleware("signup", middlewares.KeyByIP), authHandler.SignUp)
	auth.POST("/login", requireJSON, limiter.Middleware("login", middlewares.KeyByIP), authHandler.Login)
	auth.POST("/logout", authHandler.Logout)

	r.POST("/password-resets", requireJSON, limiter.Middleware("reset_request", middlewares.KeyByIP), resetsHandler.RequestReset)

	admin := r.Group("/admin", sessionMW.RequireSession(), sessionMW.RequireAdmin())
	admin.GET("/users", adminUsersHandler.ListUsers)
	admin.GET("/reset-requests", resetsHandler.ListResets)
	admin.POST("/reset-requests/resolve", requireJSON, resetsHandler.ResolveReset)

	return r
}
