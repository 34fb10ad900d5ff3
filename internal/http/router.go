package http

import (
	"context"
	"log/slog"
	"time"

	"github.com/geocoder89/placehub/internal/auth"
	"github.com/geocoder89/placehub/internal/config"
	"github.com/geocoder89/placehub/internal/geo"
	"github.com/geocoder89/placehub/internal/http/handlers"
	"github.com/geocoder89/placehub/internal/http/middlewares"
	"github.com/geocoder89/placehub/internal/observability"
	"github.com/geocoder89/placehub/internal/reconcile"
	"github.com/geocoder89/placehub/internal/repo/postgres"
	"github.com/geocoder89/placehub/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

func NewRouter(log *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client, cfg config.Config) *gin.Engine {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	prom := observability.NewProm(prometheus.DefaultRegisterer)

	// middleware

	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("placehub"))
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger(log))
	r.Use(prom.GinHandleMiddleware())
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(cfg.CORSAllowedOrigins))

	// health
	ping := func() error {
		if pool == nil {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		return pool.Ping(ctx)
	}

	h := handlers.NewHealthHandler(ping)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// uploaded images are served straight off disk
	r.Static("/uploads/images", cfg.UploadDir)

	// wire up repositories
	placesRepo := postgres.NewPlacesRepo(pool, prom)
	usersRepo := postgres.NewUsersRepo(pool)
	refreshRepo := postgres.NewRefreshTokensRepo(pool)

	// collaborators
	jwtManager := auth.NewManager(
		cfg.JWTSecret,
		time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute,
		time.Duration(cfg.JWTRefreshTTLDays)*24*time.Hour,
	)

	resolver := geo.NewCachedResolver(
		geo.NewClient(geo.ClientConfig{BaseURL: cfg.GeocoderBaseURL}),
		rdb,
		time.Duration(cfg.GeocodeCacheTTLHours)*time.Hour,
	)

	blobs := storage.NewDiskStore(cfg.UploadDir)

	// wire up handlers
	authHandler := handlers.NewAuthHandler(usersRepo, usersRepo, blobs, jwtManager, refreshRepo, cfg, log)
	usersHandler := handlers.NewUsersHandler(usersRepo)
	placesHandler := handlers.NewPlacesHandler(placesRepo, usersRepo, resolver, blobs, log, prom)
	adminHandler := handlers.NewAdminHandler(reconcile.New(pool, log, prom))

	authMW := middlewares.NewAuthMiddleware(jwtManager)

	// brute-force protection on credential endpoints
	authLimiter := middlewares.NewRateLimiter(10, time.Minute)

	authRoutes := r.Group("/auth")
	authRoutes.Use(authLimiter.RateLimiterMiddleware(middlewares.KeyByIP))
	{
		authRoutes.POST("/signup", middlewares.MaxBodyBytes(cfg.MaxUploadBytes), authHandler.SignUp)
		authRoutes.POST("/login", middlewares.RequireJSON(), authHandler.Login)
		authRoutes.POST("/refresh", authHandler.Refresh)
		authRoutes.POST("/logout", authHandler.Logout)
	}

	r.GET("/users", usersHandler.ListUsers)

	// reads are public
	r.GET("/places/:id", placesHandler.GetPlaceByID)
	r.GET("/places/user/:uid", placesHandler.GetPlacesByUser)

	// writes require an authenticated identity
	protected := r.Group("/places")
	protected.Use(authMW.RequireAuth())
	{
		protected.POST("", middlewares.MaxBodyBytes(cfg.MaxUploadBytes), placesHandler.CreatePlace)
		protected.PATCH("/:id", middlewares.RequireJSON(), placesHandler.UpdatePlace)
		protected.DELETE("/:id", placesHandler.DeletePlace)
	}

	admin := r.Group("/admin")
	admin.Use(authMW.RequireAuth(), authMW.RequireRole("admin"))
	{
		admin.POST("/reconcile", adminHandler.Reconcile)
	}

	return r
}
