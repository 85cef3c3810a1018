package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shortkit/shortkit/pkg/shortkit/auth"
	"github.com/shortkit/shortkit/pkg/shortkit/cache"
	"github.com/shortkit/shortkit/pkg/shortkit/cleanup"
	"github.com/shortkit/shortkit/pkg/shortkit/config"
	"github.com/shortkit/shortkit/pkg/shortkit/database"
	"github.com/shortkit/shortkit/pkg/shortkit/links"
	"github.com/shortkit/shortkit/pkg/shortkit/models"
	"github.com/shortkit/shortkit/pkg/shortkit/ratelimit"
	"github.com/shortkit/shortkit/pkg/shortkit/redirect"
	"github.com/shortkit/shortkit/pkg/shortkit/resolver"
	"github.com/shortkit/shortkit/pkg/shortkit/shortcode"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()

	// Durable store
	db, err := database.Connect(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := models.AutoMigrate(db); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations completed")

	// Resolution cache: optional. Without REDIS_URL every cache
	// operation is a no-op and all traffic goes to the store.
	var cacheClient cache.Client
	if cfg.RedisURL != "" {
		cacheClient, err = cache.NewRedisClient(cfg.RedisURL, logger)
		if err != nil {
			logger.Warn("invalid redis URL, running without cache", zap.Error(err))
			cacheClient = nil
		}
	} else {
		logger.Warn("no REDIS_URL configured, running without cache")
	}
	resCache := cache.New(cacheClient, logger)

	codes := shortcode.New(db, cfg.ShortCodeLength)
	res := resolver.New(db, resCache, codes, logger)

	// Background cleanup of expired and unused links
	unusedAfter := time.Duration(cfg.CleanupUnusedDays) * 24 * time.Hour
	scheduler := cleanup.NewScheduler(db, res, logger, cfg.CleanupInterval, unusedAfter)
	scheduler.Start(context.Background())

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ratelimit.Middleware(resCache, cfg.RateLimitPerMinute, logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		authHandler := auth.NewHandler(db, resCache)
		authHandler.RegisterRoutes(api.Group("/auth"))

		// Link management: authentication optional, anonymous links
		// are managed anonymously
		linksHandler := links.NewHandler(res, cfg)
		linksHandler.RegisterRoutes(api.Group("", auth.OptionalAuth(resCache)))
	}

	// Redirect route must be registered LAST to avoid conflicts
	redirectHandler := redirect.NewHandler(res, logger)
	redirectHandler.RegisterRoutes(r)

	logger.Info("starting shortkit server", zap.String("address", cfg.ServerAddress))
	if err := r.Run(cfg.ServerAddress); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
