package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"geoattend/internal/attendance"
	"geoattend/internal/auth"
	"geoattend/internal/civilday"
	"geoattend/internal/config"
	"geoattend/internal/events"
	"geoattend/internal/handler"
	"geoattend/internal/httpmiddleware"
	"geoattend/internal/metrics"
	"geoattend/internal/queue"
	"geoattend/internal/store"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	settings, err := cfg.Attendance()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := map[string]handler.Checker{}

	var repo attendance.Repository
	switch cfg.StoreBackend {
	case "memory":
		log.Println("using in-memory store; records are lost on restart")
		repo = attendance.NewMemoryRepository(settings.Location)
	default:
		db, err := store.NewDB(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		zone := civilday.ZoneName(settings.Location)
		if err := store.Migrate(ctx, db.Client, zone); err != nil {
			return err
		}
		repo = attendance.NewPostgresRepository(db.Client, zone)
		checks["db"] = db.Healthy
	}

	var redisClient *store.Redis
	if cfg.CacheBackend == "redis" || cfg.QueueBackend == "redis" || cfg.RateLimitBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		checks["redis"] = redisClient.Healthy
	}

	var opts []attendance.Option
	var cache attendance.CompletionCache
	if cfg.CacheBackend == "redis" {
		cache = store.NewCompletionCache(redisClient.Client, "")
		opts = append(opts, attendance.WithCache(cache))
	}

	svc, err := attendance.NewService(repo, settings, opts...)
	if err != nil {
		return err
	}

	var q queue.Queue
	switch {
	case cfg.QueueBackend == "redis":
		q = queue.NewRedisQueue(redisClient.Client, "")
	case cache != nil:
		mem := queue.NewInMemory(64)
		q = mem
		go func() {
			if err := events.NewConsumer(cache, settings.Location).Run(ctx, mem); err != nil {
				log.Printf("event consumer stopped: %v", err)
			}
		}()
	default:
		log.Println("no completion cache configured; event publishing disabled")
	}

	var limiter httpmiddleware.Allower
	if cfg.RateLimitBackend == "redis" {
		limiter = httpmiddleware.NewRedisWindow(redisClient.Client, "", cfg.RateLimitPerMin)
	} else {
		limiter = httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	}

	m := metrics.New()
	r := gin.New()

	// Recovery middleware
	r.Use(gin.Recovery())

	// Custom logger
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	r.Use(m.Middleware())
	r.Use(corsMiddleware(cfg.CORSOrigins))

	// Security headers
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(m.Handler()))
	r.GET("/healthz", handler.Health(checks))

	handler.New(svc, q, m).Register(r,
		auth.Bearer(cfg.JWTSigningKey, cfg.JWTIssuer),
		httpmiddleware.RateLimit(limiter, byCaller),
	)

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// byCaller keys rate limits on the token subject, falling back to client IP.
func byCaller(c *gin.Context) string {
	if who, ok := auth.IdentityFrom(c); ok && who.ID != "" {
		return "sub:" + who.ID
	}
	return "ip:" + httpmiddleware.ByClientIP(c)
}

// CORS middleware for browser requests
func corsMiddleware(origins []string) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Disposition"},
		MaxAge:        24 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
		cc.AllowCredentials = true
	}
	return cors.New(cc)
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
