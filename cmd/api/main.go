package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/attendance"
	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/config"
	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/httpapi"
	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/httpmiddleware"
	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/queue"
	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	loc := config.Location(cfg.Timezone)

	var (
		repo attendance.Store
		db   *store.DB
	)
	if cfg.StoreBackend == "memory" {
		log.Println("using in-memory store; data is lost on restart")
		repo = attendance.NewMemoryStore()
	} else {
		var err error
		db, err = store.NewDB(cfg.DatabaseURL)
		if db == nil {
			return err
		}
		if err != nil {
			log.Printf("warning: db not reachable: %v", err)
		}
		if cfg.AutoMigrate && err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err = db.EnsureSchema(ctx)
			cancel()
			if err != nil {
				return err
			}
		}
		repo = attendance.NewRepository(db.Client)
	}
	defer func() {
		_ = db.Close()
	}()

	var (
		redisClient *store.Redis
		tasks       queue.Queue
		lease       attendance.Lease
		globalLimit httpmiddleware.Limiter
		sweepLimit  httpmiddleware.Limiter
	)
	if cfg.QueueBackend == config.QueueRedis {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Client.Close()
		key := cfg.QueueKey
		if key == "" {
			key = queue.DefaultKey
		}
		tasks = queue.NewRedisQueue(redisClient.Client, key)
		lease = redisClient
		globalLimit = httpmiddleware.NewRedisLimiter(redisClient.Client, "ratelimit:api", cfg.RateLimitPerMin, time.Minute)
		sweepLimit = httpmiddleware.NewRedisLimiter(redisClient.Client, "ratelimit:mark-absent", cfg.MarkAbsentPerMin, time.Minute)
	} else {
		// No worker consumes an in-process queue here, so sweeps run inline.
		globalLimit = httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
		sweepLimit = httpmiddleware.NewSimpleTokenBucket(cfg.MarkAbsentPerMin, cfg.MarkAbsentPerMin)
	}

	svc := attendance.NewService(repo,
		attendance.WithLocation(loc),
		attendance.WithStrictCheckInWindow(cfg.StrictCheckInWindow),
	)
	arbiter := attendance.NewArbiter(repo, nil)
	sweeper := attendance.NewSweeper(svc, lease)
	handlers := httpapi.New(svc, arbiter, sweeper, tasks, httpapi.Auth{
		APIKeys:    cfg.APIKeys,
		SigningKey: cfg.JWTSigningKey,
		Issuer:     cfg.JWTIssuer,
		AccessTTL:  cfg.AccessTTL,
	}, sweepLimit)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.RateLimit(globalLimit))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		body := gin.H{"status": "ok", "store": cfg.StoreBackend}
		status := http.StatusOK
		if db != nil {
			dbHealthy := db.Healthy(c.Request.Context())
			body["db"] = dbHealthy
			if !dbHealthy {
				status = http.StatusServiceUnavailable
			}
		}
		if redisClient != nil {
			// reported only; every redis consumer has a fallback
			body["redis"] = redisClient.Healthy(c.Request.Context())
		}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		c.JSON(status, body)
	})

	handlers.Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s (tz=%s, queue=%s)", cfg.HTTPPort, loc, cfg.QueueBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
