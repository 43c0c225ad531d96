package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/stemsplit/api/internal/client"
	"github.com/stemsplit/api/internal/config"
	"github.com/stemsplit/api/internal/handler"
	"github.com/stemsplit/api/internal/middleware"
	"github.com/stemsplit/api/internal/model"
	"github.com/stemsplit/api/internal/service"
	"github.com/stemsplit/api/internal/store"
	"github.com/stemsplit/api/internal/worker"
	ws "github.com/stemsplit/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Select the snapshot store
	var jobStore store.JobStore
	switch cfg.Store.Driver {
	case config.StoreDriverRedis:
		jobStore = store.NewRedisStore(redisClient)
	default:
		jobStore = store.NewMemoryStore()
	}
	log.Printf("Using %s job store", cfg.Store.Driver)

	// Initialize services
	jobTTL := time.Duration(cfg.Store.JobTTLSec) * time.Second
	jobService := service.NewJobService(jobStore, asynqClient, hub, jobTTL)

	// Initialize handlers
	jobHandler := handler.NewJobHandler(jobService, validate)
	webhookHandler := handler.NewWebhookHandler(jobService, validate)

	// Initialize middleware
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Webhook endpoint: HMAC-signed, outside client auth
	app.Post("/api/webhooks/separator",
		middleware.WebhookAuth(cfg.Webhook.Secret),
		webhookHandler.HandleSeparatorEvent,
	)

	// Client-facing API
	api := app.Group("/api")
	if cfg.Auth.JWTSecret != "" {
		authMiddleware := middleware.NewAuthMiddleware(cfg.Auth.JWTSecret)
		api.Use(authMiddleware.Authenticate())
	}

	api.Post("/upload/complete", rateLimiter.JobsLimit(cfg.RateLimit.JobsPerHour), jobHandler.Create)
	api.Get("/job/:id", jobHandler.Snapshot)

	if !cfg.IsProduction() {
		api.Post("/dev/advance", jobHandler.Advance)
	}

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		if _, err := jobService.Snapshot(context.Background(), jobID); err != nil {
			// Unknown or expired job: disconnect immediately
			c.Close()
			return
		}
		hub.HandleConnection(c, jobID, func() *model.JobSnapshot {
			snap, err := jobService.Snapshot(context.Background(), jobID)
			if err != nil {
				return nil
			}
			return snap
		})
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, jobService)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(cfg *config.Config, jobService *service.JobService) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"separation": 10,
			},
		},
	)

	var separator client.Separator
	if sc := client.NewSeparatorClient(&cfg.Separator); sc.IsConfigured() {
		separator = sc
	} else {
		log.Println("Separator service URL not configured; jobs stay queued until webhooks arrive")
	}

	submitWorker := worker.NewSubmitWorker(separator, jobService)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeSubmit, submitWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
