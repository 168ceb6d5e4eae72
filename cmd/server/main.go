package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	sentry "github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron"

	config "github.com/contentpilot/postpilot/configs"
	"github.com/contentpilot/postpilot/internal/api/handlers"
	"github.com/contentpilot/postpilot/internal/api/middleware"
	"github.com/contentpilot/postpilot/internal/autolist"
	job "github.com/contentpilot/postpilot/internal/jobs"
	"github.com/contentpilot/postpilot/internal/platform"
	"github.com/contentpilot/postpilot/internal/publisher"
	"github.com/contentpilot/postpilot/internal/repository"
	"github.com/contentpilot/postpilot/internal/scheduler"
	"github.com/contentpilot/postpilot/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.AppEnv,
		})
		if err != nil {
			log.Fatalf("sentry.Init: %s", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer closeDB(db)

	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	sched := scheduler.New(redisConn)
	defer sched.Close()

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		BodyLimit:    100 * 1024 * 1024, // 100 MB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Printf("Error: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	postRepo := repository.NewPostRepository(db)
	contentRepo := repository.NewContentRepository(db)
	connectionRepo := repository.NewConnectionRepository(db)
	autolistRepo := repository.NewAutolistSettingsRepository(db)

	adapters := platform.NewRegistry(
		platform.NewTiktokAdapter(cfg.TiktokClientKey, cfg.TiktokClientSecret),
		platform.NewInstagramAdapter(cfg.InstagramClientID, cfg.InstagramClientSecret),
		platform.NewYoutubeAdapter(cfg.GoogleClientID, cfg.GoogleClientSecret),
	)

	worker := publisher.NewWorker(postRepo, contentRepo, connectionRepo, adapters, sched, cfg.SecretKey)
	rotator := autolist.NewRotator(autolistRepo, contentRepo, postRepo, sched)

	postService := service.NewPostService(postRepo, contentRepo, connectionRepo, adapters, sched, cfg.SecretKey)
	mediaService := service.NewMediaService(*cfg)
	autolistService := autolist.NewService(autolistRepo, contentRepo)

	authMiddleware := middleware.NewAuthMiddleware(*cfg)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	post := handlers.NewPostHandler(postService)
	api.Post("/posts/publish", post.CreatePost)
	api.Get("/posts", post.ListPosts)
	api.Get("/posts/:id/status", post.PostStatus)
	api.Post("/posts/:id/cancel", post.CancelPost)
	api.Post("/posts/:id/metrics/refresh", post.RefreshMetrics)
	api.Get("/queue/counts", post.QueueCounts)

	al := handlers.NewAutolistHandler(autolistService, rotator)
	api.Get("/autolist/:brand/:platform", al.GetSettings)
	api.Post("/autolist/:brand/:platform/tick", al.Tick)
	api.Post("/autolist/queue/add", al.AddToQueue)
	api.Post("/autolist/queue/remove", al.RemoveFromQueue)
	api.Post("/autolist/settings", al.UpdateSettings)

	media := handlers.NewMediaHandler(mediaService)
	api.Post("/media/upload", media.Upload)

	// cron jobs
	sweepJob := job.NewAutolistSweepJob(autolistRepo, sched)
	refreshJob := job.NewTokenRefreshJob(connectionRepo, adapters, cfg.SecretKey)

	c := cron.New()
	c.AddFunc("@every 00h01m00s", sweepJob.Sweep)
	c.AddFunc("@every 00h10m00s", refreshJob.RefreshTokens)
	c.Start()
	defer c.Stop()

	server := asynq.NewServer(redisConn, asynq.Config{
		Concurrency: 7,
		Queues: map[string]int{
			scheduler.QueuePublish:  5,
			scheduler.QueueAutolist: 2,
		},
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(scheduler.TaskTypePublishPost, worker.HandlePublishTask)
	mux.HandleFunc(scheduler.TaskTypeAutolistTick, rotator.HandleTickTask)

	go func() {
		log.Println("Starting the Asynq server...")
		if err := server.Run(mux); err != nil {
			log.Fatalf("Could not start Asynq server: %v", err)
		}
	}()

	go func() {
		if err := app.Listen(":3000"); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Println("Server is running on http://localhost:3000")

	gracefulShutdown(app, server, db)
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, server *asynq.Server, db *sql.DB) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down server...")

	server.Shutdown()

	if err := app.Shutdown(); err != nil {
		log.Fatalf("Failed to shut down server: %v", err)
	}

	closeDB(db)
	log.Println("Server shutdown complete.")
}
