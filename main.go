package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hookrelay/internal/api"
	"hookrelay/internal/cache"
	"hookrelay/internal/config"
	"hookrelay/internal/metrics"
	"hookrelay/internal/queue"
	"hookrelay/internal/retention"
	"hookrelay/internal/store"
	"hookrelay/internal/worker"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}
	cfg := config.FromEnv()

	dbConn, err := store.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := store.Migrate(dbConn); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Println("Connected to database and applied migrations")

	redisClient, err := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisUsername)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	log.Println("Connected to Redis")

	metrics.Register()

	st := store.NewPostgres(dbConn)
	subCache := cache.NewSubscriptionCache(cache.NewRedisKV(redisClient), st)
	taskQueue := queue.NewRedis(redisClient)
	dispatcher := worker.NewDispatcher(subCache, taskQueue)
	pool := worker.NewPool(taskQueue, taskQueue, subCache, st, cfg.Workers)
	sweeper := retention.NewSweeper(st, cfg.Retention())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go taskQueue.RunPromoter(ctx)
	pool.Start(ctx)
	go sweeper.Run(ctx, cfg.SweepInterval)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{echo.GET, echo.POST, echo.PATCH, echo.DELETE, echo.OPTIONS},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, "X-Event-Type"},
	}))
	api.RegisterRoutes(e, api.NewHandler(st, subCache, dispatcher))

	// Graceful shutdown: stop accepting requests, then let workers drain.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Println("Shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			e.Logger.Fatal(err)
		}
		cancel()
		pool.Wait()
	}()

	if err := e.Start(":" + cfg.Port); err != nil {
		log.Printf("Server stopped: %v", err)
	}
}
