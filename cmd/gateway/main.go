package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/promptforge/admission-gateway/internal/config"
	"github.com/promptforge/admission-gateway/internal/server"
	"github.com/promptforge/admission-gateway/internal/storage"
)

func main() {
	// Load env if it exists
	godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load("config.json")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Environment != "production" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		log.SetLevel(logrus.DebugLevel)
	}

	deps := server.Deps{Log: log}

	// Admission control is only fleet-correct on shared counters. A
	// missing Redis degrades to in-process counting rather than
	// refusing to boot.
	redis, err := storage.NewRedis(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.WithError(err).Warn("Redis unreachable, falling back to in-process rate limiting")
	} else {
		deps.Redis = redis
		defer redis.Close()
		log.Info("Connected to Redis")
	}

	if cfg.Postgres.DSN != "" {
		postgres, err := storage.NewPostgres(cfg.Postgres.DSN)
		if err != nil {
			log.WithError(err).Warn("Postgres unreachable, tier resolution stays static")
		} else {
			deps.Postgres = postgres
			defer postgres.Close()

			if err := postgres.AutoMigrate(); err != nil {
				log.WithError(err).Warn("database migration failed")
			}
			log.Info("Connected to Postgres")
		}
	}

	srv, err := server.New(cfg, deps)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	go func() {
		addr := ":" + cfg.Server.Port
		if err := srv.Run(addr); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Info("Server exited")
}
