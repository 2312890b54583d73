package main

import (
	"context"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"gocdr/adapters/api"
	"gocdr/internal"
	"gocdr/internal/cdr"
	"gocdr/internal/config"
	"gocdr/internal/container"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := internal.NewDefaultLogger()
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		logger = internal.NewLogger(internal.ParseLogLevel(level))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appContainer, err := container.New(appConfig, logger)
	if err != nil {
		log.Fatalf("Failed to create application container: %v", err)
	}
	defer appContainer.Shutdown(context.Background())

	if appConfig.Database.URL != "" {
		db, err := container.OpenDatabase(ctx, appConfig.Database.URL, appConfig.Database.MaxOpenConns)
		if err != nil {
			log.Fatalf("Failed to open run registry: %v", err)
		}
		if err := appContainer.InitWithDatabase(ctx, db); err != nil {
			log.Fatalf("Failed to initialize container: %v", err)
		}
	} else {
		logger.Warn("DATABASE_URL not set, run endpoints are disabled")
	}

	model, err := cdr.Load(appConfig.Paths.ModelDir, logger)
	if err != nil {
		log.Fatalf("Failed to load model from %s: %v", appConfig.Paths.ModelDir, err)
	}
	logger.Info("loaded model %s at step %d", model.ID(), model.Step())

	// Start pprof server for performance profiling
	if appConfig.Profiling.Enabled {
		go func() {
			logger.Info("profiling server starting on :%s", appConfig.Profiling.Port)
			if err := http.ListenAndServe(":"+appConfig.Profiling.Port, nil); err != nil {
				logger.Error("pprof server failed: %v", err)
			}
		}()
	}

	server := api.NewServer(api.Config{Port: appConfig.Server.Port}, model, appContainer.RunRepo, logger)
	logger.Info("starting model server on port %s", appConfig.Server.Port)
	if err := server.Start(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
