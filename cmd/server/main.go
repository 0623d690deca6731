package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/syncsound/syncsound/internal/config"
	"github.com/syncsound/syncsound/internal/httpapi"
	"github.com/syncsound/syncsound/internal/registry"
)

func main() {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}

	var cfg config.Config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.NewRegistry(ctx, cfg.Sync.LeadTimeMS, logger)
	handler := httpapi.SetupRoutes(reg, logger)

	srv := &http.Server{
		Addr:              cfg.Rest.Address,
		Handler:           handler,
		ReadTimeout:       time.Duration(cfg.Rest.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.Rest.WriteTimeout) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.Rest.ReadHeaderTimeout) * time.Second,
		IdleTimeout:       time.Duration(cfg.Rest.IdleTimeout) * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	<-signalChan

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	reg.Inbox() <- registry.ShutdownRegistry{}
}
