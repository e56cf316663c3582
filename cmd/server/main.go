package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nvct-backend/internal/app"
	"nvct-backend/internal/config"
	"nvct-backend/internal/router"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "config file (default config.local.yaml or config.yaml)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("❌ Failed to load config: %v", err)
	}
	config.ConfigureLogger(cfg.Log)
	if logrus.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := app.NewServiceContainer(ctx, cfg)
	if err != nil {
		logrus.Fatalf("❌ Failed to initialize services: %v", err)
	}
	defer container.Close()

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.SetupRouter(container),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logrus.Infof("🚀 NVCT backend listening on %s (current network: %s)", srv.Addr, container.Contracts.CurrentNetwork())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("❌ HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logrus.Info("🛑 Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("❌ HTTP server shutdown failed")
	}
}
