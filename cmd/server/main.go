// Package main is the entry point for the GTA V map fragment server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gtav-tiles/server/internal/api"
	"github.com/gtav-tiles/server/internal/cache"
	"github.com/gtav-tiles/server/internal/config"
	"github.com/gtav-tiles/server/internal/logger"
	"github.com/gtav-tiles/server/internal/render"
	"github.com/gtav-tiles/server/internal/service"
	"github.com/gtav-tiles/server/pkg/colormap"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.New(cfg.Server.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting fragment server", zap.Int("port", cfg.Server.Port))

	// Initialize fragment cache (shared across all maps)
	fragmentCache, err := cache.NewManager(cache.Config{
		FragmentCacheSizeMB: cfg.Cache.FragmentSizeMB,
		FragmentTTL:         time.Duration(cfg.Cache.FragmentTTLMinutes) * time.Minute,
	})
	if err != nil {
		zapLogger.Fatal("Failed to initialize cache", zap.Error(err))
	}
	defer fragmentCache.Close()

	// Initialize map registry
	mapIDs := cfg.Maps.IDs()
	registry := api.NewMapRegistry(cfg.Maps.Default, mapIDs)

	zapLogger.Info("Initializing maps",
		zap.Int("count", len(mapIDs)),
		zap.String("default", cfg.Maps.Default),
	)

	for _, mapID := range mapIDs {
		m := cfg.Maps.Entries[mapID]

		calibration := render.DefaultCalibration
		if m.Calibration != nil {
			calibration = *m.Calibration
		}

		svc, err := service.OpenFragmentService(service.MapOptions{
			MapID:        mapID,
			TilesDir:     m.TilesDir,
			TileExt:      m.TileExt,
			TileSize:     m.TileSize,
			Calibration:  calibration,
			TileCapacity: cfg.Cache.TileCapacity,
			Fragments:    fragmentCache,
			JPEGQuality:  cfg.Render.JPEGQuality,
			Logger:       zapLogger,
		})
		if err != nil {
			zapLogger.Fatal("Failed to open map",
				zap.String("map", mapID),
				zap.String("tiles_dir", m.TilesDir),
				zap.Error(err),
			)
		}

		info := svc.Info()
		zapLogger.Info("Map loaded",
			zap.String("map", mapID),
			zap.String("tiles_dir", m.TilesDir),
			zap.Int("tiles", info.Tiles),
			zap.Int("width", info.Width),
			zap.Int("height", info.Height),
		)
		registry.Register(mapID, svc)
	}

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      zapLogger,
		Fragments: api.FragmentDefaults{
			Width:   cfg.Render.DefaultWidth,
			Height:  cfg.Render.DefaultHeight,
			MaxSize: cfg.Render.MaxSize,
			Color:   colormap.ParseMarkerColor(cfg.Render.DefaultColor),
		},
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		zapLogger.Info("Server listening", zap.String("addr", fmt.Sprintf("http://localhost:%d", cfg.Server.Port)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLogger.Warn("Server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("Server stopped")
}
