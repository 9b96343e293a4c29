package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/pagemill/pagemill/store"
)

// StartupChecks performs all the checks to make sure everything works
func (serverHandler *ServerHandler) StartupChecks() error {
	if err := serverHandler.storeChecks(); err != nil {
		return err
	}
	conversionChecks(serverHandler.ServerConfig.MainImageSize,
		serverHandler.ServerConfig.PreviewImageSize,
		serverHandler.ServerConfig.JPEGQuality)
	return nil
}

// storeChecks verifies the object store backend is reachable before we start
// issuing upload URLs against it.
func (serverHandler *ServerHandler) storeChecks() error {
	pinger, ok := serverHandler.Store.(store.Pinger)
	if !ok {
		Logger.Info("Object store has no reachability check, skipping")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := pinger.Ping(ctx); err != nil {
		Logger.Error("Object store unreachable", "backend", serverHandler.ServerConfig.StoreBackend, "error", err)
		return fmt.Errorf("object store unreachable: %w", err)
	}
	Logger.Info("Object store reachable", "backend", serverHandler.ServerConfig.StoreBackend)
	return nil
}

func conversionChecks(mainSize, previewSize, quality int) {
	if previewSize >= mainSize {
		Logger.Warn("Preview size is not smaller than the main image size", "main", mainSize, "preview", previewSize)
	}
	if quality < 1 || quality > 100 {
		Logger.Warn("JPEG quality outside the 1-100 range, encoder will clamp it", "quality", quality)
	}
}
