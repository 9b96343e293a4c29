package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/pagemill/pagemill/cache"
	"github.com/pagemill/pagemill/config"
	"github.com/pagemill/pagemill/convert"
	"github.com/pagemill/pagemill/engine"
	"github.com/pagemill/pagemill/pdfrenderer"
	"github.com/pagemill/pagemill/store"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// injectGlobals injects all of our globals into their packages
func injectGlobals(logger *slog.Logger) {
	Logger = logger
	config.Logger = Logger
	store.Logger = Logger
	cache.Logger = Logger
	convert.Logger = Logger
	engine.Logger = Logger
}

func main() {
	serverConfig, logger := config.SetupServer()
	injectGlobals(logger) //inject the logger into all of the packages

	// Show info banner if running against the in-memory store
	if serverConfig.StoreBackend == "memory" {
		fmt.Println("\n" + strings.Repeat("=", 50))
		fmt.Println("  IN-MEMORY OBJECT STORE MODE")
		fmt.Println(strings.Repeat("=", 50))
		fmt.Println("• Uploads and images vanish on exit")
		fmt.Println("• Perfect for testing and development")
		fmt.Println("• Set S3_ENDPOINT for durable storage")
		fmt.Println(strings.Repeat("=", 50) + "\n")
	}

	Logger.Info("Setting up object store", "backend", serverConfig.StoreBackend)
	objectStore, err := newObjectStore(serverConfig)
	if err != nil {
		Logger.Error("Failed to set up object store", "error", err)
		os.Exit(1)
	}

	Logger.Info("Setting up PDF renderer", "backend", serverConfig.RendererBackend)
	renderer, err := pdfrenderer.New(serverConfig.RendererBackend)
	if err != nil {
		Logger.Error("Failed to set up PDF renderer", "error", err)
		os.Exit(1)
	}
	defer renderer.Close()

	resultCache, memoryCache, err := newResultCache(serverConfig)
	if err != nil {
		Logger.Error("Failed to set up result cache", "error", err)
		os.Exit(1)
	}

	converter := convert.New(objectStore, renderer, resultCache, serverConfig)

	e := echo.New()
	e.HideBanner = true
	Logger.Info("Echo created")

	// Custom 404 handler returning the same JSON error shape as the API
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		}
		if code == http.StatusNotFound {
			c.JSON(http.StatusNotFound, map[string]string{
				"error":   convert.KindNotFound,
				"message": "no such route: " + c.Request().URL.Path,
			})
			return
		}
		e.DefaultHTTPErrorHandler(err, c)
	}

	e.Use(middleware.CORSWithConfig(middleware.DefaultCORSConfig))

	serverHandler := engine.ServerHandler{
		Echo:         e,
		ServerConfig: serverConfig,
		Store:        objectStore,
		Converter:    converter,
		MemoryCache:  memoryCache,
	}
	serverHandler.RegisterRoutes()
	Logger.Info("Routes registered, about to initialize schedules")
	serverHandler.InitializeSchedules() //initialize all the cron jobs
	Logger.Info("Schedules initialized, about to run startup checks")
	if err := serverHandler.StartupChecks(); err != nil { //Run all the sanity checks
		Logger.Error("Startup checks failed", "error", err)
		os.Exit(1)
	}
	Logger.Info("Startup checks complete")

	if serverConfig.ListenAddrIP == "" {
		Logger.Info("No Ip Addr set, binding on ALL addresses")
	}

	Logger.Info("Starting HTTP server")

	// Try to start server with automatic port increment if port is in use
	maxRetries := 5
	startPort := serverConfig.ListenAddrPort
	var startErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		addr := fmt.Sprintf("%s:%s", serverConfig.ListenAddrIP, serverConfig.ListenAddrPort)
		Logger.Info("Attempting to start server", "address", addr, "attempt", attempt+1)

		startErr = e.Start(addr)

		// Check if error is "address already in use"
		if startErr != nil && isAddressInUse(startErr) {
			Logger.Warn("Port already in use, trying next port",
				"port", serverConfig.ListenAddrPort,
				"attempt", attempt+1,
				"max_attempts", maxRetries)

			// Increment port for next attempt
			portNum := 0
			fmt.Sscanf(serverConfig.ListenAddrPort, "%d", &portNum)
			portNum++
			serverConfig.ListenAddrPort = fmt.Sprintf("%d", portNum)

			if attempt == maxRetries-1 {
				Logger.Error("Failed to find available port after maximum retries",
					"start_port", startPort,
					"end_port", serverConfig.ListenAddrPort,
					"max_retries", maxRetries)
				os.Exit(1)
			}
		} else if startErr != nil {
			// Some other error occurred
			Logger.Error("Failed to start server", "error", startErr)
			os.Exit(1)
		} else {
			// Server started successfully
			break
		}
	}

	// If we got here and startErr is nil, server started successfully
	if startErr == nil && serverConfig.ListenAddrPort != startPort {
		Logger.Warn("Server started on alternative port due to conflicts",
			"requested_port", startPort,
			"actual_port", serverConfig.ListenAddrPort)
	}
}

// newObjectStore builds the configured object store backend.
func newObjectStore(serverConfig config.ServerConfig) (store.ObjectStore, error) {
	switch serverConfig.StoreBackend {
	case "minio":
		return store.NewMinioStore(serverConfig)
	case "memory":
		return store.NewMemoryStore(serverConfig.PublicBaseURL), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %q", serverConfig.StoreBackend)
	}
}

// newResultCache assembles the cache layers: an in-process front cache, with a
// persistent bun-backed layer behind it when one is configured.
func newResultCache(serverConfig config.ServerConfig) (convert.ResultCache, *cache.Memory, error) {
	memoryCache := cache.NewMemory(time.Duration(serverConfig.CacheTTLMinutes) * time.Minute)

	switch serverConfig.CacheBackend {
	case "memory":
		return memoryCache, memoryCache, nil
	case "sqlite", "postgres":
		bunCache, err := cache.NewBun(serverConfig)
		if err != nil {
			return nil, nil, err
		}
		return cache.NewTiered(memoryCache, bunCache), memoryCache, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend: %q", serverConfig.CacheBackend)
	}
}

// isAddressInUse checks if the error is due to address already in use
func isAddressInUse(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "address already in use")
}
