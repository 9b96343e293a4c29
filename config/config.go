package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// ServerConfig contains all of the server settings
type ServerConfig struct {
	ListenAddrIP   string
	ListenAddrPort string
	PublicBaseURL  string

	StoreBackend        string // minio or memory
	S3Endpoint          string
	S3AccessKey         string `json:"-"`
	S3SecretKey         string `json:"-"`
	S3Bucket            string
	S3Region            string
	S3UseSSL            bool
	UploadURLTTLMinutes int

	RendererBackend  string // pdfium or fitz
	MainImageSize    int
	PreviewImageSize int
	JPEGQuality      int

	CacheBackend          string // memory, sqlite or postgres
	CacheDatabaseHost     string
	CacheDatabasePort     string
	CacheDatabaseUser     string
	CacheDatabasePassword string `json:"-"`
	CacheDatabaseName     string
	CacheDatabaseSslmode  string
	CacheTTLMinutes       int
	CacheSweepMinutes     int

	ProcessTimeoutSeconds int
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolVal
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intVal
}

// SetupServer loads configuration and returns ServerConfig and Logger
func SetupServer() (ServerConfig, *slog.Logger) {
	serverConfigLive := ServerConfig{}

	// Load .env file (silently ignore if doesn't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("config.env")

	logger := setupLogging()
	Logger = logger

	// Server configuration
	serverConfigLive.ListenAddrPort = getEnv("SERVER_PORT", "8080")
	serverConfigLive.ListenAddrIP = getEnv("SERVER_ADDR", "")
	serverConfigLive.PublicBaseURL = getEnv("PUBLIC_BASE_URL",
		fmt.Sprintf("http://localhost:%s", serverConfigLive.ListenAddrPort))

	// Object store configuration
	serverConfigLive.StoreBackend = getEnv("STORE_BACKEND", "minio")
	serverConfigLive.S3Endpoint = getEnv("S3_ENDPOINT", "")
	serverConfigLive.S3AccessKey = getEnv("S3_ACCESS_KEY", "")
	serverConfigLive.S3SecretKey = getEnv("S3_SECRET_KEY", "")
	serverConfigLive.S3Bucket = getEnv("S3_BUCKET", "pagemill")
	serverConfigLive.S3Region = getEnv("S3_REGION", "")
	serverConfigLive.S3UseSSL = getEnvBool("S3_USE_SSL", true)
	serverConfigLive.UploadURLTTLMinutes = getEnvInt("UPLOAD_URL_TTL_MINUTES", 60)

	if serverConfigLive.StoreBackend == "minio" && serverConfigLive.S3Endpoint == "" {
		logger.Warn("S3_ENDPOINT not set, falling back to in-memory object store")
		serverConfigLive.StoreBackend = "memory"
	}
	logger.Info("Object store configuration loaded", "backend", serverConfigLive.StoreBackend)

	// Conversion configuration
	serverConfigLive.RendererBackend = getEnv("PDF_RENDERER", "pdfium")
	serverConfigLive.MainImageSize = getEnvInt("MAIN_IMAGE_SIZE", 2000)
	serverConfigLive.PreviewImageSize = getEnvInt("PREVIEW_IMAGE_SIZE", 300)
	serverConfigLive.JPEGQuality = getEnvInt("JPEG_QUALITY", 85)
	serverConfigLive.ProcessTimeoutSeconds = getEnvInt("PROCESS_TIMEOUT_SECONDS", 120)

	// Result cache configuration
	serverConfigLive.CacheBackend = getEnv("CACHE_BACKEND", "memory")
	serverConfigLive.CacheDatabaseHost = getEnv("CACHE_DATABASE_HOST", "localhost")
	serverConfigLive.CacheDatabasePort = getEnv("CACHE_DATABASE_PORT", "5432")
	serverConfigLive.CacheDatabaseUser = getEnv("CACHE_DATABASE_USER", "pagemill")
	serverConfigLive.CacheDatabasePassword = getEnv("CACHE_DATABASE_PASSWORD", "")
	serverConfigLive.CacheDatabaseName = getEnv("CACHE_DATABASE_NAME", "pagemill")
	serverConfigLive.CacheDatabaseSslmode = getEnv("CACHE_DATABASE_SSLMODE", "disable")
	serverConfigLive.CacheTTLMinutes = getEnvInt("CACHE_TTL_MINUTES", 0) // 0 = no expiry
	serverConfigLive.CacheSweepMinutes = getEnvInt("CACHE_SWEEP_MINUTES", 10)
	logger.Info("Cache configuration loaded", "backend", serverConfigLive.CacheBackend)

	fmt.Println("\n========================================")
	fmt.Println("   pagemill - PDF page image service")
	fmt.Println("========================================")
	fmt.Printf("Server will start on: %s:%s\n", serverConfigLive.ListenAddrIP, serverConfigLive.ListenAddrPort)
	if serverConfigLive.ListenAddrIP == "" {
		fmt.Println("(Listening on all network interfaces)")
	}
	fmt.Printf("Object store: %s   Renderer: %s   Cache: %s\n",
		serverConfigLive.StoreBackend, serverConfigLive.RendererBackend, serverConfigLive.CacheBackend)
	fmt.Println("Initializing...")

	return serverConfigLive, logger
}

// setupLogging configures the application logger
func setupLogging() *slog.Logger {
	logLevel := getEnv("LOG_LEVEL", "info")
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOptions := &slog.HandlerOptions{Level: level}

	logOutput := getEnv("LOG_OUTPUT", "stdout")
	var logWriter io.Writer

	if logOutput == "stdout" {
		logWriter = os.Stdout
	} else {
		logPath, err := filepath.Abs(filepath.ToSlash(getEnv("LOG_FILE", "pagemill.log")))
		if err != nil {
			fmt.Printf("Error creating log file path: %v\n", err)
			logWriter = os.Stdout
		} else {
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				fmt.Printf("Failed to open log file: %v\n", err)
				logWriter = os.Stdout
			} else {
				logWriter = logFile
				fmt.Println("Logging to file: ", logPath)
			}
		}
	}

	handler := slog.NewTextHandler(logWriter, handlerOptions)
	return slog.New(handler)
}
