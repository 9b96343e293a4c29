package engine

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pagemill/pagemill/config"
	"github.com/pagemill/pagemill/convert"
	"github.com/pagemill/pagemill/store"
)

// ServerHandler will inject the variables needed into routes
type ServerHandler struct {
	Echo         *echo.Echo
	ServerConfig config.ServerConfig
	Store        store.ObjectStore
	Converter    *convert.Converter

	// MemoryCache is swept by the janitor schedule; nil when the front cache
	// has no expiry configured.
	MemoryCache Sweeper
}

// Sweeper is the piece of the front cache the janitor needs.
type Sweeper interface {
	Sweep() int
}

type uploadTargetResponse struct {
	UploadURL string `json:"uploadUrl"`
	FileID    string `json:"fileId"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RegisterRoutes attaches all API routes to the echo instance.
func (serverHandler *ServerHandler) RegisterRoutes() {
	serverHandler.Echo.GET("/upload_url", serverHandler.GetUploadURL)
	serverHandler.Echo.GET("/process/:fileId", serverHandler.ProcessDocument)

	// The in-memory store backend has no external S3 endpoint, so the server
	// itself accepts the upload PUTs and serves the stored blobs.
	if memoryStore, ok := serverHandler.Store.(*store.MemoryStore); ok {
		serverHandler.Echo.PUT("/upload/:fileId", serverHandler.acceptUpload(memoryStore))
		serverHandler.Echo.GET("/blob/*", serverHandler.serveBlob(memoryStore))
	}
}

// GetUploadURL issues a fresh file ID and a time-limited URL the client can
// PUT the source document to.
func (serverHandler *ServerHandler) GetUploadURL(c echo.Context) error {
	ctx := c.Request().Context()
	fileID, uploadURL, err := serverHandler.Store.NewUploadTarget(ctx)
	if err != nil {
		Logger.Error("Unable to issue upload URL", "error", err)
		return c.JSON(http.StatusBadGateway, errorResponse{
			Error:   convert.KindUpstreamStore,
			Message: "unable to issue upload URL",
		})
	}
	Logger.Info("Issued upload URL", "fileId", fileID)
	return c.JSON(http.StatusOK, uploadTargetResponse{UploadURL: uploadURL, FileID: fileID})
}

// ProcessDocument converts a previously uploaded document into per-page images
// and returns their public URLs.
func (serverHandler *ServerHandler) ProcessDocument(c echo.Context) error {
	fileID := c.Param("fileId")
	if !store.ValidFileID(fileID) {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Error:   convert.KindBadRequest,
			Message: "malformed file id: " + fileID,
		})
	}

	timeout := time.Duration(serverHandler.ServerConfig.ProcessTimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
	defer cancel()

	result, err := serverHandler.Converter.Process(ctx, fileID, c.RealIP())
	if err != nil {
		kind := convert.KindOf(err)
		Logger.Error("Conversion failed", "fileId", fileID, "kind", kind, "error", err)
		return c.JSON(statusForKind(kind), errorResponse{
			Error:   kind,
			Message: err.Error(),
		})
	}
	return c.JSON(http.StatusOK, result)
}

// statusForKind maps a conversion error kind onto an HTTP status code.
func statusForKind(kind string) int {
	switch kind {
	case convert.KindBadRequest:
		return http.StatusBadRequest
	case convert.KindNotFound:
		return http.StatusNotFound
	case convert.KindConversionFailed:
		return http.StatusInternalServerError
	case convert.KindUpstreamStore:
		return http.StatusBadGateway
	case convert.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// acceptUpload receives the source document the client was directed to PUT.
// Only registered when the memory store backend is active.
func (serverHandler *ServerHandler) acceptUpload(memoryStore *store.MemoryStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		fileID := c.Param("fileId")
		if !store.ValidFileID(fileID) {
			return c.JSON(http.StatusBadRequest, errorResponse{
				Error:   convert.KindBadRequest,
				Message: "malformed file id: " + fileID,
			})
		}
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{
				Error:   convert.KindBadRequest,
				Message: "unable to read upload body",
			})
		}
		key := store.SourceKey(fileID)
		if err := memoryStore.Put(c.Request().Context(), key, body, "application/pdf"); err != nil {
			Logger.Error("Unable to store uploaded document", "fileId", fileID, "error", err)
			return c.JSON(http.StatusBadGateway, errorResponse{
				Error:   convert.KindUpstreamStore,
				Message: "unable to store uploaded document",
			})
		}
		Logger.Info("Stored uploaded document", "fileId", fileID, "bytes", len(body))
		return c.NoContent(http.StatusOK)
	}
}

// serveBlob serves stored objects back to clients of the memory store backend.
func (serverHandler *ServerHandler) serveBlob(memoryStore *store.MemoryStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := c.Param("*")
		data, contentType, ok := memoryStore.Object(key)
		if !ok {
			return c.JSON(http.StatusNotFound, errorResponse{
				Error:   convert.KindNotFound,
				Message: "no stored object at " + key,
			})
		}
		return c.Blob(http.StatusOK, contentType, data)
	}
}
