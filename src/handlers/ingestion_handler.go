// backend/src/handlers/ingestion_handler.go
package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/patrickmn/go-cache"
	"github.com/username/ledgersync/backend/src/config"
	"github.com/username/ledgersync/backend/src/logger"
	"github.com/username/ledgersync/backend/src/models"
	"github.com/username/ledgersync/backend/src/services"
	"github.com/username/ledgersync/backend/src/utils"
	"github.com/username/ledgersync/backend/src/workflow"
)

const ckInstanceStatus = "status_instance_%s"

type IngestionHandler struct {
	ingestionService services.IngestionService
	statusCache      *cache.Cache
}

func NewIngestionHandler(service services.IngestionService, statusCache *cache.Cache) *IngestionHandler {
	return &IngestionHandler{
		ingestionService: service,
		statusCache:      statusCache,
	}
}

// HandleUpload accepts a multipart transaction export, validates it, queues
// the ingestion pipeline and replies 202 with the instance ID and the parsed
// row count. The pipeline itself completes (or fails) after this returns;
// callers observe the outcome via HandleStatus.
func (h *IngestionHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	if err := r.ParseMultipartForm(config.Cfg.MaxUploadSizeBytes); err != nil {
		ctxLogger.Warn("Failed to parse multipart form or request too large", "error", err, "limit", config.Cfg.MaxUploadSizeBytes)
		utils.SendJSONError(w, fmt.Sprintf("failed to parse upload or file too large (max %d MB)", config.Cfg.MaxUploadSizeBytes/(1024*1024)), http.StatusBadRequest)
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		ctxLogger.Warn("Failed to retrieve file from request", "error", err)
		utils.SendJSONError(w, "failed to retrieve file from request; ensure the 'file' field is used", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if fileHeader.Size > config.Cfg.MaxUploadSizeBytes {
		ctxLogger.Warn("Uploaded file too large", "fileSize", fileHeader.Size, "limit", config.Cfg.MaxUploadSizeBytes)
		utils.SendJSONError(w, fmt.Sprintf("file too large, max %d MB", config.Cfg.MaxUploadSizeBytes/(1024*1024)), http.StatusBadRequest)
		return
	}

	rawText, err := io.ReadAll(io.LimitReader(file, config.Cfg.MaxUploadSizeBytes+1))
	if err != nil {
		ctxLogger.Error("Failed to read uploaded file", "error", err)
		utils.SendJSONError(w, "failed to read uploaded file", http.StatusInternalServerError)
		return
	}

	ctxLogger.Info("Processing upload request", "filename", fileHeader.Filename, "size", fileHeader.Size)

	accepted, err := h.ingestionService.StartIngestion(r.Context(), models.IngestionRequest{
		RawText:  string(rawText),
		Filename: fileHeader.Filename,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrMalformedUpload):
			ctxLogger.Warn("Rejected malformed upload", "filename", fileHeader.Filename, "error", err)
			utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, services.ErrEmptyUpload):
			ctxLogger.Warn("Rejected empty upload", "filename", fileHeader.Filename)
			utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		default:
			ctxLogger.Error("Failed to start ingestion", "filename", fileHeader.Filename, "error", err)
			utils.SendJSONError(w, "failed to start ingestion", http.StatusInternalServerError)
		}
		return
	}

	utils.SendJSON(w, accepted, http.StatusAccepted)
}

// HandleStatus answers status polls. Terminal statuses are immutable, so
// they are served from cache once seen.
func (h *IngestionHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	instanceID := chi.URLParam(r, "id")
	if instanceID == "" {
		utils.SendJSONError(w, "instance id is required", http.StatusBadRequest)
		return
	}

	cacheKey := fmt.Sprintf(ckInstanceStatus, instanceID)
	if cached, found := h.statusCache.Get(cacheKey); found {
		utils.SendJSON(w, cached.(*models.StatusResponse), http.StatusOK)
		return
	}

	status, err := h.ingestionService.GetStatus(r.Context(), instanceID)
	if err != nil {
		if errors.Is(err, workflow.ErrInstanceNotFound) {
			utils.SendJSONError(w, "unknown instance id", http.StatusNotFound)
			return
		}
		ctxLogger.Error("Failed to query instance status", "instanceID", instanceID, "error", err)
		utils.SendJSONError(w, "failed to query instance status", http.StatusInternalServerError)
		return
	}

	if status.Status.Terminal() {
		h.statusCache.Set(cacheKey, status, cache.DefaultExpiration)
	}
	utils.SendJSON(w, status, http.StatusOK)
}
