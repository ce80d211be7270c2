package handler

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"milk-ticket-backend/internal/config"
	"milk-ticket-backend/internal/ingest"
	"milk-ticket-backend/internal/models"
	service "milk-ticket-backend/internal/services/reconciliation"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultPreviewLimit = 10

type ReconciliationHandler struct {
	service *service.ReconciliationService
}

func NewReconciliationHandler(s *service.ReconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{service: s}
}

// Run reconciles an export that already sits on the server's disk.
func (h *ReconciliationHandler) Run(c *gin.Context) {
	var payload struct {
		SourcePath string `json:"source_path" binding:"required"`
		BatchSize  int    `json:"batch_size"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source_path is required"})
		return
	}

	res, err := h.service.Run(c.Request.Context(), payload.SourcePath, payload.BatchSize)
	if err != nil {
		respondRunError(c, res, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "reconciliation completed", "result": res})
}

// Upload stores the posted export in a temp file and reconciles it in the
// background. Clients poll GetRun with the returned run id.
func (h *ReconciliationHandler) Upload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file required"})
		return
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	switch ext {
	case ".xlsx", ".xlsm", ".csv":
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type " + ext})
		return
	}

	dir, err := os.MkdirTemp("", "milk-ticket-upload-")
	if err != nil {
		config.LogError(config.GetLogger(), "handler", "Upload", "create temp dir", nil, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store upload"})
		return
	}
	path := filepath.Join(dir, filepath.Base(header.Filename))
	if err := c.SaveUploadedFile(header, path); err != nil {
		_ = os.RemoveAll(dir)
		config.LogError(config.GetLogger(), "handler", "Upload", "save upload", header.Filename, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store upload"})
		return
	}

	batchSize, _ := strconv.Atoi(c.PostForm("batch_size"))
	filename := header.Filename
	runID, err := h.service.Start(c.Request.Context(), path, batchSize, func(res service.Result, err error) {
		_ = os.RemoveAll(dir)
		log := config.GetLogger().WithFields(logrus.Fields{"run_id": res.RunID.String(), "file": filename})
		if err != nil {
			log.WithError(err).Error("uploaded export failed to reconcile")
			return
		}
		log.WithField("inserted", res.Inserted).Info("uploaded export reconciled")
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		respondRunError(c, service.Result{}, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"run_id": runID.String(),
		"status": models.RunStatusProcessing,
	})
}

// Preview shows the tickets an export would produce without storing them.
func (h *ReconciliationHandler) Preview(c *gin.Context) {
	path := c.Query("source_path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source_path is required"})
		return
	}
	limit := defaultPreviewLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	items, err := h.service.Preview(c.Request.Context(), path, limit)
	if err != nil {
		respondRunError(c, service.Result{}, err)
		return
	}
	if items == nil {
		items = []models.MilkTicket{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

func (h *ReconciliationHandler) GetRun(c *gin.Context) {
	id, err := uuid.Parse(c.Param("runId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run ID"})
		return
	}

	run, err := h.service.GetRun(c.Request.Context(), id)
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		config.LogError(config.GetLogger(), "handler", "GetRun", "load run", id.String(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run"})
		return
	}
	c.JSON(http.StatusOK, run)
}

func respondRunError(c *gin.Context, res service.Result, err error) {
	var commitErr *service.CommitError
	switch {
	case errors.Is(err, service.ErrRunInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, fs.ErrNotExist),
		errors.Is(err, ingest.ErrMissingColumns),
		errors.Is(err, ingest.ErrUnsupportedFormat),
		errors.Is(err, ingest.ErrSheetNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "run_id": runIDOrEmpty(res)})
	case errors.As(err, &commitErr):
		config.LogError(config.GetLogger(), "handler", "respondRunError", "commit", commitErr.NotPersisted, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":         "storing tickets failed, earlier batches were kept",
			"result":        res,
			"not_persisted": commitErr.NotPersisted,
		})
	default:
		config.LogError(config.GetLogger(), "handler", "respondRunError", "run", nil, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func runIDOrEmpty(res service.Result) string {
	if res.RunID == uuid.Nil {
		return ""
	}
	return res.RunID.String()
}
