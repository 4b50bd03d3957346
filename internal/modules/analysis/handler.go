package analysis

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	appcfg "github.com/shiftsight/core/internal/config"
	"github.com/shiftsight/core/internal/middleware"
	"github.com/shiftsight/core/internal/models"
	"github.com/shiftsight/core/internal/pkg/response"
	"go.uber.org/zap"
)

const jobListLimit = 20

type Handler struct {
	service *Service
	upload  appcfg.UploadConfig
	log     *zap.Logger
}

func NewHandler(service *Service, upload appcfg.UploadConfig, log *zap.Logger) *Handler {
	return &Handler{service: service, upload: upload, log: log}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	group := rg.Group("/analysis", authMW)
	group.POST("/shift-reports", h.submit)
	group.GET("/jobs", h.list)
	group.GET("/jobs/:id/status", h.status)
	group.GET("/jobs/:id", h.detail)
	group.POST("/jobs/:id/cancel", h.cancel)
}

type jobStatusResponse struct {
	ID               string           `json:"id"`
	Status           models.JobStatus `json:"status"`
	Progress         int              `json:"progress"`
	TotalRows        int              `json:"total_rows"`
	ProcessedRows    int              `json:"processed_rows"`
	EstimatedSeconds int              `json:"estimated_seconds"`
	Error            string           `json:"error,omitempty"`
}

func jobStatusOf(job *models.AnalysisJobModel) jobStatusResponse {
	return jobStatusResponse{
		ID:               job.ID,
		Status:           job.Status,
		Progress:         job.Progress,
		TotalRows:        job.TotalRows,
		ProcessedRows:    job.ProcessedRows,
		EstimatedSeconds: job.EstimatedSeconds,
		Error:            job.Error,
	}
}

func (h *Handler) submit(c *gin.Context) {
	userID := middleware.CurrentUserID(c)

	file, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "a csv file is required")
		return
	}
	if !strings.EqualFold(filepath.Ext(file.Filename), ".csv") {
		response.UnprocessableEntity(c, "only csv files are accepted")
		return
	}
	if maxBytes := int64(h.upload.MaxFileSizeMB) * 1024 * 1024; file.Size > maxBytes {
		response.BadRequest(c, fmt.Sprintf("file exceeds the %dMB limit", h.upload.MaxFileSizeMB))
		return
	}

	if err := os.MkdirAll(h.upload.Dir, 0o755); err != nil {
		response.InternalError(c, err)
		return
	}
	dest := filepath.Join(h.upload.Dir,
		fmt.Sprintf("%d-%s", time.Now().UnixMilli(), filepath.Base(file.Filename)))
	if err := c.SaveUploadedFile(file, dest); err != nil {
		response.InternalError(c, err)
		return
	}

	job, err := h.service.SubmitJob(c.Request.Context(), userID, file.Filename, dest)
	if err != nil {
		if removeErr := os.Remove(dest); removeErr != nil {
			h.log.Warn("failed to delete rejected upload",
				zap.String("path", dest),
				zap.Error(removeErr))
		}
		if errors.Is(err, ErrInvalidCSV) {
			response.UnprocessableEntity(c, "the uploaded file could not be parsed as csv")
			return
		}
		response.InternalError(c, err)
		return
	}

	response.Created(c, gin.H{
		"job_id":            job.ID,
		"total_rows":        job.TotalRows,
		"estimated_seconds": job.EstimatedSeconds,
	})
}

type jobSummary struct {
	ID          string           `json:"id"`
	FileName    string           `json:"file_name"`
	Status      models.JobStatus `json:"status"`
	Progress    int              `json:"progress"`
	TotalRows   int              `json:"total_rows"`
	Created     time.Time        `json:"created"`
	CompletedAt *time.Time       `json:"completed_at"`
}

func (h *Handler) list(c *gin.Context) {
	jobs, err := h.service.ListJobs(c.Request.Context(), middleware.CurrentUserID(c), jobListLimit)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	summaries := make([]jobSummary, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, jobSummary{
			ID:          job.ID,
			FileName:    job.FileName,
			Status:      job.Status,
			Progress:    job.Progress,
			TotalRows:   job.TotalRows,
			Created:     job.CreatedAt,
			CompletedAt: job.CompletedAt,
		})
	}
	response.OK(c, summaries)
}

func (h *Handler) status(c *gin.Context) {
	job, err := h.service.GetJob(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if job == nil {
		response.NotFound(c)
		return
	}
	response.OK(c, jobStatusOf(job))
}

func (h *Handler) detail(c *gin.Context) {
	job, err := h.service.GetJob(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if job == nil {
		response.NotFound(c)
		return
	}
	response.OK(c, job)
}

func (h *Handler) cancel(c *gin.Context) {
	job, err := h.service.CancelJob(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if job == nil {
		response.NotFound(c)
		return
	}
	response.OK(c, jobStatusOf(job))
}
