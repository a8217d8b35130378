package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/cinerank/internal/services"
	"github.com/temcen/cinerank/internal/validation"
)

// JobHandler lets operators trigger background jobs and poll their progress.
type JobHandler struct {
	runner    services.JobRunner
	validator *validation.SchemaValidator
	logger    *logrus.Logger
}

func NewJobHandler(runner services.JobRunner, validator *validation.SchemaValidator, logger *logrus.Logger) *JobHandler {
	return &JobHandler{
		runner:    runner,
		validator: validator,
		logger:    logger,
	}
}

// Start launches the job named in the path. The optional body carries JobOptions.
func (h *JobHandler) Start(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}

	if result := h.validator.ValidateJobOptions(body); !result.Valid {
		respondErrorDetails(c, http.StatusBadRequest, "VALIDATION_FAILED", "Invalid job options", result.FieldErrors())
		return
	}

	var opts services.JobOptions
	if err := json.Unmarshal(body, &opts); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
		return
	}

	name := c.Param("name")
	progress, err := h.runner.Start(c.Request.Context(), name, opts)
	if err != nil {
		if errors.Is(err, services.ErrUnknownJob) {
			respondError(c, http.StatusNotFound, "UNKNOWN_JOB", "Unknown job: "+name)
			return
		}
		h.logger.WithError(err).WithField("job_name", name).Error("Failed to start job")
		respondError(c, http.StatusInternalServerError, "JOB_START_FAILED", "Failed to start job")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"job_id":   progress.JobID,
		"job_name": name,
	}).Info("Job started on request")

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":     progress.JobID,
		"status":     progress.Status,
		"status_url": "/api/v1/admin/jobs/" + progress.JobID.String(),
	})
}

func (h *JobHandler) Status(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("jobId"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_JOB_ID", "Invalid job ID format")
		return
	}

	progress, err := h.runner.Status(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, services.ErrJobNotFound) {
			respondError(c, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found")
			return
		}
		h.logger.WithError(err).WithField("job_id", jobID).Error("Failed to get job status")
		respondError(c, http.StatusInternalServerError, "JOB_STATUS_FAILED", "Failed to get job status")
		return
	}

	c.JSON(http.StatusOK, progress)
}
