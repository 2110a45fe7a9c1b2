package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/deckcritic/api/internal/middleware"
	"github.com/deckcritic/api/internal/model"
	"github.com/deckcritic/api/internal/service"
	"github.com/deckcritic/api/pkg/response"
)

type AnalysisHandler struct {
	jobService     *service.JobService
	creditService  *service.CreditService
	validator      *validator.Validate
	maxPages       int
	creditsPerPage int
}

func NewAnalysisHandler(jobService *service.JobService, creditService *service.CreditService, v *validator.Validate, maxPages, creditsPerPage int) *AnalysisHandler {
	return &AnalysisHandler{
		jobService:     jobService,
		creditService:  creditService,
		validator:      v,
		maxPages:       maxPages,
		creditsPerPage: creditsPerPage,
	}
}

// CreateJob handles POST /api/analysis/jobs
// @Summary      Create analysis job
// @Description  Register a new deck analysis job before uploading page assets
// @Tags         Analysis
// @Accept       json
// @Produce      json
// @Param        request body model.CreateJobRequest true "Job metadata"
// @Success      201 {object} model.CreateJobResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/analysis/jobs [post]
func (h *AnalysisHandler) CreateJob(c *fiber.Ctx) error {
	var req model.CreateJobRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	if req.PageCount > h.maxPages {
		return response.ValidationError(c, "Deck has too many pages", fiber.Map{"maxPages": h.maxPages})
	}

	result, err := h.jobService.CreateJob(c.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Created(c, result)
}

// Dispatch handles POST /api/analysis/dispatch
// @Summary      Dispatch analysis
// @Description  Queue background per-page analysis for an uploaded deck
// @Tags         Analysis
// @Accept       json
// @Produce      json
// @Param        request body model.DispatchRequest true "Dispatch request"
// @Success      202 {object} model.DispatchResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      402 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/analysis/dispatch [post]
func (h *AnalysisHandler) Dispatch(c *fiber.Ctx) error {
	var req model.DispatchRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	ownerID := middleware.GetUserID(c)

	// Balance pre-check: refuse before queueing anything. Credits are only
	// deducted by the worker once results are durably stored.
	required := len(req.PageAssetURLs) * h.creditsPerPage
	acct, err := h.creditService.GetBalance(c.Context(), ownerID)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	balance := 0
	if acct != nil {
		balance = acct.CreditsBalance
	}
	if balance < required {
		return response.PaymentRequired(c, balance, required)
	}

	result, err := h.jobService.Dispatch(c.Context(), ownerID, &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrJobNotFound), errors.Is(err, service.ErrNotJobOwner):
			return response.NotFound(c, "Job not found")
		case errors.Is(err, service.ErrJobNotPending):
			return response.Conflict(c, "Job already dispatched")
		case errors.Is(err, service.ErrPageCountMismatch):
			return response.ValidationError(c, "Page asset count does not match job", nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/analysis/status/:jobId
// @Summary      Get job status
// @Description  Get the current status and per-page progress of an analysis job
// @Tags         Analysis
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.JobStatusResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/analysis/status/{jobId} [get]
func (h *AnalysisHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.jobService.GetStatus(c.Context(), middleware.GetUserID(c), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) || errors.Is(err, service.ErrNotJobOwner) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Result handles GET /api/analysis/result/:jobId
// @Summary      Get analysis result
// @Description  Get the per-page feedback and overall evaluation of a completed job
// @Tags         Analysis
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.AnalysisResult
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/analysis/result/{jobId} [get]
func (h *AnalysisHandler) Result(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.jobService.GetResult(c.Context(), middleware.GetUserID(c), jobID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrJobNotFound), errors.Is(err, service.ErrNotJobOwner):
			return response.NotFound(c, "Job not found")
		case errors.Is(err, service.ErrJobNotCompleted):
			return response.ValidationError(c, "Job not completed yet", nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Fail handles POST /api/analysis/fail/:jobId
// @Summary      Mark a pending job failed
// @Description  Used by the submitting client when the dispatch call itself failed
// @Tags         Analysis
// @Accept       json
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Param        request body model.FailJobRequest true "Failure reason"
// @Success      204
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/analysis/fail/{jobId} [post]
func (h *AnalysisHandler) Fail(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	var req model.FailJobRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	err := h.jobService.FailFromDispatch(c.Context(), middleware.GetUserID(c), jobID, req.Error)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrJobNotFound), errors.Is(err, service.ErrNotJobOwner):
			return response.NotFound(c, "Job not found")
		case errors.Is(err, service.ErrJobTerminal), errors.Is(err, service.ErrJobNotPending):
			return response.Conflict(c, "Job is no longer pending")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.NoContent(c)
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
