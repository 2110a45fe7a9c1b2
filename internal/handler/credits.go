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

type CreditsHandler struct {
	creditService *service.CreditService
	validator     *validator.Validate
}

func NewCreditsHandler(creditService *service.CreditService, v *validator.Validate) *CreditsHandler {
	return &CreditsHandler{
		creditService: creditService,
		validator:     v,
	}
}

// Balance handles GET /api/credits/balance
// @Summary      Get credit balance
// @Tags         Credits
// @Produce      json
// @Success      200 {object} model.CreditAccount
// @Failure      401 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/credits/balance [get]
func (h *CreditsHandler) Balance(c *fiber.Ctx) error {
	ownerID := middleware.GetUserID(c)

	acct, err := h.creditService.GetBalance(c.Context(), ownerID)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	if acct == nil {
		// A user with no ledger yet simply has an empty account.
		acct = &model.CreditAccount{OwnerID: ownerID}
	}

	return response.OK(c, acct)
}

// History handles GET /api/credits/history
// @Summary      Get transaction history
// @Description  Audit trail of credit mutations, newest first
// @Tags         Credits
// @Produce      json
// @Param        limit query int false "Page size (default 20)"
// @Param        offset query int false "Offset"
// @Success      200 {array} model.CreditTransaction
// @Failure      401 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/credits/history [get]
func (h *CreditsHandler) History(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	offset := c.QueryInt("offset", 0)
	if limit > 100 {
		limit = 100
	}

	history, err := h.creditService.GetHistory(c.Context(), middleware.GetUserID(c), limit, offset)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, history)
}

// Deduct handles POST /api/credits/deduct
// @Summary      Deduct credits
// @Description  Spend credits up front for a bounded-cost operation
// @Tags         Credits
// @Accept       json
// @Produce      json
// @Param        request body model.DeductRequest true "Deduct request"
// @Success      200 {object} model.BalanceMutationResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      402 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/credits/deduct [post]
func (h *CreditsHandler) Deduct(c *fiber.Ctx) error {
	var req model.DeductRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.creditService.Deduct(c.Context(), middleware.GetUserID(c), req.Amount, req.Description, req.Metadata)
	if err != nil {
		var insufficient *service.InsufficientCreditsError
		if errors.As(err, &insufficient) {
			return response.PaymentRequired(c, insufficient.CurrentBalance, insufficient.RequiredCredits)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Add handles POST /api/credits/add
// @Summary      Add credits
// @Description  Grant credits from a purchase, refund, or subscription renewal
// @Tags         Credits
// @Accept       json
// @Produce      json
// @Param        request body model.AddRequest true "Add request"
// @Success      200 {object} model.BalanceMutationResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/credits/add [post]
func (h *CreditsHandler) Add(c *fiber.Ctx) error {
	var req model.AddRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.creditService.Add(c.Context(), middleware.GetUserID(c), req.Amount, req.TransactionType, req.Description, req.Metadata)
	if err != nil {
		if errors.Is(err, service.ErrInvalidTransactionType) {
			return response.ValidationError(c, "Invalid transaction type", nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}
