package escrow

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"trustbook/internal/domain"
	"trustbook/internal/modules/dispute"
	"trustbook/internal/pkg/response"
	"trustbook/internal/repository"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/escrows", h.ListMine)
	rg.GET("/escrows/:id", h.GetByID)
	rg.GET("/bookings/:id/escrow", h.GetByBooking)
	rg.POST("/escrows/:id/release", h.ReleasePayment)
	rg.POST("/escrows/:id/milestones/:idx/release", h.ReleaseMilestone)
	rg.POST("/escrows/:id/milestones/:idx/complete", h.CompleteMilestone)
	rg.POST("/escrows/:id/dispute", h.DisputePayment)
	rg.POST("/escrows/:id/resolve", h.ResolveDispute)
	rg.POST("/escrows/:id/refund", h.RefundPayment)
	rg.POST("/escrows/:id/auto-release", h.AutoRelease)
}

func actorFrom(c *gin.Context) domain.Actor {
	return domain.Actor{
		ID:   c.GetInt64("user_id"),
		Role: domain.UserRole(c.GetString("role")),
	}
}

func (h *Handler) GetByID(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid escrow id")
		return
	}

	esc, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	actor := actorFrom(c)
	if actor.ID != esc.ConsumerID && actor.ID != esc.ProviderID && !actor.IsAdmin() &&
		(esc.ArbitratorID == nil || *esc.ArbitratorID != actor.ID) {
		response.Error(c, http.StatusForbidden, "FORBIDDEN", "Not a party to this escrow")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"escrow": esc})
}

func (h *Handler) GetByBooking(c *gin.Context) {
	bookingID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid booking id")
		return
	}

	esc, err := h.service.GetByBookingID(c.Request.Context(), bookingID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	actor := actorFrom(c)
	if actor.ID != esc.ConsumerID && actor.ID != esc.ProviderID && !actor.IsAdmin() &&
		(esc.ArbitratorID == nil || *esc.ArbitratorID != actor.ID) {
		response.Error(c, http.StatusForbidden, "FORBIDDEN", "Not a party to this escrow")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"escrow": esc})
}

func (h *Handler) ListMine(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	out, err := h.service.ListByUser(c.Request.Context(), c.GetInt64("user_id"), limit, offset)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list escrows")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"escrows": out})
}

func (h *Handler) ReleasePayment(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid escrow id")
		return
	}

	esc, err := h.service.ReleasePayment(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"escrow": esc})
}

func (h *Handler) ReleaseMilestone(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid escrow id")
		return
	}
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid milestone index")
		return
	}

	esc, err := h.service.ReleaseMilestone(c.Request.Context(), id, idx, actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"escrow": esc})
}

func (h *Handler) CompleteMilestone(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid escrow id")
		return
	}
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid milestone index")
		return
	}

	if err := h.service.CompleteMilestone(c.Request.Context(), id, idx, actorFrom(c)); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"completed": true})
}

func (h *Handler) DisputePayment(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid escrow id")
		return
	}

	var req disputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Dispute reason is required")
		return
	}

	d, err := h.service.DisputePayment(c.Request.Context(), id, req.Reason, actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"dispute": d})
}

func (h *Handler) ResolveDispute(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid escrow id")
		return
	}

	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid resolution body")
		return
	}

	res := domain.Resolution{
		Type:         domain.ResolutionType(req.Type),
		RefundAmount: req.RefundAmount,
		PayoutAmount: req.PayoutAmount,
	}
	esc, err := h.service.ResolveDispute(c.Request.Context(), id, res, actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"escrow": esc})
}

func (h *Handler) RefundPayment(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid escrow id")
		return
	}

	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Refund amount is required")
		return
	}

	esc, err := h.service.RefundPayment(c.Request.Context(), id, req.Amount, actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"escrow": esc})
}

func (h *Handler) AutoRelease(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid escrow id")
		return
	}

	esc, err := h.service.AutoRelease(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"escrow": esc})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		response.Error(c, http.StatusNotFound, "NOT_FOUND", "Escrow not found")
	case errors.Is(err, ErrForbidden):
		response.Error(c, http.StatusForbidden, "FORBIDDEN", "Caller may not perform this operation")
	case errors.Is(err, ErrValidation):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request")
	case errors.Is(err, ErrAlreadyExists):
		response.Error(c, http.StatusConflict, "ESCROW_EXISTS", "Escrow already exists for this booking")
	case errors.Is(err, ErrInvalidStatusTransition):
		response.Error(c, http.StatusConflict, "INVALID_STATE", "Operation not allowed in current escrow state")
	case errors.Is(err, ErrMilestoneReleased):
		response.Error(c, http.StatusConflict, "MILESTONE_RELEASED", "Milestone already released")
	case errors.Is(err, ErrNotDue):
		response.Error(c, http.StatusConflict, "NOT_DUE", "Auto-release is not due yet")
	case errors.Is(err, ErrDisputeTimedOut):
		response.Error(c, http.StatusConflict, "DISPUTE_TIMED_OUT", "Dispute resolution deadline has passed")
	case errors.Is(err, ErrPaused):
		response.Error(c, http.StatusServiceUnavailable, "PLATFORM_PAUSED", "Platform is paused")
	case errors.Is(err, ErrNotPaused):
		response.Error(c, http.StatusConflict, "NOT_PAUSED", "Emergency withdrawal requires the platform to be paused")
	case errors.Is(err, repository.ErrNoArbitrators):
		response.Error(c, http.StatusConflict, "NO_ARBITRATORS", "No active arbitrators are registered")
	case errors.Is(err, dispute.ErrNotArbitrator):
		response.Error(c, http.StatusForbidden, "FORBIDDEN", "Caller is not the assigned arbitrator")
	case errors.Is(err, dispute.ErrClosed):
		response.Error(c, http.StatusConflict, "DISPUTE_CLOSED", "Dispute already resolved")
	default:
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Operation failed")
	}
}
