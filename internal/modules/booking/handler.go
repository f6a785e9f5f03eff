package booking

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"trustbook/internal/domain"
	"trustbook/internal/modules/escrow"
	"trustbook/internal/pkg/response"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/bookings", h.Create)
	rg.GET("/bookings", h.ListMine)
	rg.GET("/bookings/:id", h.GetByID)
	rg.POST("/bookings/:id/confirm", h.Confirm)
	rg.POST("/bookings/:id/start", h.Start)
	rg.POST("/bookings/:id/cancel", h.Cancel)
	rg.POST("/bookings/:id/complete", h.Complete)
	rg.POST("/bookings/:id/dispute", h.Dispute)
	rg.POST("/bookings/:id/expire", h.Expire)
	rg.GET("/providers/:id/schedule", h.ProviderSchedule)
}

func actorFrom(c *gin.Context) domain.Actor {
	return domain.Actor{
		ID:   c.GetInt64("user_id"),
		Role: domain.UserRole(c.GetString("role")),
	}
}

func (h *Handler) Create(c *gin.Context) {
	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid booking request")
		return
	}

	b, err := h.service.CreateBooking(c.Request.Context(), req, actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"booking": b})
}

func (h *Handler) GetByID(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid booking id")
		return
	}

	b, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	actor := actorFrom(c)
	if actor.ID != b.ConsumerID && actor.ID != b.ProviderID && !actor.IsAdmin() {
		response.Error(c, http.StatusForbidden, "FORBIDDEN", "Not a party to this booking")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"booking": b})
}

func (h *Handler) ListMine(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	out, err := h.service.ListByUser(c.Request.Context(), c.GetInt64("user_id"), limit, offset)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list bookings")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"bookings": out})
}

func (h *Handler) Confirm(c *gin.Context) {
	h.transition(c, h.service.ConfirmBooking)
}

func (h *Handler) Start(c *gin.Context) {
	h.transition(c, h.service.StartBooking)
}

func (h *Handler) Cancel(c *gin.Context) {
	h.transition(c, h.service.CancelBooking)
}

func (h *Handler) Complete(c *gin.Context) {
	h.transition(c, h.service.CompleteBooking)
}

func (h *Handler) Expire(c *gin.Context) {
	h.transition(c, h.service.ExpireBooking)
}

func (h *Handler) Dispute(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid booking id")
		return
	}

	var req disputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Dispute reason is required")
		return
	}

	d, err := h.service.DisputeBooking(c.Request.Context(), id, req.Reason, actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"dispute": d})
}

func (h *Handler) ProviderSchedule(c *gin.Context) {
	providerID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid provider id")
		return
	}

	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid 'from' time")
		return
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid 'to' time")
		return
	}

	slots, err := h.service.Schedule(c.Request.Context(), providerID, from, to)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"busy": slots})
}

// transition handles the id-only lifecycle endpoints that differ only in
// which service method they call.
func (h *Handler) transition(c *gin.Context, fn func(ctx context.Context, id int64, actor domain.Actor) (*domain.Booking, error)) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid booking id")
		return
	}

	b, err := fn(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"booking": b})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		response.Error(c, http.StatusNotFound, "NOT_FOUND", "Booking not found")
	case errors.Is(err, ErrForbidden):
		response.Error(c, http.StatusForbidden, "FORBIDDEN", "Caller may not perform this operation")
	case errors.Is(err, ErrValidation):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request")
	case errors.Is(err, ErrProviderInactive):
		response.Error(c, http.StatusUnprocessableEntity, "PROVIDER_INACTIVE", "Provider is not active")
	case errors.Is(err, ErrAssetNotSupported):
		response.Error(c, http.StatusUnprocessableEntity, "ASSET_NOT_SUPPORTED", "Asset is not supported")
	case errors.Is(err, ErrScheduleConflict):
		response.Error(c, http.StatusConflict, "SCHEDULE_CONFLICT", "Time slot is already booked")
	case errors.Is(err, ErrInvalidStatusTransition):
		response.Error(c, http.StatusConflict, "INVALID_STATE", "Operation not allowed in current booking state")
	case errors.Is(err, ErrConfirmWindowExpired):
		response.Error(c, http.StatusConflict, "CONFIRM_WINDOW_EXPIRED", "Confirmation window has passed")
	case errors.Is(err, ErrNotExpired):
		response.Error(c, http.StatusConflict, "NOT_EXPIRED", "Confirmation window has not passed yet")
	case errors.Is(err, ErrTooEarly):
		response.Error(c, http.StatusConflict, "TOO_EARLY", "Booking has not started yet")
	case errors.Is(err, ErrPaused):
		response.Error(c, http.StatusServiceUnavailable, "PLATFORM_PAUSED", "Platform is paused")
	case errors.Is(err, escrow.ErrConservation):
		response.Error(c, http.StatusConflict, "CONSERVATION", "Amounts do not balance")
	case errors.Is(err, escrow.ErrValidation):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid escrow parameters")
	case errors.Is(err, escrow.ErrInvalidStatusTransition):
		response.Error(c, http.StatusConflict, "INVALID_STATE", "Operation not allowed in current escrow state")
	default:
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Operation failed")
	}
}
