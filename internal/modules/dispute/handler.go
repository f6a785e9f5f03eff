package dispute

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"trustbook/internal/domain"
	"trustbook/internal/pkg/response"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/disputes/:id", h.GetByID)
	rg.GET("/disputes/:id/evidence", h.ListEvidence)
	rg.POST("/disputes/:id/evidence", h.SubmitEvidence)
	rg.GET("/disputes/assigned", h.ListAssigned)
}

type evidenceRequest struct {
	Content string `json:"content" binding:"required"`
	Note    string `json:"note"`
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
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid dispute id")
		return
	}

	d, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	actor := actorFrom(c)
	if actor.ID != d.InitiatorID && actor.ID != d.RespondentID &&
		actor.ID != d.ArbitratorID && !actor.IsAdmin() {
		response.Error(c, http.StatusForbidden, "FORBIDDEN", "Not a party to this dispute")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"dispute": d})
}

func (h *Handler) SubmitEvidence(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid dispute id")
		return
	}

	var req evidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Evidence content is required")
		return
	}

	ev, err := h.service.SubmitEvidence(c.Request.Context(), id, req.Content, req.Note, actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"evidence": ev})
}

func (h *Handler) ListEvidence(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid dispute id")
		return
	}

	d, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	actor := actorFrom(c)
	if actor.ID != d.InitiatorID && actor.ID != d.RespondentID &&
		actor.ID != d.ArbitratorID && !actor.IsAdmin() {
		response.Error(c, http.StatusForbidden, "FORBIDDEN", "Not a party to this dispute")
		return
	}

	out, err := h.service.ListEvidence(c.Request.Context(), id)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list evidence")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"evidence": out})
}

func (h *Handler) ListAssigned(c *gin.Context) {
	actor := actorFrom(c)
	if actor.Role != domain.RoleArbitrator && !actor.IsAdmin() {
		response.Error(c, http.StatusForbidden, "FORBIDDEN", "Arbitrator role required")
		return
	}

	out, err := h.service.ListAssigned(c.Request.Context(), actor.ID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list disputes")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"disputes": out})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		response.Error(c, http.StatusNotFound, "NOT_FOUND", "Dispute not found")
	case errors.Is(err, ErrNotParty), errors.Is(err, ErrNotArbitrator):
		response.Error(c, http.StatusForbidden, "FORBIDDEN", "Caller may not perform this operation")
	case errors.Is(err, ErrClosed):
		response.Error(c, http.StatusConflict, "DISPUTE_CLOSED", "Dispute already resolved")
	case errors.Is(err, ErrValidation):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request")
	default:
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Operation failed")
	}
}
