package admin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"trustbook/internal/domain"
	"trustbook/internal/modules/escrow"
	"trustbook/internal/pkg/response"
)

type Handler struct {
	service *Service
	escrows *escrow.Service
}

func NewHandler(service *Service, escrows *escrow.Service) *Handler {
	return &Handler{service: service, escrows: escrows}
}

// RegisterRoutes mounts the admin surface. The group is expected to carry
// the admin-only middleware already.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/settings", h.GetSettings)
	rg.POST("/pause", h.Pause)
	rg.POST("/unpause", h.Unpause)
	rg.PUT("/settings/cancellation-fee-rate", h.SetCancellationFeeRate)
	rg.PUT("/settings/platform-wallet", h.SetPlatformWallet)
	rg.GET("/arbitrators", h.ListArbitrators)
	rg.POST("/arbitrators", h.AddArbitrator)
	rg.DELETE("/arbitrators/:id", h.RemoveArbitrator)
	rg.GET("/assets", h.ListAssets)
	rg.POST("/assets", h.AddAsset)
	rg.POST("/escrows/:id/emergency-withdraw", h.EmergencyWithdraw)
	rg.POST("/fees/claim", h.ClaimFees)
}

func actorFrom(c *gin.Context) domain.Actor {
	return domain.Actor{
		ID:   c.GetInt64("user_id"),
		Role: domain.UserRole(c.GetString("role")),
	}
}

func (h *Handler) GetSettings(c *gin.Context) {
	settings, err := h.service.Settings(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load settings")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"settings": settings})
}

func (h *Handler) Pause(c *gin.Context) {
	if err := h.service.Pause(c.Request.Context(), actorFrom(c)); err != nil {
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to pause platform")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"paused": true})
}

func (h *Handler) Unpause(c *gin.Context) {
	if err := h.service.Unpause(c.Request.Context(), actorFrom(c)); err != nil {
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to unpause platform")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"paused": false})
}

type rateRequest struct {
	RateBp int64 `json:"rate_bp"`
}

func (h *Handler) SetCancellationFeeRate(c *gin.Context) {
	var req rateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid rate body")
		return
	}
	if err := h.service.SetCancellationFeeRate(c.Request.Context(), req.RateBp); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"cancellation_fee_rate_bp": req.RateBp})
}

type walletRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
}

func (h *Handler) SetPlatformWallet(c *gin.Context) {
	var req walletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "user_id is required")
		return
	}
	if err := h.service.SetPlatformWallet(c.Request.Context(), req.UserID); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"platform_wallet_user_id": req.UserID})
}

func (h *Handler) ListArbitrators(c *gin.Context) {
	out, err := h.service.ListArbitrators(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list arbitrators")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"arbitrators": out})
}

type arbitratorRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
}

func (h *Handler) AddArbitrator(c *gin.Context) {
	var req arbitratorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "user_id is required")
		return
	}
	if err := h.service.AddArbitrator(c.Request.Context(), req.UserID, actorFrom(c)); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"user_id": req.UserID})
}

func (h *Handler) RemoveArbitrator(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid user id")
		return
	}
	if err := h.service.RemoveArbitrator(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"removed": id})
}

func (h *Handler) ListAssets(c *gin.Context) {
	out, err := h.service.ListAssets(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list assets")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"assets": out})
}

type assetRequest struct {
	Code string `json:"code" binding:"required"`
}

func (h *Handler) AddAsset(c *gin.Context) {
	var req assetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Asset code is required")
		return
	}
	if err := h.service.AddAsset(c.Request.Context(), req.Code); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"code": req.Code})
}

func (h *Handler) EmergencyWithdraw(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid escrow id")
		return
	}

	esc, err := h.escrows.EmergencyWithdraw(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		h.writeEscrowError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"escrow": esc})
}

type claimRequest struct {
	Asset string `json:"asset" binding:"required"`
}

func (h *Handler) ClaimFees(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Asset is required")
		return
	}

	amount, err := h.escrows.ClaimPlatformFees(c.Request.Context(), req.Asset, actorFrom(c))
	if err != nil {
		h.writeEscrowError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"claimed": amount, "asset": req.Asset})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request")
	case errors.Is(err, ErrRateTooHigh):
		response.Error(c, http.StatusUnprocessableEntity, "RATE_TOO_HIGH", "Cancellation fee rate exceeds the cap")
	case errors.Is(err, ErrUserNotFound):
		response.Error(c, http.StatusNotFound, "NOT_FOUND", "User not found")
	default:
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Operation failed")
	}
}

func (h *Handler) writeEscrowError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		response.Error(c, http.StatusNotFound, "NOT_FOUND", "Escrow not found")
	case errors.Is(err, escrow.ErrForbidden):
		response.Error(c, http.StatusForbidden, "FORBIDDEN", "Admin role required")
	case errors.Is(err, escrow.ErrNotPaused):
		response.Error(c, http.StatusConflict, "NOT_PAUSED", "Emergency withdrawal requires the platform to be paused")
	case errors.Is(err, escrow.ErrInvalidStatusTransition):
		response.Error(c, http.StatusConflict, "INVALID_STATE", "Operation not allowed in current escrow state")
	default:
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Operation failed")
	}
}
