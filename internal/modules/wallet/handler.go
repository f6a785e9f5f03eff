package wallet

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"trustbook/internal/pkg/response"
)

type Handler struct {
	service      *Service
	defaultAsset string
}

func NewHandler(service *Service, defaultAsset string) *Handler {
	return &Handler{service: service, defaultAsset: defaultAsset}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/wallet", h.GetBalance)
	rg.GET("/wallet/entries", h.ListEntries)
	rg.POST("/wallet/deposit", h.Deposit)
}

type depositRequest struct {
	Amount int64  `json:"amount" binding:"required"`
	Asset  string `json:"asset"`
}

func (h *Handler) Deposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}
	if req.Asset == "" {
		req.Asset = h.defaultAsset
	}

	acc, err := h.service.Deposit(c.Request.Context(), c.GetInt64("user_id"), req.Asset, req.Amount)
	if err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Amount must be positive")
			return
		}
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to deposit")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"asset": acc.Asset, "balance": acc.Balance})
}

func (h *Handler) GetBalance(c *gin.Context) {
	asset := c.DefaultQuery("asset", h.defaultAsset)

	balance, err := h.service.Balance(c.Request.Context(), UserAccount(c.GetInt64("user_id"), asset))
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read balance")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"asset": asset, "balance": balance})
}

func (h *Handler) ListEntries(c *gin.Context) {
	asset := c.DefaultQuery("asset", h.defaultAsset)

	entries, err := h.service.ListEntries(c.Request.Context(), c.GetInt64("user_id"), asset, 50)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list entries")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"entries": entries})
}
