package events

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"trustbook/internal/domain"
	"trustbook/internal/pkg/response"
)

type Handler struct {
	service *Service
	hub     *Hub
}

func NewHandler(service *Service, hub *Hub) *Handler {
	return &Handler{service: service, hub: hub}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/events", h.ListRecent)
	rg.GET("/events/:entityType/:id", h.ListByEntity)
	rg.GET("/events/stream", h.Stream)
}

func (h *Handler) ListRecent(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	out, err := h.service.ListRecent(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list events")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"events": out})
}

func (h *Handler) ListByEntity(c *gin.Context) {
	entityType := c.Param("entityType")
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid entity id")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	out, err := h.service.ListByEntity(c.Request.Context(), entityType, id, limit)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list events")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"events": out})
}

func (h *Handler) Stream(c *gin.Context) {
	userID := c.GetInt64("user_id")
	admin := c.GetString("role") == string(domain.RoleAdmin)
	if err := h.hub.ServeWS(c.Writer, c.Request, userID, admin); err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
}
