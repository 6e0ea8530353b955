package extension

import (
	"net/http"

	"parkshare/internal/middleware"
	"parkshare/internal/modules/booking"
	"parkshare/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/bookings/:id/extend", h.Extend)
	rg.GET("/bookings/:id/extension-quote", h.Quote)
}

func (h *Handler) Extend(c *gin.Context) {
	var req ExtendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "hours must be a positive number", err.Error())
		return
	}

	b, err := h.service.Extend(c.Request.Context(), c.Param("id"), middleware.CurrentActor(c).ID, req.Duration())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"booking": booking.ToResponse(b)})
}

func (h *Handler) Quote(c *gin.Context) {
	var req ExtendRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "hours must be a positive number", err.Error())
		return
	}

	q, err := h.service.Quote(c.Request.Context(), c.Param("id"), middleware.CurrentActor(c).ID, req.Duration())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, toQuoteResponse(q))
}
