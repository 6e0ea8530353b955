package issue

import (
	"net/http"

	"parkshare/internal/domain"
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

// RegisterRoutes mounts the issue routes. Resolution is limited to ops.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/bookings/:id/issues", h.Report)
	rg.GET("/bookings/:id/issues", h.List)
	rg.POST("/bookings/:id/issues/resolve", middleware.OpsOnly(), h.Resolve)
}

func (h *Handler) Report(c *gin.Context) {
	var req ReportIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body", err.Error())
		return
	}

	rep, err := h.service.Report(c.Request.Context(), ReportRequest{
		BookingID:   c.Param("id"),
		ReporterID:  middleware.CurrentActor(c).ID,
		IssueType:   domain.IssueType(req.IssueType),
		Description: req.Description,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"issue": ToResponse(rep)})
}

func (h *Handler) Resolve(c *gin.Context) {
	var req ResolveIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body", err.Error())
		return
	}

	rep, b, err := h.service.Resolve(c.Request.Context(), c.Param("id"), domain.Resolution(req.Resolution), middleware.CurrentActor(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"issue": ToResponse(rep), "booking": booking.ToResponse(b)})
}

func (h *Handler) List(c *gin.Context) {
	list, err := h.service.ListForBooking(c.Request.Context(), c.Param("id"), middleware.CurrentActor(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	out := make([]IssueResponse, 0, len(list))
	for i := range list {
		out = append(out, ToResponse(&list[i]))
	}
	response.Success(c, http.StatusOK, gin.H{"issues": out})
}
