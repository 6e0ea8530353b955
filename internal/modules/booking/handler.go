package booking

import (
	"net/http"
	"time"

	"parkshare/internal/domain"
	"parkshare/internal/middleware"
	"parkshare/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the authenticated booking routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/bookings", h.CreateBooking)
	rg.GET("/bookings/:id", h.GetBooking)
	rg.POST("/bookings/:id/cancel", h.CancelBooking)
	rg.GET("/users/me/bookings", h.ListMyBookings)
}

func (h *Handler) RegisterPublicRoutes(rg *gin.RouterGroup) {
	rg.GET("/spaces/:id/availability", h.CheckAvailability)
}

// RegisterInternalRoutes mounts the payment processor callbacks.
func (h *Handler) RegisterInternalRoutes(rg *gin.RouterGroup) {
	rg.POST("/payments/:bookingId/confirmed", h.PaymentConfirmed)
	rg.POST("/payments/:bookingId/failed", h.PaymentFailed)
}

func (h *Handler) CreateBooking(c *gin.Context) {
	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body", err.Error())
		return
	}

	w, err := domain.NewWindow(req.StartTime, req.EndTime)
	if err != nil {
		response.FromError(c, err)
		return
	}

	actor := middleware.CurrentActor(c)
	b, err := h.service.Create(c.Request.Context(), CreateRequest{
		SpaceID:        req.SpaceID,
		RenterID:       actor.ID,
		Window:         w,
		ExpectedPrice:  req.ExpectedPrice,
		PaymentPending: req.PaymentPending,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"booking": ToResponse(b)})
}

func (h *Handler) GetBooking(c *gin.Context) {
	b, err := h.service.GetFor(c.Request.Context(), c.Param("id"), middleware.CurrentActor(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"booking": ToResponse(b)})
}

func (h *Handler) ListMyBookings(c *gin.Context) {
	list, err := h.service.ListForRenter(c.Request.Context(), middleware.CurrentActor(c).ID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	out := make([]BookingResponse, 0, len(list))
	for i := range list {
		out = append(out, ToResponse(&list[i]))
	}
	response.Success(c, http.StatusOK, gin.H{"bookings": out})
}

func (h *Handler) CancelBooking(c *gin.Context) {
	var req CancelBookingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body", err.Error())
			return
		}
	}

	b, err := h.service.Cancel(c.Request.Context(), c.Param("id"), middleware.CurrentActor(c), req.Reason)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"booking": ToResponse(b)})
}

type availabilityQuery struct {
	Start time.Time `form:"start" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
	End   time.Time `form:"end" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
}

func (h *Handler) CheckAvailability(c *gin.Context) {
	var q availabilityQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "start and end must be RFC3339 timestamps", err.Error())
		return
	}
	w, err := domain.NewWindow(q.Start, q.End)
	if err != nil {
		response.FromError(c, err)
		return
	}

	spaceID := c.Param("id")
	ok, err := h.service.CheckAvailability(c.Request.Context(), spaceID, w)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, AvailabilityResponse{SpaceID: spaceID, Window: w, Available: ok})
}

func (h *Handler) PaymentConfirmed(c *gin.Context) {
	b, err := h.service.ConfirmPayment(c.Request.Context(), c.Param("bookingId"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"booking": ToResponse(b)})
}

func (h *Handler) PaymentFailed(c *gin.Context) {
	b, err := h.service.FailPayment(c.Request.Context(), c.Param("bookingId"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"booking": ToResponse(b)})
}
