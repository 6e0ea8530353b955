package waitlist

import (
	"net/http"
	"strconv"

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

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/waitlist", h.Join)
	rg.POST("/waitlist/:id/claim", h.Claim)
	rg.DELETE("/waitlist/:id", h.Leave)
	rg.GET("/users/me/waitlist", h.ListMine)
}

func (h *Handler) Join(c *gin.Context) {
	var req JoinWaitlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body", err.Error())
		return
	}
	w, err := domain.NewWindow(req.StartTime, req.EndTime)
	if err != nil {
		response.FromError(c, err)
		return
	}

	e, err := h.service.Join(c.Request.Context(), JoinRequest{
		SpaceID:       req.SpaceID,
		RequesterID:   middleware.CurrentActor(c).ID,
		DesiredWindow: w,
		MaxPrice:      req.MaxPrice,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"entry": ToResponse(e)})
}

func (h *Handler) Claim(c *gin.Context) {
	id, ok := entryID(c)
	if !ok {
		return
	}
	b, err := h.service.Claim(c.Request.Context(), id, middleware.CurrentActor(c).ID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"booking": booking.ToResponse(b)})
}

func (h *Handler) Leave(c *gin.Context) {
	id, ok := entryID(c)
	if !ok {
		return
	}
	e, err := h.service.Cancel(c.Request.Context(), id, middleware.CurrentActor(c).ID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"entry": ToResponse(e)})
}

func (h *Handler) ListMine(c *gin.Context) {
	list, err := h.service.ListForRequester(c.Request.Context(), middleware.CurrentActor(c).ID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	out := make([]EntryResponse, 0, len(list))
	for i := range list {
		out = append(out, ToResponse(&list[i]))
	}
	response.Success(c, http.StatusOK, gin.H{"entries": out})
}

func entryID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid waitlist entry id")
		return 0, false
	}
	return id, true
}
