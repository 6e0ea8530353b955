// Package space exposes the local mirror of catalog parking spaces. The
// catalog service pushes price and host changes here.
package space

import (
	"net/http"

	"parkshare/internal/domain"
	"parkshare/internal/pkg/response"
	"parkshare/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type Handler struct {
	spaces *repository.SpaceRepository
}

func NewHandler(spaces *repository.SpaceRepository) *Handler {
	return &Handler{spaces: spaces}
}

type UpsertSpaceRequest struct {
	HostID       string          `json:"host_id" binding:"required"`
	PricePerHour decimal.Decimal `json:"price_per_hour"`
}

type SpaceResponse struct {
	ID           string `json:"id"`
	HostID       string `json:"host_id"`
	PricePerHour string `json:"price_per_hour"`
}

func toResponse(s *domain.ParkingSpace) SpaceResponse {
	return SpaceResponse{ID: s.ID, HostID: s.HostID, PricePerHour: s.PricePerHour.StringFixed(2)}
}

func (h *Handler) RegisterPublicRoutes(rg *gin.RouterGroup) {
	rg.GET("/spaces", h.List)
	rg.GET("/spaces/:id", h.Get)
}

// RegisterInternalRoutes mounts the catalog sync endpoint.
func (h *Handler) RegisterInternalRoutes(rg *gin.RouterGroup) {
	rg.PUT("/spaces/:id", h.Upsert)
}

func (h *Handler) Upsert(c *gin.Context) {
	var req UpsertSpaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body", err.Error())
		return
	}
	if !req.PricePerHour.IsPositive() {
		response.FromError(c, domain.Wrapf(domain.ErrInvalidPrice, "price_per_hour must be positive"))
		return
	}

	s := &domain.ParkingSpace{ID: c.Param("id"), HostID: req.HostID, PricePerHour: req.PricePerHour}
	if err := h.spaces.Upsert(c.Request.Context(), s); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"space": toResponse(s)})
}

func (h *Handler) Get(c *gin.Context) {
	s, err := h.spaces.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"space": toResponse(s)})
}

func (h *Handler) List(c *gin.Context) {
	list, err := h.spaces.List(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	out := make([]SpaceResponse, 0, len(list))
	for i := range list {
		out = append(out, toResponse(&list[i]))
	}
	response.Success(c, http.StatusOK, gin.H{"spaces": out})
}
