package api

import (
	"context"
	"net/http"

	"rental-service/internal/models"
	"rental-service/internal/service"
	"rental-service/internal/store"

	"github.com/gin-gonic/gin"
)

// CatalogAPI serves vehicles and packages
type CatalogAPI interface {
	CreateVehicle(ctx context.Context, actor service.Actor, req *service.VehicleRequest) (*models.Vehicle, error)
	UpdateVehicle(ctx context.Context, actor service.Actor, id int64, req *service.VehicleRequest) (*models.Vehicle, error)
	GetVehicle(ctx context.Context, id int64) (*models.Vehicle, error)
	ListVehicles(ctx context.Context, f store.VehicleFilter) ([]models.Vehicle, error)
	SetVehicleStatus(ctx context.Context, actor service.Actor, id int64, status string) (*models.Vehicle, error)
	CreatePackage(ctx context.Context, actor service.Actor, req *service.PackageRequest) (*models.Package, error)
	UpdatePackage(ctx context.Context, actor service.Actor, id int64, req *service.PackageRequest) (*models.Package, error)
	GetPackage(ctx context.Context, actor service.Actor, id int64) (*models.Package, error)
	ListPackages(ctx context.Context, actor service.Actor, vehicleID int64) ([]models.Package, error)
}

type vehicleStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *Handler) listVehicles(c *gin.Context) {
	vehicles, err := h.catalog.ListVehicles(c.Request.Context(), store.VehicleFilter{
		Status:   c.Query("status"),
		Category: c.Query("category"),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"vehicles": vehicles})
}

func (h *Handler) getVehicle(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	v, err := h.catalog.GetVehicle(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) createVehicle(c *gin.Context) {
	var req service.VehicleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	v, err := h.catalog.CreateVehicle(c.Request.Context(), actorFrom(c), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

func (h *Handler) updateVehicle(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req service.VehicleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	v, err := h.catalog.UpdateVehicle(c.Request.Context(), actorFrom(c), id, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) setVehicleStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req vehicleStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	v, err := h.catalog.SetVehicleStatus(c.Request.Context(), actorFrom(c), id, req.Status)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) listPackages(c *gin.Context) {
	vehicleID, ok := queryInt64(c, "vehicle_id")
	if !ok {
		return
	}
	packages, err := h.catalog.ListPackages(c.Request.Context(), actorFrom(c), vehicleID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"packages": packages})
}

func (h *Handler) getPackage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	p, err := h.catalog.GetPackage(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) createPackage(c *gin.Context) {
	var req service.PackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	p, err := h.catalog.CreatePackage(c.Request.Context(), actorFrom(c), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) updatePackage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req service.PackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	p, err := h.catalog.UpdatePackage(c.Request.Context(), actorFrom(c), id, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
