package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rental-service/internal/models"
	"rental-service/internal/store"
	"rental-service/internal/util"

	"go.uber.org/zap"
)

// CatalogService maintains vehicles and pricing packages
type CatalogService struct {
	store  CatalogStore
	logger *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(store CatalogStore) *CatalogService {
	return &CatalogService{store: store, logger: util.GetLogger()}
}

// VehicleRequest carries the editable fields of a vehicle
type VehicleRequest struct {
	PlateNumber      string `json:"plate_number" binding:"required"`
	Make             string `json:"make" binding:"required"`
	Model            string `json:"model" binding:"required"`
	Category         string `json:"category"`
	Seats            int    `json:"seats"`
	DailyRate        int64  `json:"daily_rate" binding:"required"`
	DailyKmAllowance int64  `json:"daily_km_allowance"`
	ExtraKmRate      int64  `json:"extra_km_rate"`
	Odometer         int64  `json:"odometer"`
}

// PackageRequest carries the editable fields of a package
type PackageRequest struct {
	Name         string  `json:"name" binding:"required"`
	Description  string  `json:"description"`
	Price        int64   `json:"price" binding:"required"`
	IncludedKm   int64   `json:"included_km"`
	DurationDays int     `json:"duration_days"`
	Active       *bool   `json:"active,omitempty"`
	VehicleIDs   []int64 `json:"vehicle_ids"`
}

func (r *VehicleRequest) validate() error {
	if strings.TrimSpace(r.PlateNumber) == "" || strings.TrimSpace(r.Make) == "" || strings.TrimSpace(r.Model) == "" {
		return validationError("plate_number, make and model are required")
	}
	if r.DailyRate <= 0 {
		return validationError("daily_rate must be positive")
	}
	if r.Seats < 0 || r.DailyKmAllowance < 0 || r.ExtraKmRate < 0 || r.Odometer < 0 {
		return validationError("seats, daily_km_allowance, extra_km_rate and odometer must not be negative")
	}
	return nil
}

func (r *VehicleRequest) apply(v *models.Vehicle) {
	v.PlateNumber = strings.ToUpper(strings.TrimSpace(r.PlateNumber))
	v.Make = strings.TrimSpace(r.Make)
	v.Model = strings.TrimSpace(r.Model)
	v.Category = strings.TrimSpace(r.Category)
	v.Seats = r.Seats
	v.DailyRate = r.DailyRate
	v.DailyKmAllowance = r.DailyKmAllowance
	v.ExtraKmRate = r.ExtraKmRate
}

// CreateVehicle adds a vehicle to the fleet as AVAILABLE
func (s *CatalogService) CreateVehicle(ctx context.Context, actor Actor, req *VehicleRequest) (*models.Vehicle, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	v := &models.Vehicle{Status: models.VehicleStatusAvailable, Odometer: req.Odometer}
	req.apply(v)
	if err := s.store.CreateVehicle(ctx, v); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, validationError("plate number %s already exists", v.PlateNumber)
		}
		return nil, fmt.Errorf("failed to create vehicle: %w", err)
	}

	s.logger.Info("Vehicle created", zap.Int64("vehicle_id", v.ID), zap.String("plate", v.PlateNumber))
	return v, nil
}

// UpdateVehicle edits a vehicle. The odometer only moves forward.
func (s *CatalogService) UpdateVehicle(ctx context.Context, actor Actor, id int64, req *VehicleRequest) (*models.Vehicle, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	v, err := s.store.GetVehicleByID(ctx, id)
	if err != nil {
		return nil, translateStoreError(err)
	}
	req.apply(v)
	if req.Odometer > v.Odometer {
		v.Odometer = req.Odometer
	}

	if err := s.store.UpdateVehicle(ctx, v); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, validationError("plate number %s already exists", v.PlateNumber)
		}
		return nil, translateStoreError(err)
	}
	return v, nil
}

// GetVehicle returns a vehicle
func (s *CatalogService) GetVehicle(ctx context.Context, id int64) (*models.Vehicle, error) {
	v, err := s.store.GetVehicleByID(ctx, id)
	if err != nil {
		return nil, translateStoreError(err)
	}
	return v, nil
}

// ListVehicles returns vehicles filtered by status and category
func (s *CatalogService) ListVehicles(ctx context.Context, f store.VehicleFilter) ([]models.Vehicle, error) {
	if f.Status != "" && !isVehicleStatus(f.Status) {
		return nil, validationError("unknown vehicle status %q", f.Status)
	}
	return s.store.ListVehicles(ctx, f)
}

// SetVehicleStatus moves a vehicle between AVAILABLE and MAINTENANCE
func (s *CatalogService) SetVehicleStatus(ctx context.Context, actor Actor, id int64, status string) (*models.Vehicle, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	var from string
	switch status {
	case models.VehicleStatusMaintenance:
		from = models.VehicleStatusAvailable
	case models.VehicleStatusAvailable:
		from = models.VehicleStatusMaintenance
	default:
		return nil, validationError("status must be %s or %s", models.VehicleStatusAvailable, models.VehicleStatusMaintenance)
	}

	v, err := s.store.GetVehicleByID(ctx, id)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if v.Status == status {
		return v, nil
	}

	if err := s.store.SetVehicleStatus(ctx, id, from, status); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: vehicle %d is %s or held by an active booking", ErrVehicleUnavailable, id, v.Status)
		}
		return nil, err
	}

	s.logger.Info("Vehicle status changed",
		zap.Int64("vehicle_id", id),
		zap.String("from", from),
		zap.String("to", status))
	v.Status = status
	return v, nil
}

func isVehicleStatus(status string) bool {
	switch status {
	case models.VehicleStatusAvailable, models.VehicleStatusReserved, models.VehicleStatusRented, models.VehicleStatusMaintenance:
		return true
	}
	return false
}

func (s *CatalogService) validatePackage(ctx context.Context, req *PackageRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return validationError("name is required")
	}
	if req.Price <= 0 {
		return validationError("price must be positive")
	}
	if req.IncludedKm < 0 || req.DurationDays < 0 {
		return validationError("included_km and duration_days must not be negative")
	}
	for _, vid := range req.VehicleIDs {
		if _, err := s.store.GetVehicleByID(ctx, vid); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return validationError("vehicle %d does not exist", vid)
			}
			return err
		}
	}
	return nil
}

func (req *PackageRequest) apply(p *models.Package) {
	p.Name = strings.TrimSpace(req.Name)
	p.Description = strings.TrimSpace(req.Description)
	p.Price = req.Price
	p.IncludedKm = req.IncludedKm
	p.DurationDays = req.DurationDays
	if req.Active != nil {
		p.Active = *req.Active
	}
	p.VehicleIDs = uniqueIDs(req.VehicleIDs)
}

// CreatePackage adds a pricing package; it is active unless stated otherwise
func (s *CatalogService) CreatePackage(ctx context.Context, actor Actor, req *PackageRequest) (*models.Package, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if err := s.validatePackage(ctx, req); err != nil {
		return nil, err
	}

	p := &models.Package{Active: true}
	req.apply(p)
	if err := s.store.CreatePackage(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create package: %w", err)
	}
	s.logger.Info("Package created", zap.Int64("package_id", p.ID), zap.String("name", p.Name))
	return p, nil
}

// UpdatePackage edits a package and replaces its vehicle scope
func (s *CatalogService) UpdatePackage(ctx context.Context, actor Actor, id int64, req *PackageRequest) (*models.Package, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if err := s.validatePackage(ctx, req); err != nil {
		return nil, err
	}

	p, err := s.store.GetPackageByID(ctx, id)
	if err != nil {
		return nil, translateStoreError(err)
	}
	req.apply(p)
	if err := s.store.UpdatePackage(ctx, p); err != nil {
		return nil, translateStoreError(err)
	}
	return p, nil
}

// GetPackage returns a package; inactive packages are visible to admins only
func (s *CatalogService) GetPackage(ctx context.Context, actor Actor, id int64) (*models.Package, error) {
	p, err := s.store.GetPackageByID(ctx, id)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if !p.Active && !actor.IsAdmin() {
		return nil, ErrNotFound
	}
	return p, nil
}

// ListPackages returns packages, optionally those applicable to a vehicle
func (s *CatalogService) ListPackages(ctx context.Context, actor Actor, vehicleID int64) ([]models.Package, error) {
	return s.store.ListPackages(ctx, vehicleID, !actor.IsAdmin())
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
