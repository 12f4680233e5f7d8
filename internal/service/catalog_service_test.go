package service

import (
	"context"
	"testing"

	"rental-service/internal/models"
	"rental-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vehicleRequest(plate string) *VehicleRequest {
	return &VehicleRequest{
		PlateNumber:      plate,
		Make:             "Toyota",
		Model:            "Innova",
		Category:         "mpv",
		Seats:            7,
		DailyRate:        45000,
		DailyKmAllowance: 250,
		ExtraKmRate:      200,
		Odometer:         5000,
	}
}

func TestCreateVehicle(t *testing.T) {
	svc := NewCatalogService(newMemStore())
	ctx := context.Background()

	v, err := svc.CreateVehicle(ctx, admin, vehicleRequest(" b 1 abc "))
	require.NoError(t, err)
	assert.Equal(t, "B 1 ABC", v.PlateNumber)
	assert.Equal(t, models.VehicleStatusAvailable, v.Status)
	assert.Equal(t, int64(5000), v.Odometer)

	_, err = svc.CreateVehicle(ctx, admin, vehicleRequest("B 1 ABC"))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreateVehicle(ctx, customer, vehicleRequest("B 2 ABC"))
	assert.ErrorIs(t, err, ErrForbidden)

	bad := vehicleRequest("B 3 ABC")
	bad.DailyRate = 0
	_, err = svc.CreateVehicle(ctx, admin, bad)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUpdateVehicleKeepsOdometerMonotonic(t *testing.T) {
	svc := NewCatalogService(newMemStore())
	ctx := context.Background()
	v, err := svc.CreateVehicle(ctx, admin, vehicleRequest("B 1 ABC"))
	require.NoError(t, err)

	req := vehicleRequest("B 1 ABC")
	req.Odometer = 100
	req.DailyRate = 50000
	updated, err := svc.UpdateVehicle(ctx, admin, v.ID, req)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), updated.Odometer)
	assert.Equal(t, int64(50000), updated.DailyRate)

	req.Odometer = 6000
	updated, err = svc.UpdateVehicle(ctx, admin, v.ID, req)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), updated.Odometer)

	_, err = svc.UpdateVehicle(ctx, admin, 999, req)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetVehicleStatus(t *testing.T) {
	st := newMemStore()
	svc := NewCatalogService(st)
	ctx := context.Background()
	v, err := svc.CreateVehicle(ctx, admin, vehicleRequest("B 1 ABC"))
	require.NoError(t, err)

	v, err = svc.SetVehicleStatus(ctx, admin, v.ID, models.VehicleStatusMaintenance)
	require.NoError(t, err)
	assert.Equal(t, models.VehicleStatusMaintenance, v.Status)

	v, err = svc.SetVehicleStatus(ctx, admin, v.ID, models.VehicleStatusMaintenance)
	require.NoError(t, err)
	assert.Equal(t, models.VehicleStatusMaintenance, v.Status)

	v, err = svc.SetVehicleStatus(ctx, admin, v.ID, models.VehicleStatusAvailable)
	require.NoError(t, err)
	assert.Equal(t, models.VehicleStatusAvailable, v.Status)

	_, err = svc.SetVehicleStatus(ctx, admin, v.ID, models.VehicleStatusRented)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.SetVehicleStatus(ctx, customer, v.ID, models.VehicleStatusMaintenance)
	assert.ErrorIs(t, err, ErrForbidden)

	// a confirmed booking keeps the vehicle out of maintenance
	b := &models.Booking{VehicleID: v.ID, CustomerID: customer.UserID, IdempotencyKey: "k", Status: models.BookingStatusPending}
	require.NoError(t, st.CreateBooking(ctx, b))
	b.Status = models.BookingStatusConfirmed
	require.NoError(t, st.ApplyTransition(ctx, store.Transition{Booking: b, From: models.BookingStatusPending, SyncVehicle: true}))

	_, err = svc.SetVehicleStatus(ctx, admin, v.ID, models.VehicleStatusMaintenance)
	assert.ErrorIs(t, err, ErrVehicleUnavailable)
}

func TestListVehicles(t *testing.T) {
	svc := NewCatalogService(newMemStore())
	ctx := context.Background()
	_, err := svc.CreateVehicle(ctx, admin, vehicleRequest("A"))
	require.NoError(t, err)
	other := vehicleRequest("B")
	other.Category = "suv"
	_, err = svc.CreateVehicle(ctx, admin, other)
	require.NoError(t, err)

	suvs, err := svc.ListVehicles(ctx, store.VehicleFilter{Category: "suv"})
	require.NoError(t, err)
	require.Len(t, suvs, 1)
	assert.Equal(t, "B", suvs[0].PlateNumber)

	_, err = svc.ListVehicles(ctx, store.VehicleFilter{Status: "BROKEN"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestPackages(t *testing.T) {
	svc := NewCatalogService(newMemStore())
	ctx := context.Background()
	v, err := svc.CreateVehicle(ctx, admin, vehicleRequest("A"))
	require.NoError(t, err)

	_, err = svc.CreatePackage(ctx, admin, &PackageRequest{Name: "Airport", Price: 40000, VehicleIDs: []int64{999}})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.CreatePackage(ctx, customer, &PackageRequest{Name: "Airport", Price: 40000})
	assert.ErrorIs(t, err, ErrForbidden)

	p, err := svc.CreatePackage(ctx, admin, &PackageRequest{
		Name: " Airport ", Price: 40000, IncludedKm: 60, VehicleIDs: []int64{v.ID, v.ID},
	})
	require.NoError(t, err)
	assert.True(t, p.Active)
	assert.Equal(t, "Airport", p.Name)
	assert.Equal(t, []int64{v.ID}, p.VehicleIDs)

	inactive := false
	_, err = svc.UpdatePackage(ctx, admin, p.ID, &PackageRequest{Name: "Airport", Price: 42000, Active: &inactive})
	require.NoError(t, err)

	_, err = svc.GetPackage(ctx, customer, p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := svc.GetPackage(ctx, admin, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(42000), got.Price)
	assert.Empty(t, got.VehicleIDs)

	visible, err := svc.ListPackages(ctx, customer, 0)
	require.NoError(t, err)
	assert.Empty(t, visible)
	all, err := svc.ListPackages(ctx, admin, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
