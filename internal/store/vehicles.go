package store

import (
	"context"
	"fmt"

	"rental-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// VehicleFilter narrows vehicle listings
type VehicleFilter struct {
	Status   string
	Category string
}

// CreateVehicle inserts a vehicle
func (s *Store) CreateVehicle(ctx context.Context, v *models.Vehicle) error {
	query := `
		INSERT INTO vehicles (plate_number, make, model, category, seats, daily_rate,
			daily_km_allowance, extra_km_rate, odometer, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`

	row := s.db.QueryRowxContext(ctx, query,
		v.PlateNumber, v.Make, v.Model, v.Category, v.Seats, v.DailyRate,
		v.DailyKmAllowance, v.ExtraKmRate, v.Odometer, v.Status)
	return translate(row.Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt))
}

// UpdateVehicle updates the descriptive and pricing fields of a vehicle; the odometer never decreases
func (s *Store) UpdateVehicle(ctx context.Context, v *models.Vehicle) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE vehicles SET plate_number = $1, make = $2, model = $3, category = $4, seats = $5,
			daily_rate = $6, daily_km_allowance = $7, extra_km_rate = $8,
			odometer = GREATEST(odometer, $9), updated_at = NOW()
		WHERE id = $10`,
		v.PlateNumber, v.Make, v.Model, v.Category, v.Seats,
		v.DailyRate, v.DailyKmAllowance, v.ExtraKmRate, v.Odometer, v.ID)
	if err != nil {
		return translate(err)
	}
	if err := expectOneRow(res); err != nil {
		return ErrNotFound
	}
	return nil
}

// GetVehicleByID retrieves a vehicle by ID
func (s *Store) GetVehicleByID(ctx context.Context, id int64) (*models.Vehicle, error) {
	var v models.Vehicle
	err := s.db.GetContext(ctx, &v, "SELECT * FROM vehicles WHERE id = $1", id)
	if err != nil {
		return nil, translate(err)
	}
	return &v, nil
}

// ListVehicles retrieves vehicles matching the filter
func (s *Store) ListVehicles(ctx context.Context, f VehicleFilter) ([]models.Vehicle, error) {
	vehicles := []models.Vehicle{}
	err := s.db.SelectContext(ctx, &vehicles, `
		SELECT * FROM vehicles
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR category = $2)
		ORDER BY id`, f.Status, f.Category)
	return vehicles, err
}

// SetVehicleStatus moves a vehicle between AVAILABLE and MAINTENANCE when no active booking holds it
func (s *Store) SetVehicleStatus(ctx context.Context, id int64, from, to string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE vehicles SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
		AND NOT EXISTS (
			SELECT 1 FROM bookings
			WHERE vehicle_id = $2 AND status IN ('CONFIRMED', 'COLLECTED')
		)`, to, id, from)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// CreatePackage inserts a package and its vehicle scope
func (s *Store) CreatePackage(ctx context.Context, p *models.Package) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO packages (name, description, price, included_km, duration_days, active)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, created_at, updated_at`
		row := tx.QueryRowxContext(ctx, query,
			p.Name, p.Description, p.Price, p.IncludedKm, p.DurationDays, p.Active)
		if err := row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return translate(err)
		}
		return replacePackageVehiclesTx(ctx, tx, p.ID, p.VehicleIDs)
	})
}

// UpdatePackage updates a package and replaces its vehicle scope
func (s *Store) UpdatePackage(ctx context.Context, p *models.Package) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE packages SET name = $1, description = $2, price = $3, included_km = $4,
				duration_days = $5, active = $6, updated_at = NOW()
			WHERE id = $7`,
			p.Name, p.Description, p.Price, p.IncludedKm, p.DurationDays, p.Active, p.ID)
		if err != nil {
			return err
		}
		if err := expectOneRow(res); err != nil {
			return ErrNotFound
		}
		return replacePackageVehiclesTx(ctx, tx, p.ID, p.VehicleIDs)
	})
}

func replacePackageVehiclesTx(ctx context.Context, tx *sqlx.Tx, packageID int64, vehicleIDs []int64) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM package_vehicles WHERE package_id = $1", packageID); err != nil {
		return err
	}
	for _, vid := range vehicleIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO package_vehicles (package_id, vehicle_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
			packageID, vid); err != nil {
			return fmt.Errorf("failed to scope package to vehicle %d: %w", vid, err)
		}
	}
	return nil
}

// GetPackageByID retrieves a package with its vehicle scope
func (s *Store) GetPackageByID(ctx context.Context, id int64) (*models.Package, error) {
	var p models.Package
	if err := s.db.GetContext(ctx, &p, "SELECT * FROM packages WHERE id = $1", id); err != nil {
		return nil, translate(err)
	}

	p.VehicleIDs = []int64{}
	if err := s.db.SelectContext(ctx, &p.VehicleIDs,
		"SELECT vehicle_id FROM package_vehicles WHERE package_id = $1 ORDER BY vehicle_id", id); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPackages retrieves packages, optionally only those applicable to a vehicle
func (s *Store) ListPackages(ctx context.Context, vehicleID int64, activeOnly bool) ([]models.Package, error) {
	packages := []models.Package{}
	err := s.db.SelectContext(ctx, &packages, `
		SELECT p.* FROM packages p
		WHERE (NOT $2 OR p.active)
		AND ($1 = 0
			OR NOT EXISTS (SELECT 1 FROM package_vehicles pv WHERE pv.package_id = p.id)
			OR EXISTS (SELECT 1 FROM package_vehicles pv WHERE pv.package_id = p.id AND pv.vehicle_id = $1))
		ORDER BY p.id`, vehicleID, activeOnly)
	if err != nil {
		return nil, err
	}
	if len(packages) == 0 {
		return packages, nil
	}

	ids := make([]int64, len(packages))
	for i := range packages {
		ids[i] = packages[i].ID
		packages[i].VehicleIDs = []int64{}
	}

	query, args, err := sqlx.In("SELECT package_id, vehicle_id FROM package_vehicles WHERE package_id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var scopes []struct {
		PackageID int64 `db:"package_id"`
		VehicleID int64 `db:"vehicle_id"`
	}
	if err := s.db.SelectContext(ctx, &scopes, query, args...); err != nil {
		return nil, err
	}

	index := make(map[int64]int, len(packages))
	for i := range packages {
		index[packages[i].ID] = i
	}
	for _, sc := range scopes {
		i := index[sc.PackageID]
		packages[i].VehicleIDs = append(packages[i].VehicleIDs, sc.VehicleID)
	}
	return packages, nil
}
