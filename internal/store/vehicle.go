package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"pricescraper/pkg/logger"
	"pricescraper/pkg/models"
)

const selectVehicles = `SELECT id::text, COALESCE(name, ''), COALESCE(fipe_code, ''),
	COALESCE(full_url, ''), COALESCE(year_id::text, '')
FROM vehicle
ORDER BY name`

// VehicleRepo reads the vehicle table
type VehicleRepo struct {
	pool   Pool
	logger logger.Logger
}

// NewVehicleRepo creates a repository over pool
func NewVehicleRepo(pool Pool, log logger.Logger) *VehicleRepo {
	if log == nil {
		log = logger.GetLogger()
	}
	return &VehicleRepo{pool: pool, logger: log.WithField("component", "vehicle_repo")}
}

// ListAll returns every vehicle with the columns the valuation job needs
func (r *VehicleRepo) ListAll(ctx context.Context) ([]models.Vehicle, error) {
	rows, err := r.pool.Query(ctx, selectVehicles)
	if err != nil {
		return nil, fmt.Errorf("postgres: list vehicles: %w", err)
	}
	defer rows.Close()

	var vehicles []models.Vehicle
	for rows.Next() {
		var id string
		var v models.Vehicle
		if err := rows.Scan(&id, &v.Name, &v.FipeCode, &v.FullURL, &v.YearID); err != nil {
			return nil, fmt.Errorf("postgres: scan vehicle: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			r.logger.WarnWithFields("Skipping vehicle row", map[string]interface{}{
				"id":    id,
				"error": err.Error(),
			})
			continue
		}
		v.ID = parsed
		vehicles = append(vehicles, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate vehicles: %w", err)
	}
	return vehicles, nil
}
