package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"pricescraper/pkg/logger"
	"pricescraper/pkg/models"
)

const insertValuation = `INSERT INTO fipe_price (id, vehicle_id, month, year, price)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (vehicle_id, month, year) DO NOTHING`

// ValuationRepo writes monthly valuations to fipe_price
type ValuationRepo struct {
	pool   Pool
	logger logger.Logger
}

// NewValuationRepo creates a repository over pool
func NewValuationRepo(pool Pool, log logger.Logger) *ValuationRepo {
	if log == nil {
		log = logger.GetLogger()
	}
	return &ValuationRepo{pool: pool, logger: log.WithField("component", "valuation_repo")}
}

// SaveValuation inserts v. A row for the same vehicle and period already
// present is left alone and is not an error.
func (r *ValuationRepo) SaveValuation(ctx context.Context, v models.Valuation) error {
	tag, err := r.pool.Exec(ctx, insertValuation,
		uuid.New().String(), v.VehicleID.String(), v.Month, v.Year, v.Price)
	if err != nil {
		return fmt.Errorf("postgres: insert valuation %s %s: %w", v.VehicleID, v.Period(), err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.DebugWithFields("Valuation already stored", map[string]interface{}{
			"vehicle_id": v.VehicleID.String(),
			"period":     v.Period(),
		})
	}
	return nil
}
