// Package catalog reads vehicle descriptors from the vehicle service.
package catalog

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"pricescraper/internal/apiclient"
	"pricescraper/pkg/logger"
	"pricescraper/pkg/models"
)

// Client is the HTTP catalog
type Client struct {
	api    *apiclient.Client
	logger logger.Logger
}

// NewClient wraps an API client pointed at the vehicle service
func NewClient(api *apiclient.Client, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Client{api: api, logger: log.WithField("component", "catalog")}
}

// vehicleDTO tolerates the service's local date-times, which carry no zone
type vehicleDTO struct {
	ID        string `json:"id"`
	Model     string `json:"model"`
	Name      string `json:"name"`
	Brand     string `json:"brand"`
	Type      string `json:"type"`
	Year      string `json:"year"`
	FipeCode  string `json:"fipeCode"`
	FullURL   string `json:"fullUrl"`
	YearID    string `json:"yearId"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

var timestampLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"}

func parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (d vehicleDTO) toVehicle() (models.Vehicle, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return models.Vehicle{}, fmt.Errorf("vehicle %q has an invalid id: %w", d.Name, err)
	}
	return models.Vehicle{
		ID:        id,
		Model:     d.Model,
		Name:      d.Name,
		Brand:     d.Brand,
		Type:      d.Type,
		Year:      d.Year,
		FipeCode:  d.FipeCode,
		FullURL:   d.FullURL,
		YearID:    d.YearID,
		CreatedAt: parseTimestamp(d.CreatedAt),
		UpdatedAt: parseTimestamp(d.UpdatedAt),
	}, nil
}

// ByModel returns the vehicles of one model
func (c *Client) ByModel(ctx context.Context, model string) ([]models.Vehicle, error) {
	return c.fetch(ctx, url.Values{"model": {model}})
}

// ListAll returns the full catalog
func (c *Client) ListAll(ctx context.Context) ([]models.Vehicle, error) {
	return c.fetch(ctx, nil)
}

// ByModels looks each model up in turn and merges the results, dropping
// repeats. An empty list means the whole catalog.
func (c *Client) ByModels(ctx context.Context, names []string) ([]models.Vehicle, error) {
	if len(names) == 0 {
		return c.ListAll(ctx)
	}

	seen := make(map[uuid.UUID]struct{})
	var out []models.Vehicle
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		vehicles, err := c.ByModel(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("fetch vehicles for model %s: %w", name, err)
		}
		for _, v := range vehicles {
			if _, dup := seen[v.ID]; dup {
				continue
			}
			seen[v.ID] = struct{}{}
			out = append(out, v)
		}
	}
	return out, nil
}

func (c *Client) fetch(ctx context.Context, query url.Values) ([]models.Vehicle, error) {
	var dtos []vehicleDTO
	if err := c.api.GetJSON(ctx, "/vehicle", query, &dtos); err != nil {
		return nil, err
	}

	vehicles := make([]models.Vehicle, 0, len(dtos))
	for _, d := range dtos {
		v, err := d.toVehicle()
		if err != nil {
			c.logger.WarnWithFields("Skipping catalog entry", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		vehicles = append(vehicles, v)
	}

	c.logger.DebugWithFields("Catalog fetched", map[string]interface{}{
		"query":    query.Encode(),
		"vehicles": len(vehicles),
	})
	return vehicles, nil
}
