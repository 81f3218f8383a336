// Package pricestore is the client for the price persistence service.
package pricestore

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"pricescraper/internal/apiclient"
	"pricescraper/pkg/logger"
	"pricescraper/pkg/models"
)

// Client checks and saves marketplace quotes and FIPE valuations over HTTP
type Client struct {
	api    *apiclient.Client
	logger logger.Logger
}

// NewClient wraps an API client pointed at the price service
func NewClient(api *apiclient.Client, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Client{api: api, logger: log.WithField("component", "price_store")}
}

type quoteBody struct {
	VehicleID   string      `json:"vehicleId"`
	Store       string      `json:"store"`
	Price       json.Number `json:"price"`
	MileageInKm *int        `json:"mileageInKm"`
	Year        string      `json:"year"`
	DealURL     string      `json:"dealUrl"`
	ImageURL    string      `json:"imageUrl"`
	FullMatch   bool        `json:"fullMatch"`
	City        string      `json:"city"`
	State       string      `json:"state"`
	ScrapedAt   string      `json:"scrapedAt"`
}

type valuationBody struct {
	VehicleID string      `json:"vehicleId"`
	Month     int         `json:"month"`
	Year      int         `json:"year"`
	Price     json.Number `json:"price"`
}

func number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

// Exists asks whether a quote with this vehicle and price is already
// recorded. A 404 comes back as a typed not_found error.
func (c *Client) Exists(ctx context.Context, vehicleID string, price decimal.Decimal) (bool, error) {
	var exists bool
	path := "/price/store/" + url.PathEscape(vehicleID)
	if err := c.api.GetJSON(ctx, path, url.Values{"price": {price.String()}}, &exists); err != nil {
		return false, err
	}
	return exists, nil
}

// SaveQuote persists one quote
func (c *Client) SaveQuote(ctx context.Context, q models.Quote) error {
	scrapedAt := q.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now()
	}
	body := quoteBody{
		VehicleID:   q.VehicleID.String(),
		Store:       q.Store,
		Price:       number(q.Price),
		MileageInKm: q.MileageInKm,
		Year:        q.Year,
		DealURL:     q.DealURL,
		ImageURL:    q.ImageURL,
		FullMatch:   q.FullMatch,
		City:        q.City,
		State:       q.State,
		ScrapedAt:   scrapedAt.Format(time.RFC3339),
	}
	return c.api.PostJSON(ctx, "/price/store", body, nil)
}

// SaveValuation persists one monthly FIPE price
func (c *Client) SaveValuation(ctx context.Context, v models.Valuation) error {
	body := valuationBody{
		VehicleID: v.VehicleID.String(),
		Month:     v.Month,
		Year:      v.Year,
		Price:     number(v.Price),
	}
	if err := c.api.PostJSON(ctx, "/price/fipe", body, nil); err != nil {
		return err
	}
	c.logger.DebugWithFields("Valuation saved", map[string]interface{}{
		"vehicle_id": body.VehicleID,
		"period":     v.Period(),
	})
	return nil
}
