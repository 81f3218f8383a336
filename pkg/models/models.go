package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// VehicleType is the marketplace category slug of a vehicle
type VehicleType string

const (
	VehicleTypeCar        VehicleType = "carros"
	VehicleTypeMotorcycle VehicleType = "motos"
	VehicleTypeTruck      VehicleType = "caminhões"
)

// ParseVehicleType accepts either the enum name (CAR) or the slug (carros)
func ParseVehicleType(s string) (VehicleType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "car", "carros", "carro":
		return VehicleTypeCar, true
	case "motorcycle", "motos", "moto":
		return VehicleTypeMotorcycle, true
	case "truck", "caminhões", "caminhoes", "caminhão":
		return VehicleTypeTruck, true
	}
	return "", false
}

// Vehicle is a catalog entry. The catalog owns it; the scraper never mutates it.
type Vehicle struct {
	ID        uuid.UUID `json:"id"`
	Model     string    `json:"model"`
	Name      string    `json:"name"`
	Brand     string    `json:"brand"`
	Type      string    `json:"type"`
	Year      string    `json:"year"`
	FipeCode  string    `json:"fipeCode,omitempty"`
	FullURL   string    `json:"fullUrl,omitempty"`
	YearID    string    `json:"yearId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ScrapeRequest is what a source scraper receives for one vehicle
type ScrapeRequest struct {
	VehicleID uuid.UUID   `json:"vehicleId"`
	Type      VehicleType `json:"type"`
	Brand     string      `json:"brand"`
	Model     string      `json:"model"`
	Year      string      `json:"year"`
	Version   string      `json:"version"`
	Source    string      `json:"source"`
}

// Quote is one listing observed on a marketplace
type Quote struct {
	VehicleID   uuid.UUID
	Store       string
	Price       decimal.Decimal
	MileageInKm *int
	Year        string
	DealURL     string
	ImageURL    string
	FullMatch   bool
	City        string
	State       string
	ScrapedAt   time.Time
}

// DedupKey is the identity the price store checks quotes against.
// Store and time are deliberately absent; see DESIGN.md.
func (q Quote) DedupKey() string {
	return q.VehicleID.String() + "|" + q.Price.String()
}

// Valuation is one monthly FIPE price for a vehicle
type Valuation struct {
	VehicleID uuid.UUID
	Month     int
	Year      int
	Price     decimal.Decimal
}

// Period formats the valuation month as YYYY-MM
func (v Valuation) Period() string {
	return Period(v.Month, v.Year)
}

// Period formats a month/year pair as YYYY-MM
func Period(month, year int) string {
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).Format("2006-01")
}
