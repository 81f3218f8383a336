// Package source defines the marketplace and FIPE capabilities the engine
// drives, their registry, and adapters that reach extraction workers over HTTP.
package source

import (
	"context"
	"errors"
	"fmt"

	"pricescraper/internal/session"
	"pricescraper/pkg/models"
)

// StorePriceScraper pulls quotes for one vehicle from one marketplace.
// An errors.ErrorTypeExtraction error means the page had nothing to read.
type StorePriceScraper interface {
	Name() string
	Scrape(ctx context.Context, sess session.Session, req models.ScrapeRequest) ([]models.Quote, error)
}

// FipeSource reads the newest row of the official valuation table for a
// vehicle page, as raw text
type FipeSource interface {
	FetchLatestValuation(ctx context.Context, vehicleURL string) (monthLabel, priceText string, err error)
}

// Registry is an ordered, fixed set of scrapers
type Registry struct {
	scrapers []StorePriceScraper
}

// NewRegistry keeps scrapers in the given order and rejects nil entries and
// repeated names
func NewRegistry(scrapers ...StorePriceScraper) (*Registry, error) {
	seen := make(map[string]struct{}, len(scrapers))
	out := make([]StorePriceScraper, 0, len(scrapers))
	for i, s := range scrapers {
		if s == nil {
			return nil, fmt.Errorf("scraper %d is nil", i)
		}
		if s.Name() == "" {
			return nil, fmt.Errorf("scraper %d has no name", i)
		}
		if _, dup := seen[s.Name()]; dup {
			return nil, fmt.Errorf("scraper %q registered twice", s.Name())
		}
		seen[s.Name()] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, errors.New("no scrapers registered")
	}
	return &Registry{scrapers: out}, nil
}

// Scrapers returns a copy of the registered scrapers
func (r *Registry) Scrapers() []StorePriceScraper {
	out := make([]StorePriceScraper, len(r.scrapers))
	copy(out, r.scrapers)
	return out
}

// Names lists scraper names in order
func (r *Registry) Names() []string {
	names := make([]string, len(r.scrapers))
	for i, s := range r.scrapers {
		names[i] = s.Name()
	}
	return names
}

// Len is the number of scrapers
func (r *Registry) Len() int { return len(r.scrapers) }
