package source

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"pricescraper/internal/apiclient"
	"pricescraper/internal/session"
	"pricescraper/pkg/config"
	errs "pricescraper/pkg/errors"
	"pricescraper/pkg/logger"
	"pricescraper/pkg/models"
	"pricescraper/pkg/parse"
)

// listing is one ad as returned by an extraction worker, price still as
// page text
type listing struct {
	PriceText   string `json:"priceText"`
	MileageInKm *int   `json:"mileageInKm"`
	Year        string `json:"year"`
	DealURL     string `json:"dealUrl"`
	ImageURL    string `json:"imageUrl"`
	FullMatch   bool   `json:"fullMatch"`
	City        string `json:"city"`
	State       string `json:"state"`
}

type scrapeResponse struct {
	Extraction bool      `json:"extraction"`
	Message    string    `json:"message"`
	Listings   []listing `json:"listings"`
}

// RemoteScraper asks an extraction worker to scrape one marketplace
type RemoteScraper struct {
	name   string
	api    *apiclient.Client
	logger logger.Logger
	now    func() time.Time
}

// NewRemoteScraper binds a marketplace name to its worker endpoint
func NewRemoteScraper(name string, api *apiclient.Client, log logger.Logger) *RemoteScraper {
	if log == nil {
		log = logger.GetLogger()
	}
	return &RemoteScraper{
		name:   name,
		api:    api,
		logger: log.WithFields(map[string]interface{}{"component": "scraper", "store": name}),
		now:    time.Now,
	}
}

func (s *RemoteScraper) Name() string { return s.name }

// Scrape posts req to the worker through the session's client. Listings
// whose price cannot be read are dropped one by one.
func (s *RemoteScraper) Scrape(ctx context.Context, sess session.Session, req models.ScrapeRequest) ([]models.Quote, error) {
	api := s.api
	if sess != nil {
		api = api.Using(sess.HTTPClient())
	}

	var resp scrapeResponse
	if err := api.PostJSON(ctx, "", req, &resp); err != nil {
		switch apiclient.StatusCode(err) {
		case http.StatusNotFound, http.StatusUnprocessableEntity:
			return nil, errs.Wrap(errs.ErrorTypeExtraction, err, s.name+": nothing to extract")
		}
		return nil, err
	}
	if resp.Extraction {
		return nil, errs.Extraction("%s: %s", s.name, resp.Message)
	}

	scrapedAt := s.now()
	quotes := make([]models.Quote, 0, len(resp.Listings))
	for _, l := range resp.Listings {
		price, err := parse.ParseBRL(l.PriceText)
		if err != nil {
			s.logger.DebugWithFields("Dropping listing", map[string]interface{}{
				"vehicle_id": req.VehicleID.String(),
				"price_text": l.PriceText,
				"deal_url":   l.DealURL,
				"error":      err.Error(),
			})
			continue
		}
		quotes = append(quotes, models.Quote{
			VehicleID:   req.VehicleID,
			Store:       s.name,
			Price:       price,
			MileageInKm: l.MileageInKm,
			Year:        l.Year,
			DealURL:     l.DealURL,
			ImageURL:    l.ImageURL,
			FullMatch:   l.FullMatch,
			City:        l.City,
			State:       l.State,
			ScrapedAt:   scrapedAt,
		})
	}
	return quotes, nil
}

type fipeResponse struct {
	MonthLabel string `json:"monthLabel"`
	PriceText  string `json:"priceText"`
}

// RemoteFipeSource reads the valuation table through a worker endpoint
type RemoteFipeSource struct {
	api *apiclient.Client
}

// NewRemoteFipeSource creates a source over the worker's API client
func NewRemoteFipeSource(api *apiclient.Client) *RemoteFipeSource {
	return &RemoteFipeSource{api: api}
}

// FetchLatestValuation returns the newest month label and price text shown
// for vehicleURL
func (f *RemoteFipeSource) FetchLatestValuation(ctx context.Context, vehicleURL string) (string, string, error) {
	var resp fipeResponse
	if err := f.api.GetJSON(ctx, "", url.Values{"url": {vehicleURL}}, &resp); err != nil {
		return "", "", err
	}
	if resp.MonthLabel == "" || resp.PriceText == "" {
		return "", "", errs.Extraction("valuation table for %s has no rows", vehicleURL)
	}
	return resp.MonthLabel, resp.PriceText, nil
}

var errNoEndpoint = errors.New("endpoint is required")

// FromConfig builds one RemoteScraper per configured source, in order
func FromConfig(sources []config.SourceConfig, newAPI func(endpoint string) *apiclient.Client, log logger.Logger) (*Registry, error) {
	scrapers := make([]StorePriceScraper, 0, len(sources))
	for _, src := range sources {
		if src.Endpoint == "" {
			return nil, errs.Wrap(errs.ErrorTypeUnknown, errNoEndpoint, "source "+src.Name)
		}
		scrapers = append(scrapers, NewRemoteScraper(src.Name, newAPI(src.Endpoint), log))
	}
	return NewRegistry(scrapers...)
}
