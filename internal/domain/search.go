package domain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// WeatherReport is the current-conditions part of a search result.
type WeatherReport struct {
	City        string  `json:"city"`
	Country     string  `json:"country"`
	Temperature int     `json:"temperature"`
	Description string  `json:"description"`
	Humidity    int     `json:"humidity"`
	WindSpeed   float64 `json:"windSpeed"`
	Icon        string  `json:"icon"`
}

// CountryInfo is the optional enrichment attached to a weather report.
type CountryInfo struct {
	Name       string   `json:"name"`
	Capital    string   `json:"capital"`
	Population int64    `json:"population"`
	Region     string   `json:"region"`
	Subregion  string   `json:"subregion"`
	Languages  []string `json:"languages"`
	Currencies []string `json:"currencies"`
	Flag       string   `json:"flag"`
	Map        string   `json:"map"`
}

// AggregateResult is what a city search returns and what gets recorded.
type AggregateResult struct {
	Weather WeatherReport `json:"weather"`
	Country *CountryInfo  `json:"country"`
}

// SearchRecord is one immutable entry of a user's search history.
type SearchRecord struct {
	ID        uuid.UUID       `json:"id"`
	UserID    int64           `json:"userId"`
	Query     string          `json:"query"`
	Result    AggregateResult `json:"results"`
	CreatedAt time.Time       `json:"createdAt"`
}

// SearchEvent is published after a search has been recorded.
type SearchEvent struct {
	RecordID  uuid.UUID       `json:"recordId"`
	UserID    int64           `json:"userId"`
	Query     string          `json:"query"`
	Result    AggregateResult `json:"results"`
	CreatedAt time.Time       `json:"createdAt"`
}

// EventFromRecord builds the event describing a stored record.
func EventFromRecord(r SearchRecord) SearchEvent {
	return SearchEvent{
		RecordID:  r.ID,
		UserID:    r.UserID,
		Query:     r.Query,
		Result:    r.Result,
		CreatedAt: r.CreatedAt,
	}
}

// RoundTemperature rounds a provider temperature half away from zero.
func RoundTemperature(v float64) int {
	return int(math.Round(v))
}

// CurrentWeather is the provider-neutral reading before rounding.
type CurrentWeather struct {
	City        string
	CountryCode string
	Temperature float64
	Description string
	Humidity    int
	WindSpeed   float64
	Icon        string
}

// Report converts a raw reading into the displayed report.
func (c CurrentWeather) Report() WeatherReport {
	return WeatherReport{
		City:        c.City,
		Country:     c.CountryCode,
		Temperature: RoundTemperature(c.Temperature),
		Description: c.Description,
		Humidity:    c.Humidity,
		WindSpeed:   c.WindSpeed,
		Icon:        c.Icon,
	}
}

// ErrMalformedEvent marks a search event that can never be processed.
var ErrMalformedEvent = errors.New("malformed search event")

// ErrCountryNotFound is returned by a CountryProvider for an unknown code.
var ErrCountryNotFound = errors.New("country not found")

// CityNotFoundError is returned when the weather provider rejects a query.
type CityNotFoundError struct {
	Status  int
	Message string
}

func (e *CityNotFoundError) Error() string {
	return fmt.Sprintf("city not found: %s", e.Message)
}

// ProviderError wraps a transport or decoding failure of an external provider.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// WeatherProvider is the port for the current-weather data source.
type WeatherProvider interface {
	CurrentWeather(ctx context.Context, city string) (*CurrentWeather, error)
}

// CountryProvider is the port for the country information data source.
type CountryProvider interface {
	Country(ctx context.Context, code string) (*CountryInfo, error)
}

// SearchRepository is the port for search history persistence.
type SearchRepository interface {
	Add(ctx context.Context, rec SearchRecord) error
	ListRecent(ctx context.Context, userID int64, limit int) ([]SearchRecord, error)
}

// SearchEventPublisher announces recorded searches to other processes.
type SearchEventPublisher interface {
	PublishSearch(ctx context.Context, ev SearchEvent) error
}

// SearchArchive stores recorded searches outside the primary database.
type SearchArchive interface {
	Archive(ctx context.Context, ev SearchEvent) error
}
