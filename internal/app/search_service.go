package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"weatherdash/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultHistoryLimit bounds how many history records are returned.
const DefaultHistoryLimit = 10

// ErrEmptyCity is returned when a search is attempted without a city name.
var ErrEmptyCity = errors.New("city is required")

// SearchService aggregates weather and country data and keeps per-user history.
type SearchService struct {
	weather   domain.WeatherProvider
	countries domain.CountryProvider
	history   domain.SearchRepository
	events    domain.SearchEventPublisher
	log       *zap.Logger
	maxLimit  int
	now       func() time.Time
}

// SearchOption customises a SearchService.
type SearchOption func(*SearchService)

// WithEventPublisher announces recorded searches through p.
func WithEventPublisher(p domain.SearchEventPublisher) SearchOption {
	return func(s *SearchService) { s.events = p }
}

// WithHistoryLimit sets the maximum number of history records returned.
func WithHistoryLimit(n int) SearchOption {
	return func(s *SearchService) {
		if n > 0 {
			s.maxLimit = n
		}
	}
}

// WithSearchClock replaces time.Now, mainly for tests.
func WithSearchClock(now func() time.Time) SearchOption {
	return func(s *SearchService) { s.now = now }
}

// WithSearchLogger sets the logger used for persistence warnings.
func WithSearchLogger(l *zap.Logger) SearchOption {
	return func(s *SearchService) {
		if l != nil {
			s.log = l
		}
	}
}

// NewSearchService creates a SearchService backed by the given providers and repository.
func NewSearchService(w domain.WeatherProvider, c domain.CountryProvider, h domain.SearchRepository, opts ...SearchOption) *SearchService {
	s := &SearchService{
		weather:   w,
		countries: c,
		history:   h,
		log:       zap.NewNop(),
		maxLimit:  DefaultHistoryLimit,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Search looks up the city, enriches it with country data and records the
// query for userID. A failure to record is logged and does not affect the
// returned result.
func (s *SearchService) Search(ctx context.Context, userID int64, city string) (*domain.AggregateResult, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return nil, ErrEmptyCity
	}

	current, err := s.weather.CurrentWeather(ctx, city)
	if err != nil {
		return nil, err
	}

	result := &domain.AggregateResult{Weather: current.Report()}

	if current.CountryCode != "" {
		country, err := s.countries.Country(ctx, current.CountryCode)
		switch {
		case errors.Is(err, domain.ErrCountryNotFound):
			s.log.Info("no country data", zap.String("code", current.CountryCode))
		case err != nil:
			return nil, err
		default:
			result.Country = country
		}
	}

	s.record(ctx, userID, city, *result)
	return result, nil
}

func (s *SearchService) record(ctx context.Context, userID int64, query string, result domain.AggregateResult) {
	rec := domain.SearchRecord{
		ID:        uuid.New(),
		UserID:    userID,
		Query:     query,
		Result:    result,
		CreatedAt: s.now().UTC(),
	}
	if err := s.history.Add(ctx, rec); err != nil {
		s.log.Warn("failed to record search",
			zap.Int64("user_id", userID),
			zap.String("query", query),
			zap.Error(err),
		)
		return
	}

	if s.events == nil {
		return
	}
	if err := s.events.PublishSearch(ctx, domain.EventFromRecord(rec)); err != nil {
		s.log.Warn("failed to publish search event", zap.String("record_id", rec.ID.String()), zap.Error(err))
	}
}

// Weather returns the current weather for a city without recording it.
func (s *SearchService) Weather(ctx context.Context, city string) (*domain.WeatherReport, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return nil, ErrEmptyCity
	}
	current, err := s.weather.CurrentWeather(ctx, city)
	if err != nil {
		return nil, err
	}
	report := current.Report()
	return &report, nil
}

// History returns the most recent searches for userID, newest first.
func (s *SearchService) History(ctx context.Context, userID int64, limit int) ([]domain.SearchRecord, error) {
	if limit <= 0 || limit > s.maxLimit {
		limit = s.maxLimit
	}
	items, err := s.history.ListRecent(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
