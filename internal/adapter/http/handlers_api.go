package adapthttp

import (
	"errors"
	"net/http"
	"time"

	"weatherdash/internal/app"
	"weatherdash/internal/domain"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	result, err := s.search.Search(r.Context(), id.User.ID, r.URL.Query().Get("city"))
	if err != nil {
		s.writeSearchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// weatherResponse is the report stamped with the lookup time and requester.
type weatherResponse struct {
	domain.WeatherReport
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
}

func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	report, err := s.search.Weather(r.Context(), chi.URLParam(r, "city"))
	if err != nil {
		s.writeSearchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, weatherResponse{
		WeatherReport: *report,
		Timestamp:     s.now().UTC(),
		User:          id.User.Email,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	items, err := s.search.History(r.Context(), id.User.ID, intQuery(r, "limit", 0))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if items == nil {
		items = []domain.SearchRecord{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) writeSearchError(w http.ResponseWriter, r *http.Request, err error) {
	var notFound *domain.CityNotFoundError
	var provider *domain.ProviderError

	switch {
	case errors.Is(err, app.ErrEmptyCity):
		writeError(w, http.StatusBadRequest, err)
	case errors.As(err, &notFound):
		status := notFound.Status
		if status < 400 || status > 599 {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]any{"error": "city not found", "details": notFound.Message})
	case errors.As(err, &provider):
		s.log.Warn("provider failure", zap.String("provider", provider.Provider), zap.Error(provider.Err))
		body := map[string]any{"error": "failed to fetch weather data"}
		if !s.cfg.Production {
			body["details"] = provider.Error()
		}
		writeJSON(w, http.StatusBadGateway, body)
	default:
		s.internalError(w, r, err)
	}
}
