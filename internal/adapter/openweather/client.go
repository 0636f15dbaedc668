// Package openweather is a client for the OpenWeatherMap current weather API.
package openweather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"weatherdash/internal/domain"
)

const (
	// DefaultBaseURL is the public API root.
	DefaultBaseURL = "https://api.openweathermap.org/data/2.5"
	providerName   = "weather"
	maxErrorBody   = 64 << 10
)

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	Units   string
	Lang    string
	Timeout time.Duration
}

// Client implements domain.WeatherProvider.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	units      string
	lang       string
}

var _ domain.WeatherProvider = (*Client)(nil)

// New creates a Client. Zero values fall back to metric units, pt_br and a
// ten second timeout.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Units == "" {
		cfg.Units = "metric"
	}
	if cfg.Lang == "" {
		cfg.Lang = "pt_br"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		units:      cfg.Units,
		lang:       cfg.Lang,
	}
}

// CurrentWeather fetches the current conditions for city.
func (c *Client) CurrentWeather(ctx context.Context, city string) (*domain.CurrentWeather, error) {
	params := url.Values{}
	params.Set("q", city)
	params.Set("appid", c.apiKey)
	params.Set("units", c.units)
	params.Set("lang", c.lang)
	endpoint := c.baseURL + "/weather?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &domain.ProviderError{Provider: providerName, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.ProviderError{Provider: providerName, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.CityNotFoundError{Status: resp.StatusCode, Message: readMessage(resp.Body)}
	}

	var body currentResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &domain.ProviderError{Provider: providerName, Err: fmt.Errorf("decode response: %w", err)}
	}

	cw := &domain.CurrentWeather{
		City:        body.Name,
		CountryCode: body.Sys.Country,
		Temperature: body.Main.Temp,
		Humidity:    body.Main.Humidity,
		WindSpeed:   body.Wind.Speed,
	}
	if len(body.Weather) > 0 {
		cw.Description = body.Weather[0].Description
		cw.Icon = body.Weather[0].Icon
	}
	return cw, nil
}

func readMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return ""
	}
	var e errorResponse
	if err := json.Unmarshal(raw, &e); err == nil && e.Message != "" {
		return e.Message
	}
	return strings.TrimSpace(string(raw))
}
