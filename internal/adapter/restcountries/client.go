// Package restcountries is a client for the REST Countries v3.1 API.
package restcountries

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"weatherdash/internal/domain"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://restcountries.com/v3.1"

const providerName = "country"

type countryResponse struct {
	Name struct {
		Common string `json:"common"`
	} `json:"name"`
	Capital    []string          `json:"capital"`
	Population int64             `json:"population"`
	Region     string            `json:"region"`
	Subregion  string            `json:"subregion"`
	Languages  map[string]string `json:"languages"`
	Currencies map[string]struct {
		Name   string `json:"name"`
		Symbol string `json:"symbol"`
	} `json:"currencies"`
	Flags struct {
		PNG string `json:"png"`
		SVG string `json:"svg"`
	} `json:"flags"`
	Maps struct {
		GoogleMaps string `json:"googleMaps"`
	} `json:"maps"`
}

// Client implements domain.CountryProvider.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

var _ domain.CountryProvider = (*Client)(nil)

// New creates a Client bounded by timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Country looks up a country by its ISO 3166-1 alpha-2 code.
func (c *Client) Country(ctx context.Context, code string) (*domain.CountryInfo, error) {
	endpoint := fmt.Sprintf("%s/alpha/%s", c.baseURL, url.PathEscape(strings.ToLower(code)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &domain.ProviderError{Provider: providerName, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.ProviderError{Provider: providerName, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrCountryNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &domain.ProviderError{Provider: providerName, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var body []countryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &domain.ProviderError{Provider: providerName, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(body) == 0 {
		return nil, domain.ErrCountryNotFound
	}
	return toDomain(body[0]), nil
}

func toDomain(r countryResponse) *domain.CountryInfo {
	info := &domain.CountryInfo{
		Name:       r.Name.Common,
		Population: r.Population,
		Region:     r.Region,
		Subregion:  r.Subregion,
		Flag:       r.Flags.PNG,
		Map:        r.Maps.GoogleMaps,
	}
	if len(r.Capital) > 0 {
		info.Capital = r.Capital[0]
	}
	if info.Flag == "" {
		info.Flag = r.Flags.SVG
	}

	// map order is random; sort by key for stable output
	for _, k := range sortedKeys(r.Languages) {
		info.Languages = append(info.Languages, r.Languages[k])
	}
	codes := make([]string, 0, len(r.Currencies))
	for k := range r.Currencies {
		codes = append(codes, k)
	}
	sort.Strings(codes)
	for _, k := range codes {
		cur := r.Currencies[k]
		label := cur.Name
		if cur.Symbol != "" {
			label = fmt.Sprintf("%s (%s)", cur.Name, cur.Symbol)
		}
		info.Currencies = append(info.Currencies, label)
	}
	return info
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
