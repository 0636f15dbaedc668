package adapthttp_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	adapthttp "weatherdash/internal/adapter/http"
	"weatherdash/internal/adapter/memory"
	"weatherdash/internal/app"
	"weatherdash/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Mock providers (function-fields pattern)
// ---------------------------------------------------------------------------

type mockWeather struct {
	fn func(ctx context.Context, city string) (*domain.CurrentWeather, error)
}

func (m *mockWeather) CurrentWeather(ctx context.Context, city string) (*domain.CurrentWeather, error) {
	if m.fn != nil {
		return m.fn(ctx, city)
	}
	if city != "London" {
		return nil, &domain.CityNotFoundError{Status: http.StatusNotFound, Message: "city not found"}
	}
	return &domain.CurrentWeather{
		City: "London", CountryCode: "GB", Temperature: 11.5,
		Description: "light rain", Humidity: 81, WindSpeed: 4.1, Icon: "10d",
	}, nil
}

type mockCountries struct{}

func (mockCountries) Country(_ context.Context, code string) (*domain.CountryInfo, error) {
	if code != "GB" {
		return nil, domain.ErrCountryNotFound
	}
	return &domain.CountryInfo{Name: "United Kingdom", Capital: "London", Population: 67215293, Region: "Europe"}, nil
}

// ---------------------------------------------------------------------------
// Test-server helper
// ---------------------------------------------------------------------------

type testEnv struct {
	ts     *httptest.Server
	db     *memory.DB
	auth   *app.AuthService
	client *http.Client
}

type envOption func(*adapthttp.Config, *mockWeather)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	db := memory.New()
	auth := app.NewAuthService(db, db.NewSessionRepo())
	weather := &mockWeather{}
	cfg := adapthttp.Config{SessionSecret: []byte("test-secret")}
	for _, o := range opts {
		o(&cfg, weather)
	}
	search := app.NewSearchService(weather, mockCountries{}, db)

	ts := httptest.NewServer(adapthttp.New(auth, search, cfg).Handler())
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &testEnv{ts: ts, db: db, auth: auth, client: client}
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := e.client.Get(e.ts.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *testEnv) postForm(t *testing.T, path string, form url.Values) *http.Response {
	t.Helper()
	resp, err := e.client.PostForm(e.ts.URL+path, form)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *testEnv) registerAndLogin(t *testing.T) {
	t.Helper()
	_, err := e.auth.Register(context.Background(), app.RegisterInput{
		Name: "Ana", Email: "ana@example.com", Password: "secret1", PasswordConfirmation: "secret1",
	})
	require.NoError(t, err)

	resp := e.postForm(t, "/auth/login", url.Values{"email": {"ANA@example.com"}, "password": {"secret1"}})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/dashboard", resp.Header.Get("Location"))
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	return m
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeBody(t, resp)["ok"])
}

func TestHealthEndpoint_Unhealthy(t *testing.T) {
	env := newTestEnv(t, func(c *adapthttp.Config, _ *mockWeather) {
		c.Health = func(context.Context) error { return assert.AnError }
	})

	resp := env.get(t, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGuards_Anonymous(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		path     string
		status   int
		location string
	}{
		{"/", http.StatusFound, "/auth/login"},
		{"/dashboard", http.StatusFound, "/auth/login"},
		{"/auth/login", http.StatusOK, ""},
		{"/auth/register", http.StatusOK, ""},
		{"/api/history", http.StatusUnauthorized, ""},
		{"/api/search?city=London", http.StatusUnauthorized, ""},
		{"/api/weather/London", http.StatusUnauthorized, ""},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			resp := env.get(t, tc.path)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.location, resp.Header.Get("Location"))
			if tc.status == http.StatusUnauthorized {
				assert.Equal(t, "unauthorized", decodeBody(t, resp)["error"])
			}
		})
	}
}

func TestGuards_Authenticated(t *testing.T) {
	env := newTestEnv(t)
	env.registerAndLogin(t)

	resp := env.get(t, "/")
	assert.Equal(t, "/dashboard", resp.Header.Get("Location"))

	resp = env.get(t, "/auth/login")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/dashboard", resp.Header.Get("Location"))

	resp = env.get(t, "/auth/register")
	assert.Equal(t, "/dashboard", resp.Header.Get("Location"))

	resp = env.get(t, "/dashboard")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := body(t, resp)
	assert.Contains(t, page, "Hello, Ana")
	assert.Contains(t, page, "Last login:")
}

func TestLogin_SessionCookie(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.auth.Register(context.Background(), app.RegisterInput{
		Name: "Ana", Email: "ana@example.com", Password: "secret1", PasswordConfirmation: "secret1",
	})
	require.NoError(t, err)

	resp := env.postForm(t, "/auth/login", url.Values{"email": {"ana@example.com"}, "password": {"secret1"}})
	require.Equal(t, http.StatusFound, resp.StatusCode)

	var session *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "session" {
			session = c
		}
	}
	require.NotNil(t, session)
	assert.True(t, session.HttpOnly)
	assert.Equal(t, "/", session.Path)
	assert.Equal(t, http.SameSiteLaxMode, session.SameSite)
	assert.False(t, session.Secure)
	assert.InDelta(t, (24 * time.Hour).Seconds(), float64(session.MaxAge), 5)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.registerAndLogin(t)
	env.get(t, "/auth/logout")

	for _, form := range []url.Values{
		{"email": {"ana@example.com"}, "password": {"wrong-password"}},
		{"email": {"nobody@example.com"}, "password": {"secret1"}},
	} {
		resp := env.postForm(t, "/auth/login", form)
		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "/auth/login", resp.Header.Get("Location"))

		page := env.get(t, "/auth/login")
		assert.Contains(t, body(t, page), "Invalid email or password.")
	}

	resp := env.get(t, "/dashboard")
	assert.Equal(t, "/auth/login", resp.Header.Get("Location"))
}

func TestLogout_ThenGuardedRoutesFail(t *testing.T) {
	env := newTestEnv(t)
	env.registerAndLogin(t)

	resp := env.get(t, "/api/history")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.get(t, "/auth/logout")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/auth/login", resp.Header.Get("Location"))
	assert.Zero(t, env.db.NewSessionRepo().Count(), "session must be deleted from the store")

	resp = env.get(t, "/dashboard")
	assert.Equal(t, "/auth/login", resp.Header.Get("Location"))
	resp = env.get(t, "/api/history")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Logging out again is harmless.
	resp = env.get(t, "/auth/logout")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestTamperedCookieIsAnonymous(t *testing.T) {
	env := newTestEnv(t)
	env.registerAndLogin(t)

	u, _ := url.Parse(env.ts.URL)
	cookies := env.client.Jar.Cookies(u)
	require.NotEmpty(t, cookies)
	forged := cookies[0].Value[:len(cookies[0].Value)-2] + "xx"

	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/api/history", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: forged})
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRegister(t *testing.T) {
	env := newTestEnv(t)

	t.Run("validation problems re-render the form", func(t *testing.T) {
		resp := env.postForm(t, "/auth/register", url.Values{
			"name": {"Bea"}, "email": {"bea@example.com"},
			"password": {"secret1"}, "password_confirmation": {"secret2"},
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		page := body(t, resp)
		assert.Contains(t, page, "Passwords do not match")
		assert.Contains(t, page, `value="bea@example.com"`)
		assert.Zero(t, env.db.CountUsers())
	})

	t.Run("success redirects to login", func(t *testing.T) {
		resp := env.postForm(t, "/auth/register", url.Values{
			"name": {"Bea"}, "email": {"bea@example.com"},
			"password": {"secret1"}, "password_confirmation": {"secret1"},
		})
		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "/auth/login", resp.Header.Get("Location"))
		assert.Equal(t, 1, env.db.CountUsers())

		page := env.get(t, "/auth/login")
		assert.Contains(t, body(t, page), "Registration complete")
	})

	t.Run("duplicate email is rejected", func(t *testing.T) {
		resp := env.postForm(t, "/auth/register", url.Values{
			"name": {"Bea 2"}, "email": {"BEA@example.com"},
			"password": {"secret1"}, "password_confirmation": {"secret1"},
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, body(t, resp), "Email is already registered")
		assert.Equal(t, 1, env.db.CountUsers())
	})
}

func TestSearchAndHistory(t *testing.T) {
	env := newTestEnv(t)
	env.registerAndLogin(t)

	resp := env.get(t, "/api/search?city=London")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result domain.AggregateResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, 12, result.Weather.Temperature)
	require.NotNil(t, result.Country)
	assert.Equal(t, "London", result.Country.Capital)

	resp = env.get(t, "/api/history")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var items []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&items))
	require.Len(t, items, 1)
	assert.Equal(t, "London", items[0]["query"])
	assert.Contains(t, items[0], "results")
	assert.Contains(t, items[0], "createdAt")
}

func TestSearchErrors(t *testing.T) {
	env := newTestEnv(t)
	env.registerAndLogin(t)

	resp := env.get(t, "/api/search")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.get(t, "/api/search?city=InvalidCityXYZ123")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	m := decodeBody(t, resp)
	assert.Equal(t, "city not found", m["error"])
	assert.Equal(t, "city not found", m["details"])

	resp = env.get(t, "/api/history")
	var items []any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&items))
	assert.Empty(t, items, "failed searches are not recorded")
}

func TestSearch_ProviderFailure(t *testing.T) {
	env := newTestEnv(t, func(_ *adapthttp.Config, w *mockWeather) {
		w.fn = func(context.Context, string) (*domain.CurrentWeather, error) {
			return nil, &domain.ProviderError{Provider: "weather", Err: assert.AnError}
		}
	})
	env.registerAndLogin(t)

	resp := env.get(t, "/api/search?city=London")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestWeatherEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.registerAndLogin(t)

	resp := env.get(t, "/api/weather/London")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	m := decodeBody(t, resp)
	assert.Equal(t, "London", m["city"])
	assert.EqualValues(t, 12, m["temperature"])
	assert.Equal(t, "ana@example.com", m["user"])
	ts, ok := m["timestamp"].(string)
	require.True(t, ok)
	stamp, err := time.Parse(time.RFC3339Nano, ts)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), stamp, time.Minute)

	resp = env.get(t, "/api/history")
	var items []any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&items))
	assert.Empty(t, items)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *adapthttp.Config, _ *mockWeather) {
		c.RateLimit = adapthttp.RateLimit{Max: 2, Window: time.Minute}
	})
	env.registerAndLogin(t)

	assert.Equal(t, http.StatusOK, env.get(t, "/api/history").StatusCode)
	assert.Equal(t, http.StatusOK, env.get(t, "/api/history").StatusCode)

	resp := env.get(t, "/api/history")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// Browser routes are not limited.
	assert.Equal(t, http.StatusOK, env.get(t, "/dashboard").StatusCode)
}

func TestRateLimit_IgnoresForwardingHeaders(t *testing.T) {
	env := newTestEnv(t, func(c *adapthttp.Config, _ *mockWeather) {
		c.RateLimit = adapthttp.RateLimit{Max: 2, Window: time.Minute}
	})
	env.registerAndLogin(t)

	allowed := 0
	for i := 1; i <= 20; i++ {
		req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/api/history", nil)
		require.NoError(t, err)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("10.0.1.%d", i))
		req.Header.Set("True-Client-IP", fmt.Sprintf("10.0.2.%d", i))
		resp, err := env.client.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			allowed++
		} else {
			assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		}
	}
	assert.Equal(t, 2, allowed)
}

func TestSecurityHeaders(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/auth/login")
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.NotEmpty(t, resp.Header.Get("Content-Security-Policy"))
	assert.NotEmpty(t, resp.Header.Get("Referrer-Policy"))
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/no-such-page")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html"))
	assert.Contains(t, body(t, resp), "Page not found")

	env.registerAndLogin(t)
	resp = env.get(t, "/api/nothing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not found", decodeBody(t, resp)["error"])
}

func TestPanicRendersInternalError(t *testing.T) {
	panicky := func(_ *adapthttp.Config, w *mockWeather) {
		w.fn = func(context.Context, string) (*domain.CurrentWeather, error) { panic("boom") }
	}

	t.Run("development shows detail", func(t *testing.T) {
		env := newTestEnv(t, panicky)
		env.registerAndLogin(t)

		resp := env.get(t, "/api/search?city=London")
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Contains(t, decodeBody(t, resp)["details"], "boom")
	})

	t.Run("production hides detail", func(t *testing.T) {
		env := newTestEnv(t, panicky, func(c *adapthttp.Config, _ *mockWeather) { c.Production = true })
		_, err := env.auth.Register(context.Background(), app.RegisterInput{
			Name: "Ana", Email: "ana@example.com", Password: "secret1", PasswordConfirmation: "secret1",
		})
		require.NoError(t, err)

		// The jar keeps Secure cookies off plain HTTP, so replay it by hand.
		login := env.postForm(t, "/auth/login", url.Values{"email": {"ana@example.com"}, "password": {"secret1"}})
		var session *http.Cookie
		for _, c := range login.Cookies() {
			if c.Name == "session" {
				session = c
			}
		}
		require.NotNil(t, session)
		assert.True(t, session.Secure)

		req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/api/search?city=London", nil)
		req.AddCookie(&http.Cookie{Name: "session", Value: session.Value})
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close() //nolint:errcheck

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		m := decodeBody(t, resp)
		assert.Equal(t, "internal server error", m["error"])
		assert.NotContains(t, m, "details")
	})
}
