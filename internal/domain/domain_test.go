package domain_test

import (
	"errors"
	"testing"
	"time"

	"weatherdash/internal/domain"
)

func TestRoundTemperature(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want int
	}{
		{"round down", 14.49, 14},
		{"round half up", 14.5, 15},
		{"negative half", -2.5, -3},
		{"negative small", -0.4, 0},
		{"exact", 20, 20},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := domain.RoundTemperature(tc.in); got != tc.want {
				t.Errorf("RoundTemperature(%v) = %d; want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := domain.NormalizeEmail("  Alice@Example.COM "); got != "alice@example.com" {
		t.Fatalf("unexpected normalised email %q", got)
	}
}

func TestSessionExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &domain.Session{ExpiresAt: now}
	if !s.Expired(now) {
		t.Error("session should be expired at its expiry instant")
	}
	if s.Expired(now.Add(-time.Second)) {
		t.Error("session should be valid before expiry")
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := error(&domain.ProviderError{Provider: "weather", Err: cause})
	if !errors.Is(err, cause) {
		t.Fatal("expected ProviderError to unwrap to its cause")
	}
	var pe *domain.ProviderError
	if !errors.As(err, &pe) || pe.Provider != "weather" {
		t.Fatalf("errors.As failed: %v", err)
	}
}

func TestCurrentWeatherReport(t *testing.T) {
	r := domain.CurrentWeather{City: "London", CountryCode: "GB", Temperature: 11.62, Humidity: 81}.Report()
	if r.Temperature != 12 || r.Country != "GB" || r.City != "London" || r.Humidity != 81 {
		t.Fatalf("unexpected report %+v", r)
	}
}
