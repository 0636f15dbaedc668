package di

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"weatherdash/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memConfig() *config.Config {
	cfg := &config.Config{
		Env:             "test",
		Port:            "0",
		StorageDriver:   config.DriverMemory,
		RequestTimeout:  5 * time.Second,
		ShutdownTimeout: time.Second,
		HistoryLimit:    10,
		ProviderTimeout: time.Second,
	}
	cfg.Session.Secret = "test-secret"
	cfg.Session.Store = config.DriverMemory
	cfg.Session.TTL = time.Hour
	cfg.Weather.APIKey = "key"
	cfg.RateLimit.Max = 100
	cfg.RateLimit.Window = time.Minute
	cfg.Log.Level = "error"
	cfg.Log.Format = "json"
	cfg.Admin.Name = "Admin"
	return cfg
}

func TestBuild_ServerInMemory(t *testing.T) {
	a, err := Build(context.Background(), memConfig(), ModeServer)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	h := a.Handler()
	require.NotNil(t, h)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBuild_UnknownMode(t *testing.T) {
	_, err := Build(context.Background(), memConfig(), "cron")
	assert.ErrorContains(t, err, "unknown mode")
}

func TestBuild_WorkerNeedsBroker(t *testing.T) {
	_, err := Build(context.Background(), memConfig(), ModeWorker)
	assert.ErrorContains(t, err, "RABBITMQ_URL")
}

func TestSeedAdmin(t *testing.T) {
	cfg := memConfig()
	cfg.Admin.Email = "Admin@Example.com"
	cfg.Admin.Password = "admin2024"

	a, err := Build(context.Background(), cfg, ModeSeedAdmin)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	ctx := context.Background()
	require.NoError(t, a.runSeedAdmin(ctx, os.Stdin, io.Discard))

	grant, err := a.auth.Authenticate(ctx, "admin@example.com", "admin2024")
	require.NoError(t, err)
	assert.True(t, grant.User.IsAdmin)

	// Seeding again promotes the existing account instead of failing.
	require.NoError(t, a.runSeedAdmin(ctx, os.Stdin, io.Discard))
}

func TestSeedAdmin_RequiresEmail(t *testing.T) {
	a, err := Build(context.Background(), memConfig(), ModeSeedAdmin)
	require.NoError(t, err)

	err = a.runSeedAdmin(context.Background(), os.Stdin, io.Discard)
	assert.ErrorContains(t, err, "ADMIN_EMAIL")
}

func TestReadPassword_FromPipe(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	_, err = w.WriteString("s3cret-pass\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	got, err := readPassword(r, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "s3cret-pass", got)
}

func TestClose_Idempotent(t *testing.T) {
	a, err := Build(context.Background(), memConfig(), ModeServer)
	require.NoError(t, err)
	assert.NoError(t, a.Close())
	assert.NoError(t, a.Close())
}
