// Package di wires configuration, adapters and services into a runnable App.
package di

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	adapthttp "weatherdash/internal/adapter/http"
	"weatherdash/internal/adapter/memory"
	"weatherdash/internal/adapter/openweather"
	"weatherdash/internal/adapter/postgres"
	"weatherdash/internal/adapter/rabbitmq"
	"weatherdash/internal/adapter/redis"
	"weatherdash/internal/adapter/restcountries"
	"weatherdash/internal/adapter/s3archive"
	"weatherdash/internal/app"
	"weatherdash/internal/config"
	"weatherdash/internal/domain"
	"weatherdash/internal/logger"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Run modes.
const (
	ModeServer    = "server"
	ModeWorker    = "worker"
	ModeSeedAdmin = "seed-admin"
)

// App holds everything one run mode needs. Only the parts of the mode it
// was built for are set.
type App struct {
	cfg     *config.Config
	log     *zap.Logger
	mode    string
	closers []io.Closer

	auth   *app.AuthService
	server *adapthttp.Server

	consumer *rabbitmq.Client
	archive  *app.ArchiveService
}

type stores struct {
	users    domain.UserRepository
	history  domain.SearchRepository
	sessions domain.SessionRepository
	health   func(ctx context.Context) error
}

// BuildApp loads the configuration and constructs the dependencies of mode.
func BuildApp(ctx context.Context, mode string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return Build(ctx, cfg, mode)
}

// Build constructs the dependencies of mode from an already loaded config.
func Build(ctx context.Context, cfg *config.Config, mode string) (*App, error) {
	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	log.Info("logger initialized", zap.String("level", cfg.Log.Level), zap.String("format", cfg.Log.Format))

	a := &App{cfg: cfg, log: log, mode: mode}
	switch mode {
	case ModeServer:
		err = a.buildServer(ctx)
	case ModeWorker:
		err = a.buildWorker(ctx)
	case ModeSeedAdmin:
		var st *stores
		if st, err = a.buildStores(ctx); err == nil {
			a.auth = app.NewAuthService(st.users, st.sessions, app.WithAuthLogger(log))
		}
	default:
		err = fmt.Errorf("unknown mode %q (use %s, %s or %s)", mode, ModeServer, ModeWorker, ModeSeedAdmin)
	}
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	log.Info("dependencies initialized", zap.String("mode", mode))
	return a, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.log }

// Handler exposes the HTTP handler of a server-mode App.
func (a *App) Handler() http.Handler {
	if a.server == nil {
		return nil
	}
	return a.server.Handler()
}

// Close releases every resource in reverse order of acquisition.
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i].Close())
	}
	a.closers = nil
	return err
}

func (a *App) buildStores(ctx context.Context) (*stores, error) {
	var (
		st  stores
		pg  *postgres.DB
		mem *memory.DB
	)

	switch a.cfg.StorageDriver {
	case config.DriverPostgres:
		db, err := postgres.Open(a.cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, db)
		pg = db
		st.users, st.history, st.health = db, db, db.Ping
	default:
		mem = memory.New()
		st.users, st.history = mem, mem
		a.log.Warn("using in-memory storage, data is lost on restart")
	}

	switch a.cfg.Session.Store {
	case config.DriverRedis:
		rs, err := redis.NewSessionStore(ctx, redis.Config{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rs)
		st.sessions = rs
	case config.DriverPostgres:
		st.sessions = postgres.NewSessionRepo(pg)
	default:
		if mem == nil {
			mem = memory.New()
		}
		st.sessions = mem.NewSessionRepo()
	}

	a.log.Info("stores ready",
		zap.String("storage", a.cfg.StorageDriver),
		zap.String("sessions", a.cfg.Session.Store),
	)
	return &st, nil
}

func (a *App) buildServer(ctx context.Context) error {
	st, err := a.buildStores(ctx)
	if err != nil {
		return err
	}

	auth := app.NewAuthService(st.users, st.sessions,
		app.WithSessionTTL(a.cfg.Session.TTL),
		app.WithAuthLogger(a.log.Named("auth")),
	)

	weather := openweather.New(openweather.Config{
		BaseURL: a.cfg.Weather.BaseURL,
		APIKey:  a.cfg.Weather.APIKey,
		Units:   a.cfg.Weather.Units,
		Lang:    a.cfg.Weather.Lang,
		Timeout: a.cfg.ProviderTimeout,
	})
	countries := restcountries.New(a.cfg.CountryBaseURL, a.cfg.ProviderTimeout)

	opts := []app.SearchOption{
		app.WithHistoryLimit(a.cfg.HistoryLimit),
		app.WithSearchLogger(a.log.Named("search")),
	}
	if a.cfg.EventsEnabled() {
		pub, err := rabbitmq.Dial(a.cfg.RabbitMQ.URL, a.cfg.RabbitMQ.Queue, a.log.Named("rabbitmq"))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pub)
		opts = append(opts, app.WithEventPublisher(pub))
	}
	search := app.NewSearchService(weather, countries, st.history, opts...)

	var sso *adapthttp.OIDCConfig
	if a.cfg.SSOEnabled() {
		sso, err = adapthttp.NewOIDC(ctx, a.cfg.OIDC.IssuerURL, a.cfg.OIDC.ClientID,
			a.cfg.OIDC.ClientSecret, a.cfg.OIDC.RedirectURL)
		if err != nil {
			return fmt.Errorf("oidc discovery: %w", err)
		}
	}

	a.auth = auth
	a.server = adapthttp.New(auth, search, adapthttp.Config{
		SessionSecret:  []byte(a.cfg.Session.Secret),
		Production:     a.cfg.IsProduction(),
		RequestTimeout: a.cfg.RequestTimeout,
		RateLimit:      adapthttp.RateLimit{Max: a.cfg.RateLimit.Max, Window: a.cfg.RateLimit.Window},
		SSO:            sso,
		Health:         st.health,
		Logger:         a.log.Named("http"),
	})
	return nil
}

func (a *App) buildWorker(ctx context.Context) error {
	if !a.cfg.EventsEnabled() {
		return errors.New("worker mode needs RABBITMQ_URL")
	}

	archive, err := s3archive.New(ctx, s3archive.Config{
		Endpoint:        a.cfg.S3.Endpoint,
		Region:          a.cfg.S3.Region,
		Bucket:          a.cfg.S3.Bucket,
		AccessKeyID:     a.cfg.S3.AccessKeyID,
		SecretAccessKey: a.cfg.S3.SecretAccessKey,
		UseSSL:          a.cfg.S3.UseSSL,
	}, a.log.Named("s3"))
	if err != nil {
		return fmt.Errorf("s3 archive: %w", err)
	}

	consumer, err := rabbitmq.Dial(a.cfg.RabbitMQ.URL, a.cfg.RabbitMQ.Queue, a.log.Named("rabbitmq"))
	if err != nil {
		return err
	}
	a.closers = append(a.closers, consumer)

	a.consumer = consumer
	a.archive = app.NewArchiveService(archive, a.log.Named("archive"))
	return nil
}
