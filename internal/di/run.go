package di

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

// Run executes the mode the App was built for. Server and worker modes block
// until SIGINT or SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.log.Info("running", zap.String("mode", a.mode))
	switch a.mode {
	case ModeServer:
		return a.runServer(ctx)
	case ModeWorker:
		return a.runWorker(ctx)
	case ModeSeedAdmin:
		return a.runSeedAdmin(ctx, os.Stdin, os.Stderr)
	default:
		return fmt.Errorf("unknown mode %q", a.mode)
	}
}

func (a *App) runServer(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutting down http server", zap.Duration("timeout", a.cfg.ShutdownTimeout))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.every(gctx, a.cfg.Session.SweepInterval, func() {
			if err := a.auth.PurgeExpiredSessions(gctx); err != nil {
				a.log.Warn("expired session sweep failed", zap.Error(err))
			}
		})
		return nil
	})

	return g.Wait()
}

// every runs fn on each tick of interval until ctx is done.
func (a *App) every(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}

func (a *App) runWorker(ctx context.Context) error {
	return a.consumer.Consume(ctx, a.archive.HandleSearchEvent)
}

func (a *App) runSeedAdmin(ctx context.Context, in *os.File, prompt io.Writer) error {
	email := a.cfg.Admin.Email
	if email == "" {
		return errors.New("ADMIN_EMAIL is required")
	}

	password := a.cfg.Admin.Password
	if password == "" {
		var err error
		if password, err = readPassword(in, prompt); err != nil {
			return err
		}
	}

	user, err := a.auth.SeedAdmin(ctx, a.cfg.Admin.Name, email, password)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	a.log.Info("admin account ready", zap.Int64("user_id", user.ID), zap.String("email", user.Email))
	return nil
}

// readPassword prompts without echo on a terminal and reads one line
// otherwise.
func readPassword(in *os.File, prompt io.Writer) (string, error) {
	fmt.Fprint(prompt, "Admin password: ")
	if fd := int(in.Fd()); term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
