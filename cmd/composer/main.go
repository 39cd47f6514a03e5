package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-composer/internal/api"
	"github.com/stemsi/exstem-composer/internal/app"
	"github.com/stemsi/exstem-composer/internal/config"
	"github.com/stemsi/exstem-composer/internal/focus"
	"github.com/stemsi/exstem-composer/internal/handler"
	"github.com/stemsi/exstem-composer/internal/identity"
	"github.com/stemsi/exstem-composer/internal/logger"
	"github.com/stemsi/exstem-composer/internal/manager"
	"github.com/stemsi/exstem-composer/internal/middleware"
	"github.com/stemsi/exstem-composer/internal/realtime"
	"github.com/stemsi/exstem-composer/internal/router"
	"github.com/stemsi/exstem-composer/internal/session"
	"github.com/stemsi/exstem-composer/internal/validator"
	"github.com/stemsi/exstem-composer/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("api", cfg.APIBaseURL).
		Str("port", cfg.ObserverPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Composer")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	appCtx := app.New(cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── REST Client & Identity ────────────────────────────────────────
	client := api.NewClient(cfg.APIBaseURL, cfg.HTTPTimeout, log,
		api.WithToken(cfg.SessionToken),
		api.WithErrorSink(appCtx.Errors),
	)
	ids := identity.NewService(client, log, appCtx.Notifier)

	uc, err := resolveUser(ctx, cfg, ids)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to resolve the logged user")
	}
	sc, ok := uc.SessionContext()
	if !ok || !uc.IsStudent() {
		log.Fatal().Str("role", string(uc.Role)).Msg("Logged user has no composition to take")
	}
	log.Info().
		Str("username", uc.User.Username).
		Str("type", sc.Type).
		Str("id", sc.ID).
		Bool("started", sc.Started).
		Bool("ended", sc.Ended).
		Msg("Composition resolved")

	// ─── Session Manager ───────────────────────────────────────────────
	bus := focus.NewBus()
	channel := realtime.New(realtime.Options{
		BaseURL: cfg.WebsocketBaseURL,
		Path:    cfg.WebsocketPath,
		Jar:     client.Jar(),
		Token:   client.Token(),
	}, log, appCtx.Notifier)

	mgr, err := manager.New(sc, session.Deps{
		API:         client,
		FocusSource: bus,
		Log:         log,
		Notifier:    appCtx.Notifier,
	}, channel)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create session manager")
	}

	// A load failure is kept in the manager state and shown to the user.
	if err := mgr.Init(ctx); err != nil {
		log.Error().Err(err).Msg("Initial session load failed")
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan struct{})

	autosaveWorker := worker.NewAutosaveWorker(mgr, cfg.AutosaveInterval, log)
	go func() {
		defer close(workerDone)
		autosaveWorker.Start(workerCtx)
	}()

	// ─── Setup Router ──────────────────────────────────────────────────
	limiter := middleware.NewRateLimiter(120, time.Minute)
	defer limiter.Stop()

	handlers := &router.Handlers{
		Session:  handler.NewSessionHandler(mgr, log),
		Question: handler.NewQuestionHandler(mgr, log),
		Errors:   handler.NewErrorHandler(appCtx.Errors),
		Focus:    handler.NewFocusHandler(bus),
		Stream:   handler.NewStreamHandler(appCtx.Notifier, log, cfg.AllowedOrigins),
	}
	r := router.SetupRouter(handlers, limiter, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ObserverPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	srvLog := appCtx.Component("observer")
	go func() {
		srvLog.Info().Str("addr", srv.Addr).Msg("Observer API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvLog.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting observer requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		srvLog.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the autosave worker and wait for pending answers to drain.
	workerCancel()
	<-workerDone

	// 3. Release the realtime channel and the session.
	mgr.Close()

	log.Info().Msg("Shutdown complete")
}

// resolveUser picks the logged user from the bearer token when one is
// configured, from the resumed server session otherwise, and finally asks
// for a ticket on an interactive terminal.
func resolveUser(ctx context.Context, cfg *config.Config, ids *identity.Service) (identity.UserContext, error) {
	if cfg.SessionToken != "" {
		uc, err := identity.FromToken(cfg.SessionToken, time.Now())
		if err != nil {
			return identity.UserContext{}, err
		}
		ids.Adopt(uc)
		return *uc, nil
	}

	if ok, err := ids.Resume(ctx); err != nil {
		return identity.UserContext{}, err
	} else if ok {
		return ids.Current()
	}

	if !identity.Interactive(os.Stdin) {
		return identity.UserContext{}, identity.ErrNotLoggedIn
	}
	ticket, err := identity.PromptTicket(os.Stdin, os.Stderr)
	if err != nil {
		return identity.UserContext{}, err
	}
	uc, err := ids.TicketLogin(ctx, ticket)
	if err != nil {
		return identity.UserContext{}, err
	}
	return *uc, nil
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
