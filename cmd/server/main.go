// Command server runs the DSCPL companion HTTP API: program sessions,
// daily content delivery, progress tracking, reminders, and just-chat.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dscpl/go-dscpl-backend/internal/calendar"
	"github.com/dscpl/go-dscpl-backend/internal/config"
	"github.com/dscpl/go-dscpl-backend/internal/content"
	"github.com/dscpl/go-dscpl-backend/internal/corpus"
	httpapi "github.com/dscpl/go-dscpl-backend/internal/http"
	"github.com/dscpl/go-dscpl-backend/internal/notify"
	"github.com/dscpl/go-dscpl-backend/internal/observability"
	"github.com/dscpl/go-dscpl-backend/internal/repo"
	"github.com/dscpl/go-dscpl-backend/internal/sysutil"
	"github.com/dscpl/go-dscpl-backend/internal/video"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found; using process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		if err := shutdownOTel(context.Background()); err != nil {
			log.Warn().Err(err).Msg("otel shutdown failed")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("cannot open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Str("path", cfg.DBPath).Msg("database ready")

	lib, err := corpus.Load(cfg.CorpusPath)
	if err != nil {
		// A missing corpus degrades generation to built-in fallback passages.
		log.Warn().Err(err).Str("path", cfg.CorpusPath).Msg("corpus unavailable; using fallback passages")
		lib = corpus.FromPassages(nil)
	}

	var vids video.Recommender
	if cfg.Video.Token != "" {
		vids = video.NewClient(cfg.Video.BaseURL, cfg.Video.Token)
		log.Info().Str("base_url", cfg.Video.BaseURL).Msg("video recommendations enabled")
	} else {
		log.Info().Msg("video recommendations disabled (VIDEO_API_TOKEN not set)")
	}
	gen := content.NewCorpusGenerator(lib, vids)

	var cal calendar.Events = calendar.Noop{}
	if cfg.Calendar.Enabled {
		cal = calendar.NewGoogleClient(cfg.Calendar.TokenFile)
		log.Info().Str("token_file", cfg.Calendar.TokenFile).Msg("calendar integration enabled")
	}

	sched := notify.NewScheduler(notify.LogDeliverer{}, notify.WithPollInterval(cfg.Scheduler.PollInterval))
	if err := sched.Rehydrate(ctx, db); err != nil {
		log.Warn().Err(err).Msg("reminder rehydration failed; continuing with empty queue")
	}
	sched.Start()

	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}
	r := gin.New()
	httpapi.RegisterRoutes(r, db, lib, gen, sched, cal, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("base_path", cfg.APIBasePath).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	stop()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.WriteTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	if err := sched.Stop(cfg.Scheduler.StopTimeout); err != nil {
		log.Warn().Err(err).Msg("scheduler stop timed out")
	}

	log.Info().Msg("server stopped")
}
