package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"dreamsense/internal/adapter/repo"
	"dreamsense/internal/bootstrap"
	"dreamsense/internal/http/handlers"
	httpapi "dreamsense/internal/http/httpapi"
	"dreamsense/internal/infra"
	"dreamsense/internal/infra/supabase"
	"dreamsense/internal/metrics"
	"dreamsense/internal/middleware"
	"dreamsense/internal/providers/dream"
	"dreamsense/internal/providers/image"
	"dreamsense/internal/providers/speech"
	"dreamsense/internal/relay"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()
	sql := infra.NewSQLRunner(dbpool, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	ent, err := bootstrap.NewEntitlement(cfg, logger, m)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure entitlement")
	}

	llm, err := bootstrap.NewLLMClient(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure llm client")
	}
	interpreter, err := dream.NewInterpreter(dream.Options{Client: llm, Metrics: m})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure interpreter")
	}
	media := bootstrap.NewMediaClient(cfg, llm, logger)
	images, err := image.NewGenerator(image.Options{Client: media, Model: cfg.ImageModel, Metrics: m})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure image generator")
	}
	speechSvc, err := speech.NewService(speech.Options{
		Client:          media,
		SpeechModel:     cfg.SpeechModel,
		Voice:           cfg.SpeechVoice,
		TranscribeModel: cfg.TranscribeModel,
		Metrics:         m,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure speech")
	}
	store, staticDir, err := bootstrap.NewStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	jwtOpts := middleware.JWTOptions{Secret: cfg.SupabaseJWTSecret, Audience: cfg.JWTAudience}
	if cfg.SupabaseJWKSURL != "" {
		jwtOpts.Keys = supabase.NewKeySet(cfg.SupabaseJWKSURL, &http.Client{Timeout: 10 * time.Second})
	}
	verifier, err := middleware.NewJWTVerifier(jwtOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure auth")
	}

	app := handlers.NewApp(handlers.Options{
		Logger:       &logger,
		Resolver:     ent.Resolver,
		Relay:        relay.New(relay.Options{Model: interpreter, Logger: &logger, Metrics: m}),
		Interpreter:  interpreter,
		Images:       images,
		Speech:       speechSvc,
		Store:        store,
		Credentials:  ent.Credentials,
		Dreams:       repo.NewDreamRepository(sql),
		Profiles:     repo.NewProfileRepository(sql),
		Prompts:      repo.NewPromptRepository(sql),
		Gatherer:     reg,
		SignedURLTTL: cfg.SignedURLTTL,
	})

	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          logger,
		Auth:            verifier,
		CORSOrigins:     cfg.CORSAllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		StaticDir:       staticDir,
	})

	server := infra.NewHTTPServer(cfg, router, logger)

	go func() {
		logger.Info().Str("addr", server.Addr()).Str("env", cfg.AppEnv).Msg("API listening")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
