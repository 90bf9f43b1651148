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

	"picprompter/internal/auth"
	"picprompter/internal/bootstrap"
	"picprompter/internal/editor"
	"picprompter/internal/http/handlers"
	httpapi "picprompter/internal/http/httpapi"
	"picprompter/internal/infra"
	"picprompter/internal/infra/geoip"
	"picprompter/internal/kvcache"
	"picprompter/internal/middleware"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)
	if err := cfg.RequireSessionSecret(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	core, err := bootstrap.NewCore(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build editing core")
	}
	ensureCtx, cancelEnsure := context.WithTimeout(ctx, 15*time.Second)
	if err := core.Uploader.EnsureBucket(ensureCtx); err != nil {
		// Uploads retry the ensure and fall back to inline images.
		logger.Warn().Err(err).Str("bucket", core.Uploader.Bucket()).Msg("bucket not ready")
	}
	cancelEnsure()

	signer, err := auth.NewSigner(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build token signer")
	}
	kv := kvcache.NewMemory()
	providerOpts := []auth.MockOption{auth.WithLogger(&logger)}
	if cfg.GoogleClientID != "" {
		verifier := auth.NewGoogleVerifier(cfg.GoogleIssuer, cfg.GoogleClientID, &http.Client{Timeout: 10 * time.Second})
		providerOpts = append(providerOpts, auth.WithGoogleVerifier(verifier))
	}
	gate := auth.NewGate(auth.NewMockProvider(kv, signer, providerOpts...))

	var lookup middleware.CountryLookup
	resolver, err := geoip.Open(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	} else if resolver != nil {
		lookup = resolver.CountryCode
		defer resolver.Close()
	}

	sessions := editor.NewRegistry(
		editor.WithIdleTTL(cfg.SessionIdleTTL),
		editor.WithMaxPerOwner(cfg.SessionsPerUser),
		editor.WithRegistryLogger(&logger),
	)
	janitorCtx, stopJanitors := context.WithCancel(ctx)
	defer stopJanitors()
	go sessions.Run(janitorCtx, time.Minute)
	go kv.Run(janitorCtx, time.Minute)

	app := handlers.NewApp(cfg, &logger, gate, core.Editor, sessions, kv)
	app.UseGuard(core.Guard)
	router := httpapi.NewRouter(app, httpapi.Options{Static: core.Static, CountryLookup: lookup})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("model", core.Generator.Model()).Str("storage", cfg.StorageDriver).Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	stopJanitors()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
