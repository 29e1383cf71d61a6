package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"modelpilot/internal/httpapi"
)

const shutdownTimeout = 30 * time.Second

var (
	serveAddr        string
	serveCORSOrigins string
	serveWatch       bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address, overrides config")
	serveCmd.Flags().StringVar(&serveCORSOrigins, "cors-origins", "", "comma-separated allowed origins; enables CORS")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "reload the catalog seed file on change")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	if origins := splitCSV(serveCORSOrigins); len(origins) > 0 {
		cfg.CORS.Enabled = true
		cfg.CORS.AllowedOrigins = origins
	}

	ctx := cmd.Context()
	rt, err := newServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close(shutdownTimeout)

	if (serveWatch || cfg.Catalog.Watch) && cfg.Catalog.SeedFile != "" {
		if err := rt.catalog.WatchSeedFile(ctx, cfg.Catalog.SeedFile); err != nil {
			log.Warn().Err(err).Str("path", cfg.Catalog.SeedFile).Msg("seed file watch disabled")
		}
	}

	httpapi.SetBaseContext(ctx)
	httpapi.SetMaxBodyBytes(int64(cfg.Pipeline.MaxBodyMB) * mib)
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.AllowedOrigins, cfg.CORS.AllowedMethods, cfg.CORS.AllowedHeaders)

	app := &httpapi.App{
		Manager:  rt.manager,
		Catalog:  rt.catalog,
		Pipeline: rt.pipeline,
		Profiles: rt.profiler,
		Started:  time.Now(),
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		prof := rt.profiler.Current()
		log.Info().Str("addr", cfg.Addr).Str("tier", string(prof.Tier)).Bool("gpu", prof.HasGPU).Msg("modelpilot listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	return nil
}
