// Command ocr-service is the process entrypoint: it wires the Supervisor,
// pipeline and HTTP surface together, then serves until a shutdown signal
// arrives. Wiring follows http-server-stabilizer's main() plus
// divitsinghall-Vortex's signal-driven http.Server.Shutdown pattern.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/NumericFactory/ocr-service-paddle/internal/config"
	"github.com/NumericFactory/ocr-service-paddle/internal/httpapi"
	"github.com/NumericFactory/ocr-service-paddle/internal/metrics"
	"github.com/NumericFactory/ocr-service-paddle/internal/ocr"
	"github.com/NumericFactory/ocr-service-paddle/internal/pipeline"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("ocr-service: invalid configuration")
	}

	collectors := metrics.New(cfg.PrometheusAppName)
	pool := ocr.NewPool(ocr.Config{
		WorkerCount:   cfg.WorkerCount,
		WorkerBinPath: cfg.WorkerBinPath,
		WorkerArgs:    cfg.WorkerArgs,
		QueueMaxSize:  cfg.QueueMaxSize,
		OCRTimeout:    cfg.OCRTimeout,
		ReadyTimeout:  cfg.ReadyTimeout,
	}, collectors)

	log.Info().Int("worker_count", cfg.WorkerCount).Str("worker_bin", cfg.WorkerBinPath).Msg("ocr-service: starting workers")
	if err := pool.Init(); err != nil {
		// fatal-startup (spec.md §7): zero workers ever became ready.
		log.Fatal().Err(err).Msg("ocr-service: no worker reached readiness, exiting")
	}

	pl := pipeline.New(pool)
	handler := httpapi.New(pl, pool, cfg.MaxFileSizeMB*1024*1024)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.OCRTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("ocr-service: listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("ocr-service: server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("ocr-service: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("ocr-service: forced shutdown")
	}
}
