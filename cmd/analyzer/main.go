package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"banwatch/internal/emit"
	"banwatch/internal/ingest"
	"banwatch/internal/opsserver"
	"banwatch/internal/pipeline"
	"banwatch/internal/telemetry"
	"banwatch/internal/validationsvc"
	"banwatch/internal/validator"
	"banwatch/pkg/config"
	"banwatch/pkg/metrics"
)

func main() {
	// ------- Logging setup -------
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	switch strings.ToLower(getenv("LOG_LEVEL", "info")) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfgPath := getenv("ANALYZER_CONFIG", "")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", cfgPath).Msg("load config")
	}

	applyLogFormat(cfg.Telemetry.Format)

	tracer, err := telemetry.NewProvider(cfg.Telemetry)
	if err != nil {
		log.Fatal().Err(err).Msg("init telemetry")
	}

	validators, err := validator.Build(cfg.Validators)
	if err != nil {
		log.Fatal().Err(err).Msg("build validators")
	}
	log.Info().Int("count", len(validators)).Msg("validators_built")

	q1, q2 := pipeline.NewQueues()

	reg := prometheus.NewRegistry()
	metrics.Register(reg)

	ingestor, err := ingest.New(cfg.Kafka, q1, tracer)
	if err != nil {
		log.Fatal().Err(err).Msg("build ingestor")
	}

	var emitClient emit.Client
	if cfg.DryRun {
		log.Warn().Msg("dry_run enabled: bans will be logged, not delivered")
		emitClient = emit.NoopClient{}
	} else {
		emitClient = emit.NewHTTPClient(cfg.Forwarder.Timeout)
	}
	emitter := emit.New(emitClient, cfg.Forwarder.BanTargetURLs, cfg.AnalyzerID, cfg.Forwarder.RetryCount, cfg.Forwarder.RetryInterval, q2, tracer)

	svc := validationsvc.New(validators, q1, q2, emitter.Done(), tracer)

	opsAddr := getenv("ANALYZER_HTTP_ADDR", ":8080")
	opsRouter := opsserver.NewRouter(reg)
	opsSrv := &http.Server{
		Addr:              opsAddr,
		Handler:           opsRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", opsAddr).Msg("ops_server_listening")
		if err := opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("ops_server_stopped_unexpectedly")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("analyzer_id", cfg.AnalyzerID).Bool("dry_run", cfg.DryRun).Msg("analyzer_starting")

	pipelineErr := make(chan error, 1)
	go func() {
		pipelineErr <- pipeline.Run(ctx, ingestor.Run, svc.Run, emitter.Run)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal_received")
	case runErr = <-pipelineErr:
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			log.Error().Err(runErr).Msg("pipeline_stage_failed")
		}
		stop()
	}

	opsserver.SetDraining(true)

	shCtx, shCancel := telemetry.ContextWithTimeout(10 * time.Second)
	defer shCancel()
	if err := opsSrv.Shutdown(shCtx); err != nil {
		log.Error().Err(err).Msg("ops_server_shutdown_incomplete")
		_ = opsSrv.Close()
	}
	if err := tracer.Shutdown(shCtx); err != nil {
		log.Warn().Err(err).Msg("telemetry_shutdown_error")
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Fatal().Err(runErr).Msg("analyzer_exited_with_error")
	}

	log.Info().Msg("analyzer_exited")
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// applyLogFormat switches the global logger's writer to match
// telemetry.format: "json" emits raw zerolog JSON lines (the default
// writer), "compact" drops the timestamp from the console writer,
// anything else ("full", "pretty", or unset) uses zerolog's full
// console writer.
func applyLogFormat(format string) {
	switch strings.ToLower(format) {
	case "json":
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	case "compact":
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "", PartsExclude: []string{zerolog.TimestampFieldName}})
	default:
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
}
