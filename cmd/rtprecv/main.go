// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 rtprecv contributors

// Command rtprecv runs the receiver module standalone, against an
// in-memory logging sink rather than a real host audio mixer, for local
// testing and as a demonstration harness.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/silentwave/rtprecv"
	"github.com/silentwave/rtprecv/metrics"
	"github.com/silentwave/rtprecv/rtpcodec"
	"github.com/silentwave/rtprecv/sink"
)

// fileConfig is the optional YAML form of the module's load arguments,
// read from the file named by RTPRECV_CONFIG_FILE. It exists for
// operators who'd rather drop a config file next to the binary than
// build the PulseAudio-style "key=value;key=value" string by hand.
type fileConfig struct {
	Sink       string `yaml:"sink"`
	SAPAddress string `yaml:"sap_address"`
	LogLevel   string `yaml:"log_level"`
}

// loadRawArgs resolves the module's load-argument string, preferring a
// YAML config file (RTPRECV_CONFIG_FILE) over the raw RTPRECV_ARGS
// string, and falling back to the built-in demo default.
func loadRawArgs() (rawArgs, logLevel string, err error) {
	if path := os.Getenv("RTPRECV_CONFIG_FILE"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return "", "", fmt.Errorf("opening config file: %w", err)
		}
		defer f.Close()

		var cfg fileConfig
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return "", "", fmt.Errorf("parsing config file: %w", err)
		}
		if cfg.Sink == "" {
			return "", "", fmt.Errorf("config file %s: sink is required", path)
		}

		raw := "sink=" + cfg.Sink
		if cfg.SAPAddress != "" {
			raw += ";sap_address=" + cfg.SAPAddress
		}
		return raw, cfg.LogLevel, nil
	}

	rawArgs = os.Getenv("RTPRECV_ARGS")
	if rawArgs == "" {
		rawArgs = "sink=demo"
	}
	return rawArgs, os.Getenv("LOG_LEVEL"), nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	rawArgs, logLevel, err := loadRawArgs()
	if err != nil {
		log.Fatal().Err(err).Msg("loading module configuration")
	}

	lev, err := zerolog.ParseLevel(logLevel)
	if err != nil || lev == zerolog.NoLevel {
		lev = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.StampMicro,
	}).With().Timestamp().Logger().Level(lev)

	m, err := metricsServer(":9090")
	if err != nil {
		log.Fatal().Err(err).Msg("starting metrics server")
	}

	sinkNew := func(origin string, spec rtpcodec.SampleSpec) (sink.Sink, error) {
		log.Info().Str("origin", origin).Interface("spec", spec).Msg("sink attached")
		return newLogSink(origin, spec, log.Logger), nil
	}

	mod, err := rtprecv.New(rawArgs, sinkNew, m, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("loading rtprecv module")
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		mod.Shutdown()
	}()

	if err := mod.Start(); err != nil {
		log.Warn().Err(err).Msg("rtprecv module finished")
	}
}

// metricsServer starts a Prometheus exposition endpoint on addr in the
// background and returns the Metrics bound to the default registry.
func metricsServer(addr string) (*metrics.Metrics, error) {
	m := metrics.New(prometheus.DefaultRegisterer)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server exited")
		}
	}()

	return m, nil
}
