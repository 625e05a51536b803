// Command probe checks downstream HTTP dependencies through a retrying
// executor and a circuit breaker per dependency.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/ougajs-sys/easyflows-pro-sub003/config"
)

func main() {
	if err := execute(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "probe:", err)
		os.Exit(1)
	}
}

func execute(args []string) error {
	flags := pflag.NewFlagSet("probe", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to a YAML config file")
	urls := flags.StringArrayP("url", "u", nil, "target as name=url or url (repeatable)")
	rounds := flags.IntP("rounds", "n", 1, "number of probe rounds, 0 runs until interrupted")
	interval := flags.Duration("interval", 10*time.Second, "wait between rounds")
	metricsAddr := flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
	logLevel := flags.String("log-level", "", "override the configured log level")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = *loaded
	}
	for _, raw := range *urls {
		tc, err := parseTarget(raw)
		if err != nil {
			return err
		}
		cfg.Targets = append(cfg.Targets, tc)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(cfg.Targets) == 0 {
		return errors.New("no targets: pass --url or list targets in --config")
	}

	logger, err := cfg.Log.Build()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	targets, err := newTargets(&cfg, logger, reg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *metricsAddr != "" {
		srv := &http.Server{
			Addr:              *metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("serving metrics", zap.String("addr", *metricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	err = run(ctx, targets, *rounds, *interval, func(round int, results []Result) {
		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
			}
		}
		logger.Info("round complete",
			zap.Int("round", round),
			zap.Int("targets", len(results)),
			zap.Int("failed", failed),
		)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
