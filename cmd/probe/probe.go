package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ougajs-sys/easyflows-pro-sub003/config"
	"github.com/ougajs-sys/easyflows-pro-sub003/metrics"
	"github.com/ougajs-sys/easyflows-pro-sub003/resilience"
)

// target is one dependency with its own executor, breaker and counters.
type target struct {
	name    string
	url     string
	client  *http.Client
	exec    *resilience.Executor
	breaker *resilience.CircuitBreaker[int]
	metrics *metrics.CallMetrics
	logger  *zap.Logger
}

// Result is the outcome of probing one target once.
type Result struct {
	Target  string
	Status  int
	Err     error
	Skipped bool
}

func newTargets(cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) ([]*target, error) {
	targets := make([]*target, 0, len(cfg.Targets))
	for _, tc := range cfg.Targets {
		m := metrics.NewCallMetrics()
		opts := []resilience.Option{
			resilience.WithName(tc.Name),
			resilience.WithLogger(logger),
			resilience.WithMetrics(m),
		}

		exec, err := resilience.NewExecutor(cfg.Retry.Policy(), opts...)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", tc.Name, err)
		}
		breaker, err := resilience.NewCircuitBreaker[int](cfg.Breaker.CircuitBreakerConfig(), opts...)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", tc.Name, err)
		}
		if reg != nil {
			if err := reg.Register(metrics.NewCollector(tc.Name, m)); err != nil {
				return nil, fmt.Errorf("target %s: register metrics: %w", tc.Name, err)
			}
		}

		targets = append(targets, &target{
			name:    tc.Name,
			url:     tc.URL,
			client:  &http.Client{Timeout: tc.Timeout},
			exec:    exec,
			breaker: breaker,
			metrics: m,
			logger:  logger.With(zap.String("target", tc.Name)),
		})
	}
	return targets, nil
}

func (t *target) probe(ctx context.Context) Result {
	status, err := t.breaker.Execute(ctx, func() (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
		if err != nil {
			return 0, err
		}
		resp, err := t.exec.Fetch(ctx, t.client, req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	})

	res := Result{Target: t.name, Status: status, Err: err}
	switch {
	case resilience.IsCircuitOpen(err):
		res.Skipped = true
		t.logger.Warn("probe skipped, circuit open")
	case err != nil:
		t.logger.Error("probe failed", zap.Error(err), zap.Stringer("breaker", t.breaker.State()))
	default:
		t.logger.Info("probe succeeded", zap.Int("status", status))
	}
	return res
}

// probeAll probes every target concurrently. A failing target does not
// cancel the others.
func probeAll(ctx context.Context, targets []*target) ([]Result, error) {
	results := make([]Result, len(targets))
	g, ctx := errgroup.WithContext(ctx)
	for i, t := range targets {
		g.Go(func() error {
			results[i] = t.probe(ctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// run probes targets for the given number of rounds, waiting interval between rounds.
func run(ctx context.Context, targets []*target, rounds int, interval time.Duration, report func(round int, results []Result)) error {
	for round := 1; rounds <= 0 || round <= rounds; round++ {
		results, err := probeAll(ctx, targets)
		if err != nil {
			return err
		}
		if report != nil {
			report(round, results)
		}
		if rounds > 0 && round == rounds {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return nil
}

// parseTarget accepts "name=url" or a bare URL, which is named after its host.
func parseTarget(s string) (config.TargetConfig, error) {
	name, raw, ok := strings.Cut(s, "=")
	if !ok || strings.Contains(name, "/") {
		name, raw = "", s
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return config.TargetConfig{}, fmt.Errorf("invalid target url %q", raw)
	}
	if name == "" {
		name = u.Host
	}
	return config.TargetConfig{Name: name, URL: raw}, nil
}
