package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ougajs-sys/easyflows-pro-sub003/config"
	"github.com/ougajs-sys/easyflows-pro-sub003/resilience"
)

func testConfig(targets ...config.TargetConfig) *config.Config {
	cfg := config.Default()
	cfg.Retry.MaxRetries = 1
	cfg.Retry.InitialDelay = time.Millisecond
	cfg.Retry.MaxDelay = 2 * time.Millisecond
	cfg.Breaker.FailureThreshold = 2
	cfg.Breaker.ResetTimeout = time.Hour
	cfg.Targets = targets
	return &cfg
}

func TestProbeAll(t *testing.T) {
	var healthyHits, downHits atomic.Int32
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		healthyHits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer healthy.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downHits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()

	cfg := testConfig(
		config.TargetConfig{Name: "orders", URL: healthy.URL},
		config.TargetConfig{Name: "sms", URL: down.URL},
	)
	reg := prometheus.NewRegistry()
	targets, err := newTargets(cfg, zap.NewNop(), reg)
	require.NoError(t, err)

	var rounds [][]Result
	err = run(context.Background(), targets, 3, time.Millisecond, func(round int, results []Result) {
		rounds = append(rounds, results)
	})
	require.NoError(t, err)
	require.Len(t, rounds, 3)

	for _, results := range rounds {
		assert.Equal(t, "orders", results[0].Target)
		assert.NoError(t, results[0].Err)
		assert.Equal(t, http.StatusNoContent, results[0].Status)
	}

	var statusErr *resilience.StatusError
	assert.ErrorAs(t, rounds[0][1].Err, &statusErr)
	assert.ErrorAs(t, rounds[1][1].Err, &statusErr)
	assert.True(t, rounds[2][1].Skipped)
	assert.ErrorIs(t, rounds[2][1].Err, resilience.ErrCircuitOpen)

	assert.Equal(t, int32(3), healthyHits.Load())
	assert.Equal(t, int32(4), downHits.Load())
	assert.Equal(t, resilience.StateOpen, targets[1].breaker.State())

	s := targets[1].metrics.Snapshot()
	assert.Equal(t, uint64(2), s.Retries)
	assert.Equal(t, uint64(1), s.Rejections)
	assert.Equal(t, uint64(1), s.Trips)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewTargetsDuplicateMetrics(t *testing.T) {
	cfg := testConfig(
		config.TargetConfig{Name: "orders", URL: "http://a.example"},
		config.TargetConfig{Name: "orders", URL: "http://b.example"},
	)
	_, err := newTargets(cfg, zap.NewNop(), prometheus.NewRegistry())
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	targets, err := newTargets(testConfig(config.TargetConfig{Name: "orders", URL: srv.URL}), zap.NewNop(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	rounds := 0
	err = run(ctx, targets, 0, time.Hour, func(int, []Result) {
		rounds++
		cancel()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, rounds)
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in       string
		wantName string
		wantURL  string
		wantErr  bool
	}{
		{"payments=https://pay.example.com/health", "payments", "https://pay.example.com/health", false},
		{"https://sms.example.com/status?key=abc", "sms.example.com", "https://sms.example.com/status?key=abc", false},
		{"http://localhost:8080", "localhost:8080", "http://localhost:8080", false},
		{"orders=not a url", "", "", true},
		{"", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTarget(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, got.Name)
			assert.Equal(t, tt.wantURL, got.URL)
		})
	}
}

func TestExecuteRequiresTargets(t *testing.T) {
	err := execute([]string{"--rounds", "1"})
	assert.ErrorContains(t, err, "no targets")
}
