package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcpgateway/fedcore/pool/strategy"
	"github.com/mcpgateway/fedcore/upstream"
)

const testYAML = `
default:
  size: 2
  min_size: 1
  max_size: 4
  timeout_ms: 1000
  recycle_ms: 0
  pre_ping: true
  strategy: least_connections
  auto_adjust: true
  breaker_failure_threshold: 3
  breaker_timeout_s: 30
  breaker_half_open_max_calls: 2
upstreams:
  weather-svc:
    size: 5
    min_size: 2
    max_size: 10
    timeout_ms: 2000
    strategy: adaptive
    breaker_failure_threshold: 5
`

func writeTempYAML(t *testing.T) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "pools.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testYAML), 0o644))
	return path
}

func TestYAMLSourceFallsBackToDefault(t *testing.T) {
	src, err := NewYAMLSource(writeTempYAML(t))
	require.NoError(t, err)

	cfg := src.ConfigFor(upstream.Ref{ID: "unknown-svc"})
	require.Equal(t, 2, cfg.Size)
	require.Equal(t, strategy.LeastConnections, cfg.Strategy)
}

func TestYAMLSourceUsesPerUpstreamOverride(t *testing.T) {
	src, err := NewYAMLSource(writeTempYAML(t))
	require.NoError(t, err)

	cfg := src.ConfigFor(upstream.Ref{ID: "weather-svc"})
	require.Equal(t, 5, cfg.Size)
	require.Equal(t, strategy.Adaptive, cfg.Strategy)
	require.Equal(t, 5, cfg.Breaker.FailureThreshold)
}

func TestYAMLSourceReloadPicksUpChanges(t *testing.T) {
	path := writeTempYAML(t)
	src, err := NewYAMLSource(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`
default:
  size: 9
  min_size: 1
  max_size: 20
  timeout_ms: 1000
  strategy: round_robin
`), 0o644))
	require.NoError(t, src.Reload())

	cfg := src.ConfigFor(upstream.Ref{ID: "anything"})
	require.Equal(t, 9, cfg.Size)
	require.Equal(t, strategy.RoundRobin, cfg.Strategy)
}
