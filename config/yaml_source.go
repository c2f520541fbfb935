package config

import (
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcpgateway/fedcore/breaker"
	"github.com/mcpgateway/fedcore/pool"
	"github.com/mcpgateway/fedcore/pool/strategy"
	"github.com/mcpgateway/fedcore/upstream"
)

// yamlPoolConfig is the on-disk shape of one upstream's pool tuning,
// matching spec §3's SessionConfig field names.
type yamlPoolConfig struct {
	Size                int    `yaml:"size"`
	MinSize             int    `yaml:"min_size"`
	MaxSize             int    `yaml:"max_size"`
	TimeoutMS           int64  `yaml:"timeout_ms"`
	RecycleMS           int64  `yaml:"recycle_ms"`
	PrePing             bool   `yaml:"pre_ping"`
	Strategy            string `yaml:"strategy"`
	AutoAdjust          bool   `yaml:"auto_adjust"`
	ResponseThresholdMS int64  `yaml:"response_threshold_ms"`

	BreakerFailureThreshold int `yaml:"breaker_failure_threshold"`
	BreakerTimeoutS         int `yaml:"breaker_timeout_s"`
	BreakerHalfOpenMaxCalls int `yaml:"breaker_half_open_max_calls"`
}

// yamlFile is the top-level document: a map of upstream ID -> pool config,
// plus a "default" entry used for any upstream without its own section.
type yamlFile struct {
	Default   yamlPoolConfig            `yaml:"default"`
	Upstreams map[string]yamlPoolConfig `yaml:"upstreams"`
}

// YAMLSource implements poolmgr.ConfigSource, reading per-upstream
// pool.Config from a YAML file loaded at construction and re-read by
// Reload. Grounded
// on Alfred's config.Load pattern (parse once into a struct), adapted
// from env vars to a YAML document since per-upstream tuning is
// naturally keyed/nested rather than flat.
type YAMLSource struct {
	mu   sync.RWMutex
	doc  yamlFile
	path string
}

// NewYAMLSource parses path once and returns a ready YAMLSource.
func NewYAMLSource(path string) (*YAMLSource, error) {
	s := &YAMLSource{path: path}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *YAMLSource) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var doc yamlFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	return nil
}

// Reload re-reads the backing file, picking up config changes without
// a process restart. Callers combine this with poolmgr.Reconfigure to
// apply the new config to in-flight pools.
func (s *YAMLSource) Reload() error { return s.reload() }

// ConfigFor implements poolmgr.ConfigSource.
func (s *YAMLSource) ConfigFor(ref upstream.Ref) pool.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()

	y, ok := s.doc.Upstreams[ref.ID]
	if !ok {
		y = s.doc.Default
	}
	return toPoolConfig(y)
}

func toPoolConfig(y yamlPoolConfig) pool.Config {
	strat := strategy.Name(y.Strategy)
	if !strategy.Valid(strat) {
		strat = strategy.LeastConnections
	}
	return pool.Config{
		Size:                y.Size,
		MinSize:             y.MinSize,
		MaxSize:             y.MaxSize,
		TimeoutMS:           y.TimeoutMS,
		RecycleMS:           y.RecycleMS,
		PrePing:             y.PrePing,
		Strategy:            strat,
		AutoAdjust:          y.AutoAdjust,
		ResponseThresholdMS: y.ResponseThresholdMS,
		Breaker: breaker.Config{
			FailureThreshold: y.BreakerFailureThreshold,
			Timeout:          time.Duration(y.BreakerTimeoutS) * time.Second,
			HalfOpenMaxCalls: y.BreakerHalfOpenMaxCalls,
		},
	}
}
