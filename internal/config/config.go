// Package config loads the core's process-wide configuration: database
// location, lease/heartbeat thresholds, JSONL sync paths, and the hybrid
// retrieval weights. It follows the teacher's internal/types config loading
// shape (defaults, then YAML override) but carries the core's own fields.
// Environment variables are not consulted.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration object, yaml-tagged for file loading.
type Config struct {
	DBPath string `yaml:"db_path"`

	Claim struct {
		DefaultLeaseDuration time.Duration `yaml:"default_lease_duration"`
	} `yaml:"claim"`

	Heartbeat struct {
		TranscriptIdleSeconds int `yaml:"transcript_idle_seconds"`
		HeartbeatLagSeconds   int `yaml:"heartbeat_lag_seconds"` // 0 = disabled
	} `yaml:"heartbeat"`

	Sync struct {
		Dir               string `yaml:"dir"`
		TasksFile         string `yaml:"tasks_file"`
		LearningsFile     string `yaml:"learnings_file"`
		FileLearningsFile string `yaml:"file_learnings_file"`
		AttemptsFile      string `yaml:"attempts_file"`
	} `yaml:"sync"`

	Retrieval struct {
		BM25Weight    float64 `yaml:"bm25_weight"`
		VectorWeight  float64 `yaml:"vector_weight"`
		RecencyWeight float64 `yaml:"recency_weight"`
	} `yaml:"retrieval"`

	// Embedding configures the optional vector-embedding backend behind
	// learning.Embedder. An empty OpenAIAPIKey leaves vector recall
	// disabled and Recall falls back to BM25+recency only (spec.md §4.K).
	Embedding struct {
		OpenAIAPIKey string `yaml:"openai_api_key"`
		OpenAIModel  string `yaml:"openai_model"`
	} `yaml:"embedding"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default returns the built-in defaults, matching spec.md's defaults
// (30-minute lease, 0.4/0.4/0.2 hybrid retrieval weights, .tx/ paths).
func Default() *Config {
	c := &Config{DBPath: ".tx/tx.db"}
	c.Claim.DefaultLeaseDuration = 30 * time.Minute
	c.Heartbeat.TranscriptIdleSeconds = 300
	c.Heartbeat.HeartbeatLagSeconds = 0
	c.Sync.Dir = ".tx"
	c.Sync.TasksFile = ".tx/tasks.jsonl"
	c.Sync.LearningsFile = ".tx/learnings.jsonl"
	c.Sync.FileLearningsFile = ".tx/file-learnings.jsonl"
	c.Sync.AttemptsFile = ".tx/attempts.jsonl"
	c.Retrieval.BM25Weight = 0.4
	c.Retrieval.VectorWeight = 0.4
	c.Retrieval.RecencyWeight = 0.2
	c.Log.Level = "info"
	c.Log.Format = "console"
	c.Embedding.OpenAIModel = "text-embedding-3-small"
	return c
}

// Load reads path (if present) over the defaults. A missing file is not an
// error -- defaults are returned unchanged, matching the "tolerate missing
// files" posture spec.md requires of the JSONL readers.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
