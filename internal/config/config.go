// Package config resolves the on-disk data root and per-project isolation
// for the memory store (spec component C1).
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultDataDirName        = "titan-data"
	defaultSurpriseThreshold  = 0.5
	defaultHeartbeatMs        = 30_000
	defaultHeartbeatTimeoutMs = 90_000
	defaultLockExpiryMs       = 60_000
	defaultLockTimeoutMs      = 5_000
	defaultMaxAgents          = 100
	defaultMaxLocksPerAgent   = 10
	defaultMaxWaitersPerRes   = 50
)

// Config holds tunables for every component. Zero-value fields are filled
// with defaults by Load so callers may construct a Config literal
// with only the fields they care about.
type Config struct {
	DataDir           string  `yaml:"dataDir" json:"dataDir"`
	SurpriseThreshold float64 `yaml:"surpriseThreshold" json:"surpriseThreshold"`
	OfflineMode       bool    `yaml:"offlineMode" json:"offlineMode"`

	Consolidation ConsolidationConfig `yaml:"consolidation" json:"consolidation"`
	Importance    ImportanceConfig    `yaml:"importance" json:"importance"`
	ContextWindow ContextWindowConfig `yaml:"contextWindow" json:"contextWindow"`
	NoopLog       NoopLogConfig       `yaml:"noopLog" json:"noopLog"`
	A2A           A2AConfig           `yaml:"a2a" json:"a2a"`
}

// ConsolidationConfig tunes C4's consolidation/fusion thresholds.
type ConsolidationConfig struct {
	SimilarityThreshold float64 `yaml:"similarityThreshold" json:"similarityThreshold"`
	MergeThreshold       float64 `yaml:"mergeThreshold" json:"mergeThreshold"`
}

// ImportanceConfig tunes the C3/C4 importance formula weights. These MUST be
// implementer-exposed per spec §4.3.
type ImportanceConfig struct {
	RecencyWeight      float64 `yaml:"recencyWeight" json:"recencyWeight"`
	FrequencyWeight    float64 `yaml:"frequencyWeight" json:"frequencyWeight"`
	RelevanceWeight    float64 `yaml:"relevanceWeight" json:"relevanceWeight"`
	ConnectivityWeight float64 `yaml:"connectivityWeight" json:"connectivityWeight"`
	SurpriseWeight     float64 `yaml:"surpriseWeight" json:"surpriseWeight"`
	DecayRate          float64 `yaml:"decayRate" json:"decayRate"`
}

// ContextWindowConfig tunes C4's adaptive context window.
type ContextWindowConfig struct {
	MaxSize int `yaml:"maxSize" json:"maxSize"`
}

// NoopLogConfig tunes C6's bounded NOOP log.
type NoopLogConfig struct {
	MaxEntries int `yaml:"maxEntries" json:"maxEntries"`
}

// A2AConfig tunes C9/C10 defaults (spec §6.2).
type A2AConfig struct {
	Port                  int    `yaml:"port" json:"port"`
	HeartbeatMs           int    `yaml:"heartbeatMs" json:"heartbeatMs"`
	HeartbeatTimeoutMs    int    `yaml:"heartbeatTimeoutMs" json:"heartbeatTimeoutMs"`
	LockExpiryMs          int    `yaml:"lockExpiryMs" json:"lockExpiryMs"`
	LockTimeoutMs         int    `yaml:"lockTimeoutMs" json:"lockTimeoutMs"`
	MaxAgents             int    `yaml:"maxAgents" json:"maxAgents"`
	MaxLocksPerAgent      int    `yaml:"maxLocksPerAgent" json:"maxLocksPerAgent"`
	MaxWaitQueueSize      int    `yaml:"maxWaitQueueSize" json:"maxWaitQueueSize"`
	ConflictStrategy      string `yaml:"conflictStrategy" json:"conflictStrategy"`
	ReconnectBaseMs       int    `yaml:"reconnectBaseMs" json:"reconnectBaseMs"`
	ReconnectMaxMs        int    `yaml:"reconnectMaxMs" json:"reconnectMaxMs"`
	RequestTimeoutMs      int    `yaml:"requestTimeoutMs" json:"requestTimeoutMs"`
}

// Default returns a Config populated with the defaults described in spec §6.2
// and §4.3.
func Default() Config {
	return Config{
		DataDir:           defaultDataDir(),
		SurpriseThreshold: defaultSurpriseThreshold,
		OfflineMode:       true,
		Consolidation: ConsolidationConfig{
			SimilarityThreshold: 0.85,
			MergeThreshold:      0.8,
		},
		Importance: ImportanceConfig{
			RecencyWeight:      0.35,
			FrequencyWeight:    0.25,
			RelevanceWeight:    0.20,
			ConnectivityWeight: 0.10,
			SurpriseWeight:     0.10,
			DecayRate:          0.95,
		},
		ContextWindow: ContextWindowConfig{MaxSize: 50},
		NoopLog:       NoopLogConfig{MaxEntries: 10_000},
		A2A: A2AConfig{
			Port:               9876,
			HeartbeatMs:        defaultHeartbeatMs,
			HeartbeatTimeoutMs: defaultHeartbeatTimeoutMs,
			LockExpiryMs:       defaultLockExpiryMs,
			LockTimeoutMs:      defaultLockTimeoutMs,
			MaxAgents:          defaultMaxAgents,
			MaxLocksPerAgent:   defaultMaxLocksPerAgent,
			MaxWaitQueueSize:   defaultMaxWaitersPerRes,
			ConflictStrategy:   "last_write_wins",
			ReconnectBaseMs:    1_000,
			ReconnectMaxMs:     30_000,
			RequestTimeoutMs:   10_000,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultDataDirName
	}
	return filepath.Join(home, "."+defaultDataDirName)
}

// Load reads a YAML config file (if path is non-empty and exists), loads a
// local .env (best-effort, never fatal), applies environment variable
// overrides from spec §6.4, and fills in defaults for anything unset.
func Load(path string) (Config, error) {
	_ = godotenv.Load() // best-effort; absence of .env is not an error

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, err
			}
		}
	}
	applyEnvOverrides(&cfg)
	fillDefaults(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("TITAN_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("TITAN_SURPRISE_THRESHOLD")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SurpriseThreshold = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("TITAN_OFFLINE_MODE")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.OfflineMode = b
		}
	}
}

func fillDefaults(cfg *Config) {
	d := Default()
	if cfg.DataDir == "" {
		cfg.DataDir = d.DataDir
	}
	if cfg.SurpriseThreshold == 0 {
		cfg.SurpriseThreshold = d.SurpriseThreshold
	}
	if cfg.Consolidation.SimilarityThreshold == 0 {
		cfg.Consolidation = d.Consolidation
	}
	if cfg.Importance.RecencyWeight == 0 {
		cfg.Importance = d.Importance
	}
	if cfg.ContextWindow.MaxSize == 0 {
		cfg.ContextWindow = d.ContextWindow
	}
	if cfg.NoopLog.MaxEntries == 0 {
		cfg.NoopLog = d.NoopLog
	}
	if cfg.A2A.Port == 0 {
		cfg.A2A = d.A2A
	}
}
