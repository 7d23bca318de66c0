// Package storage binds the paged store, buffer pool, B-tree indexes and
// table heaps into the storage engine consumed by the planner/executor
// layers above.
package storage

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EngineConfig configures an Engine. The zero value plus DefaultConfig
// covers tests; deployments load a YAML file via LoadConfig.
type EngineConfig struct {
	// Path is the database file location. Ignored when InMemory is set.
	Path string `yaml:"path"`

	// InMemory backs the database with a memory file; nothing survives
	// Close.
	InMemory bool `yaml:"in_memory"`

	// DirectIO opens the database file with O_DIRECT.
	DirectIO bool `yaml:"direct_io"`

	// PoolPages is the buffer pool capacity in pages (0 = default).
	PoolPages int `yaml:"pool_pages"`

	// MaxKeySize bounds index key length in bytes (0 = default).
	MaxKeySize int `yaml:"max_key_size"`

	// CheckpointSpec is a cron expression for background checkpoints. The
	// engine does not read it; background checkpoints run only when a
	// Maintenance is created with NewMaintenance and started.
	CheckpointSpec string `yaml:"checkpoint_spec"`

	// FileID is the file component of page addresses (must fit 16 bits).
	FileID uint64 `yaml:"file_id"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() EngineConfig {
	return EngineConfig{
		Path:      "tinydb.db",
		PoolPages: 1024,
		FileID:    1,
	}
}

// LoadConfig reads an EngineConfig from a YAML file, applying defaults
// for unset fields.
func LoadConfig(path string) (EngineConfig, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if cfg.FileID == 0 {
		cfg.FileID = 1
	}
	return cfg, nil
}
