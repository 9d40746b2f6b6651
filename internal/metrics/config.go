package metrics

import (
	"gopkg.in/ini.v1"
)

// Config holds pool and engine configuration.
type Config struct {
	// Pool configuration
	PoolPath   string `ini:"pool_path"`
	PoolSizeMB int    `ini:"pool_size_mb"`
	LogSizeMB  int    `ini:"log_size_mb"`
	Backend    string `ini:"backend"` // "heap" or "file"

	// Log shard configuration
	LogShardKB int `ini:"log_shard_kb"`

	// Memtable configuration
	ArenaMB int `ini:"arena_mb"`

	// Logging configuration
	LogLevel string `ini:"log_level"`
	LogFile  string `ini:"log_file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		PoolPath:   "data/silkstore.pool",
		PoolSizeMB: 1024,
		LogSizeMB:  30,
		Backend:    "heap",
		LogShardKB: 4096,
		ArenaMB:    16,
		LogLevel:   "info",
		LogFile:    "silkstore.log",
	}
}

// LoadConfig loads configuration from an ini file, applying defaults for
// any keys the file omits. A missing file is an error; call DefaultConfig
// directly when running without one.
func LoadConfig(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := f.Section("silkstore").MapTo(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to an ini file.
func (c *Config) Save(path string) error {
	f := ini.Empty()
	if err := f.Section("silkstore").ReflectFrom(c); err != nil {
		return err
	}
	return f.SaveTo(path)
}
