package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/KevoDB/tinynvs/pkg/common/log"
	"github.com/KevoDB/tinynvs/pkg/entry"
	"github.com/KevoDB/tinynvs/pkg/sector"
)

const (
	CurrentConfigVersion = 1

	DefaultSectorSize  = 4096
	DefaultSectorCount = 4
)

var (
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrConfigNotFound = errors.New("config not found")
)

type Config struct {
	Version int `json:"version"`

	// Flash geometry
	SectorSize  uint32 `json:"sector_size"`
	SectorCount uint32 `json:"sector_count"`
	BaseAddr    uint32 `json:"base_addr"`

	// Record limits
	MaxKeyLen   int `json:"max_key_len"`
	MaxValueLen int `json:"max_value_len"`

	// RAM index
	MaxKeys      int `json:"max_keys"`
	IndexBuckets int `json:"index_buckets"`

	// Wear leveling
	StaticWLThreshold uint32 `json:"static_wl_threshold"`
	StaticWLInterval  int    `json:"static_wl_interval"` // rotations between automatic checks, 0 disables

	LogLevel string `json:"log_level"`

	mu sync.RWMutex
}

// NewDefaultConfig creates a Config for four 4KB sectors at address 0
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentConfigVersion,

		SectorSize:  DefaultSectorSize,
		SectorCount: DefaultSectorCount,
		BaseAddr:    0,

		MaxKeyLen:   32,
		MaxValueLen: 1024,

		MaxKeys:      128,
		IndexBuckets: 16,

		StaticWLThreshold: 100,
		StaticWLInterval:  16,

		LogLevel: "info",
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}

	if c.SectorSize == 0 || c.SectorSize%4 != 0 {
		return fmt.Errorf("%w: sector size %d must be a positive multiple of 4", ErrInvalidConfig, c.SectorSize)
	}

	if c.SectorCount < 2 {
		return fmt.Errorf("%w: at least 2 sectors are required, got %d", ErrInvalidConfig, c.SectorCount)
	}

	if c.BaseAddr%c.SectorSize != 0 {
		return fmt.Errorf("%w: base address 0x%X is not sector aligned", ErrInvalidConfig, c.BaseAddr)
	}

	if c.MaxKeyLen <= 0 || c.MaxKeyLen > entry.MaxKeyLen {
		return fmt.Errorf("%w: max key length must be in 1..%d", ErrInvalidConfig, entry.MaxKeyLen)
	}

	if c.MaxValueLen <= 0 || c.MaxValueLen > entry.MaxDataLen {
		return fmt.Errorf("%w: max value length must be in 1..%d", ErrInvalidConfig, entry.MaxDataLen)
	}

	if need := sector.HeaderSize + entry.Size(c.MaxKeyLen, c.MaxValueLen); need > c.SectorSize {
		return fmt.Errorf("%w: largest entry needs %d bytes, sector holds %d", ErrInvalidConfig, need, c.SectorSize)
	}

	if c.MaxKeys <= 0 {
		return fmt.Errorf("%w: max keys must be positive", ErrInvalidConfig)
	}

	if c.IndexBuckets <= 0 {
		return fmt.Errorf("%w: index buckets must be positive", ErrInvalidConfig)
	}

	if c.StaticWLInterval < 0 {
		return fmt.Errorf("%w: static wear-leveling interval cannot be negative", ErrInvalidConfig)
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return nil
}

// SectorAddr returns the base address of sector i
func (c *Config) SectorAddr(i int) uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.BaseAddr + uint32(i)*c.SectorSize
}

// DeviceSize returns the number of bytes the store spans, counted from 0
func (c *Config) DeviceSize() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.BaseAddr + c.SectorSize*c.SectorCount
}

// LoadConfig reads a JSON config file and validates it
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := NewDefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveConfig writes the configuration as JSON, replacing path atomically
func (c *Config) SaveConfig(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	c.mu.RLock()
	data, err := json.MarshalIndent(c, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename config: %w", err)
	}

	return nil
}

// LoadFromEnv overrides fields from TINYNVS_* environment variables.
// Unparseable values are ignored.
func (c *Config) LoadFromEnv() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := envUint("TINYNVS_SECTOR_SIZE"); ok {
		c.SectorSize = v
	}
	if v, ok := envUint("TINYNVS_SECTOR_COUNT"); ok {
		c.SectorCount = v
	}
	if v, ok := envUint("TINYNVS_BASE_ADDR"); ok {
		c.BaseAddr = v
	}
	if v, ok := envUint("TINYNVS_STATIC_WL_THRESHOLD"); ok {
		c.StaticWLThreshold = v
	}
	if v, ok := envInt("TINYNVS_STATIC_WL_INTERVAL"); ok {
		c.StaticWLInterval = v
	}
	if v, ok := envInt("TINYNVS_MAX_KEYS"); ok {
		c.MaxKeys = v
	}
	if v := os.Getenv("TINYNVS_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func envUint(name string) (uint32, bool) {
	val := os.Getenv(name)
	if val == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(val, 0, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

func envInt(name string) (int, bool) {
	val := os.Getenv(name)
	if val == "" {
		return 0, false
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Update applies the given function to modify the configuration
func (c *Config) Update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}
