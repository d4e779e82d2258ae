package vmheap

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/Masterminds/semver/v3"
)

// Config file format versions this build understands.
const (
	ConfigVersion          = "1.0.0"
	ConfigVersionSupported = ">= 1.0.0, < 2.0.0"
)

// DefaultMaxVirtualMemory is the first reservation size attempted when the
// configuration does not name one.
const DefaultMaxVirtualMemory = 512 << 20

// Config holds the heap settings of a runtime. allow_shrink and
// show_allocations are re-read by ConfigWatcher while the runtime runs; the
// rest only take effect at startup.
type Config struct {
	ConfigVersion          string `json:"config_version"`
	MaxVirtualMemory       uint64 `json:"max_virtual_memory"`
	MinHeapBytes           uint64 `json:"min_heap_bytes"`
	DesiredHeapBytes       uint64 `json:"desired_heap_bytes"`
	AllowShrink            bool   `json:"allow_shrink"`
	ShowAllocations        bool   `json:"show_allocations"`
	GrowRounding           string `json:"grow_rounding"`
	FatalProtectionFailure bool   `json:"fatal_protection_failure"`
	EventHistory           int    `json:"event_history"`
	DebugAddr              string `json:"debug_addr,omitempty"`
	HTTP3Addr              string `json:"http3_addr,omitempty"`
}

// DefaultConfig returns the settings used when no file is present.
// Shrinking starts disabled: external code may still hold raw pointers into
// committed pages.
func DefaultConfig() Config {
	return Config{
		ConfigVersion:          ConfigVersion,
		MaxVirtualMemory:       DefaultMaxVirtualMemory,
		MinHeapBytes:           16 << 20,
		DesiredHeapBytes:       64 << 20,
		AllowShrink:            false,
		GrowRounding:           RoundingExact.String(),
		FatalProtectionFailure: true,
		EventHistory:           64,
	}
}

// LoadConfig reads a JSON config file on top of DefaultConfig. A missing
// file yields the defaults.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	cfg, err := readConfig(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return cfg, err
}

// readConfig is LoadConfig without the fallback for a missing file.
func readConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the configuration as indented JSON.
func (c Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the version and the size relationships.
func (c Config) Validate() error {
	v, err := semver.NewVersion(c.ConfigVersion)
	if err != nil {
		return fmt.Errorf("config_version %q: %w", c.ConfigVersion, err)
	}
	supported, err := semver.NewConstraint(ConfigVersionSupported)
	if err != nil {
		return err
	}
	if !supported.Check(v) {
		return fmt.Errorf("config_version %s is not supported (want %s)", v, ConfigVersionSupported)
	}

	if _, err := ParseRounding(c.GrowRounding); err != nil {
		return err
	}
	if c.MaxVirtualMemory == 0 {
		return fmt.Errorf("max_virtual_memory must be positive")
	}
	if c.DesiredHeapBytes > c.MaxVirtualMemory {
		return fmt.Errorf("desired_heap_bytes %d exceeds max_virtual_memory %d", c.DesiredHeapBytes, c.MaxVirtualMemory)
	}
	if c.MinHeapBytes > c.MaxVirtualMemory {
		return fmt.Errorf("min_heap_bytes %d exceeds max_virtual_memory %d", c.MinHeapBytes, c.MaxVirtualMemory)
	}
	if c.EventHistory < 0 {
		return fmt.Errorf("event_history must not be negative")
	}
	return nil
}

// Rounding returns the parsed grow_rounding value.
func (c Config) Rounding() Rounding {
	r, _ := ParseRounding(c.GrowRounding)
	return r
}
