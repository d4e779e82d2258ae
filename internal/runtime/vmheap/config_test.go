package vmheap

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, path := range []string{"", filepath.Join(t.TempDir(), "missing.json")} {
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig(%q): %v", path, err)
		}
		if cfg != DefaultConfig() {
			t.Fatalf("LoadConfig(%q) = %+v", path, cfg)
		}
	}
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmheap.json")
	body := `{"config_version": "1.2.0", "allow_shrink": true, "grow_rounding": "legacy", "max_virtual_memory": 268435456}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.AllowShrink || cfg.Rounding() != RoundingLegacy || cfg.MaxVirtualMemory != 256<<20 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.MinHeapBytes != 16<<20 || !cfg.FatalProtectionFailure || cfg.EventHistory != 64 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"newer minor", func(c *Config) { c.ConfigVersion = "1.9.3" }, ""},
		{"major bump", func(c *Config) { c.ConfigVersion = "2.0.0" }, "not supported"},
		{"not semver", func(c *Config) { c.ConfigVersion = "latest" }, "config_version"},
		{"rounding", func(c *Config) { c.GrowRounding = "nearest" }, "nearest"},
		{"zero max", func(c *Config) { c.MaxVirtualMemory = 0 }, "max_virtual_memory"},
		{"desired above max", func(c *Config) { c.DesiredHeapBytes = c.MaxVirtualMemory + 1 }, "desired_heap_bytes"},
		{"min above max", func(c *Config) { c.MinHeapBytes = c.MaxVirtualMemory + 1 }, "min_heap_bytes"},
		{"negative history", func(c *Config) { c.EventHistory = -1 }, "event_history"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"syntax.json":  `{"allow_shrink": tru`,
		"version.json": `{"config_version": "3.0.0"}`,
	} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmheap.json")
	cfg := DefaultConfig()
	cfg.ShowAllocations = true
	cfg.DebugAddr = "127.0.0.1:6060"
	if err := cfg.SaveConfig(path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got != cfg {
		t.Fatalf("got %+v, want %+v", got, cfg)
	}
}

func TestReadConfigReportsMissingFile(t *testing.T) {
	if _, err := readConfig(filepath.Join(t.TempDir(), "gone.json")); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("err = %v, want fs.ErrNotExist", err)
	}
}
