package vmheap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigWatcherAppliesValidChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vmheap.json")
	if err := DefaultConfig().SaveConfig(path); err != nil {
		t.Fatal(err)
	}

	applied := make(chan Config, 16)
	cw, err := NewConfigWatcher(path, func(c Config) { applied <- c }, nil)
	if err != nil {
		t.Skipf("file watching unavailable: %v", err)
	}
	defer cw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cw.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Unrelated files in the same directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	// An invalid file keeps the previous policy.
	if err := os.WriteFile(path, []byte(`{"config_version": "9.0.0"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.AllowShrink = true
	if err := cfg.SaveConfig(path); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-applied:
			if got.ConfigVersion != ConfigVersion {
				t.Fatalf("invalid config applied: %+v", got)
			}
			if got.AllowShrink {
				return
			}
		case <-deadline:
			t.Fatal("config change was not applied")
		}
	}
}

func TestConfigWatcherDrivesManagerPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vmheap.json")
	if err := DefaultConfig().SaveConfig(path); err != nil {
		t.Fatal(err)
	}
	m, _, _ := newTestManager(t, NewSimulatedPlatform(4096), nil)

	cw, err := NewConfigWatcher(path, m.ApplyPolicy, nil)
	if err != nil {
		t.Skipf("file watching unavailable: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cw.Run(ctx) }()

	cfg := DefaultConfig()
	cfg.ShowAllocations = true
	if err := cfg.SaveConfig(path); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for !m.Snapshot().ShowAllocations {
		if time.Now().After(deadline) {
			t.Fatal("show_allocations was not picked up")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := cw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	cancel()
}

func TestConfigWatcherKeepsPolicyWhenFileMovedAway(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vmheap.json")
	cfg := DefaultConfig()
	cfg.AllowShrink = true
	if err := cfg.SaveConfig(path); err != nil {
		t.Fatal(err)
	}
	m, _, _ := newTestManager(t, NewSimulatedPlatform(4096), func(c *Config) { c.AllowShrink = true })

	applied := make(chan Config, 16)
	cw, err := NewConfigWatcher(path, func(c Config) {
		applied <- c
		m.ApplyPolicy(c)
	}, nil)
	if err != nil {
		t.Skipf("file watching unavailable: %v", err)
	}
	defer cw.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cw.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	if err := os.Rename(path, path+"~"); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-applied:
		t.Fatalf("config applied after the file was moved away: %+v", got)
	case <-time.After(300 * time.Millisecond):
	}
	if !m.AllowShrink() {
		t.Fatal("allow_shrink reverted to the default")
	}

	// The replacement file is picked up when it appears.
	cfg.ShowAllocations = true
	if err := cfg.SaveConfig(path); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-applied:
			if !got.AllowShrink {
				t.Fatalf("defaults applied: %+v", got)
			}
			if got.ShowAllocations {
				if !m.AllowShrink() || !m.Snapshot().ShowAllocations {
					t.Fatalf("policy not applied: %+v", m.Snapshot())
				}
				return
			}
		case <-deadline:
			t.Fatal("replacement config was not applied")
		}
	}
}
