package config

import (
	"io"
	"log/slog"
	"os"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "txgen.yaml", "rate:\n  recordsPerSecond: 100\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	w := NewWatcher(path, cfg, quietLogger())
	var gotOld, gotNew *Config
	w.OnChange(func(old, updated *Config) {
		gotOld, gotNew = old, updated
	})

	writeFile(t, dir, "txgen.yaml", "rate:\n  recordsPerSecond: 250\n")
	if err := w.Reload(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	if gotOld == nil || gotOld.Rate.RecordsPerSecond != 100 {
		t.Errorf("old rate = %v, want 100", gotOld)
	}
	if gotNew == nil || gotNew.Rate.RecordsPerSecond != 250 {
		t.Errorf("new rate = %v, want 250", gotNew)
	}
	if w.Current().Rate.RecordsPerSecond != 250 {
		t.Errorf("Current() rate = %v, want 250", w.Current().Rate.RecordsPerSecond)
	}
}

func TestWatcher_ReloadInvalidKeepsCurrent(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "txgen.yaml", "rate:\n  recordsPerSecond: 100\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	w := NewWatcher(path, cfg, quietLogger())
	called := false
	w.OnChange(func(_, _ *Config) { called = true })

	writeFile(t, dir, "txgen.yaml", "rate:\n  recordsPerSecond: -5\n")
	if err := w.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if called {
		t.Error("OnChange must not fire for an invalid file")
	}
	if w.Current() != cfg {
		t.Error("current config should be unchanged")
	}
}

func TestWatcher_WatchDetectsWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "txgen.yaml", "rate:\n  recordsPerSecond: 1\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	w := NewWatcher(path, cfg, quietLogger())
	changed := make(chan float64, 4)
	w.OnChange(func(_, updated *Config) {
		changed <- updated.Rate.RecordsPerSecond
	})

	done := make(chan struct{})
	watchErr := make(chan error, 1)
	go func() { watchErr <- w.Watch(done) }()
	defer func() {
		close(done)
		if err := <-watchErr; err != nil {
			t.Errorf("watch error: %v", err)
		}
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "unrelated.yaml", "ignored: true\n")
	if err := os.WriteFile(path, []byte("rate:\n  recordsPerSecond: 42\n"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-changed:
			if got == 42 {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for config reload")
		}
	}
}

func TestRequiresRestart(t *testing.T) {
	base := Default()

	rateOnly := Default()
	rateOnly.Rate.RecordsPerSecond = 10
	rateOnly.Observability.LogLevel = "debug"
	if RequiresRestart(base, rateOnly) {
		t.Error("rate and log level changes should not require restart")
	}

	workers := Default()
	workers.Producer.Workers = 9
	if !RequiresRestart(base, workers) {
		t.Error("worker count change should require restart")
	}
}
