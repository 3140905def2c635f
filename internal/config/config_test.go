package config

import "testing"

func TestDefaults(t *testing.T) {
	t.Run("no environment set", func(t *testing.T) {
		cfg := Defaults()
		if cfg.Output != "mtrack.json" {
			t.Errorf("Output = %q, want mtrack.json", cfg.Output)
		}
		if cfg.LogFile != "" {
			t.Errorf("LogFile = %q, want empty", cfg.LogFile)
		}
		if cfg.Dump {
			t.Error("Dump = true, want false")
		}
		if cfg.NoBundle {
			t.Error("NoBundle = true, want false")
		}
		if cfg.Threshold != 1000 {
			t.Errorf("Threshold = %d, want 1000", cfg.Threshold)
		}
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("MTRACK_OUTPUT", "/tmp/out.json")
		t.Setenv("MTRACK_LOG_FILE", "/tmp/mtrack.log")
		t.Setenv("MTRACK_DUMP", "1")
		t.Setenv("MTRACK_NO_BUNDLE", "1")
		t.Setenv("MTRACK_THRESHOLD", "50")

		cfg := Defaults()
		if cfg.Output != "/tmp/out.json" {
			t.Errorf("Output = %q, want /tmp/out.json", cfg.Output)
		}
		if cfg.LogFile != "/tmp/mtrack.log" {
			t.Errorf("LogFile = %q, want /tmp/mtrack.log", cfg.LogFile)
		}
		if !cfg.Dump {
			t.Error("Dump = false, want true")
		}
		if !cfg.NoBundle {
			t.Error("NoBundle = false, want true")
		}
		if cfg.Threshold != 50 {
			t.Errorf("Threshold = %d, want 50", cfg.Threshold)
		}
	})

	t.Run("presence is what matters for bool vars, not value", func(t *testing.T) {
		t.Setenv("MTRACK_DUMP", "")
		cfg := Defaults()
		if !cfg.Dump {
			t.Error("Dump = false, want true: an empty-but-set env var still counts as present")
		}
	})

	t.Run("malformed threshold falls back to default", func(t *testing.T) {
		t.Setenv("MTRACK_THRESHOLD", "not-a-number")
		cfg := Defaults()
		if cfg.Threshold != 1000 {
			t.Errorf("Threshold = %d, want 1000 fallback", cfg.Threshold)
		}
	})
}
