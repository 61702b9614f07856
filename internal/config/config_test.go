package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	env := filepath.Join(t.TempDir(), "test.env")
	data := "HYPERPAD_ADDR=0.0.0.0:9000\nHYPERPAD_STORE=bolt\nHYPERPAD_SAVE_INTERVAL=5s\nHYPERPAD_DEBUG=true\n"
	if err := os.WriteFile(env, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	// the environment wins over the file
	t.Setenv("HYPERPAD_STORE", "postgres")
	t.Setenv("HYPERPAD_ADDR", "")
	os.Unsetenv("HYPERPAD_ADDR")
	t.Setenv("HYPERPAD_SAVE_INTERVAL", "")
	os.Unsetenv("HYPERPAD_SAVE_INTERVAL")
	t.Setenv("HYPERPAD_DEBUG", "")
	os.Unsetenv("HYPERPAD_DEBUG")

	cfg, err := Load(env)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Addr != "0.0.0.0:9000" {
		t.Errorf("addr is %q", cfg.Addr)
	}
	if cfg.Store.Kind != "postgres" {
		t.Errorf("store is %q", cfg.Store.Kind)
	}
	if cfg.SaveInterval != 5*time.Second {
		t.Errorf("save interval is %v", cfg.SaveInterval)
	}
	if cfg.CheckInterval != 20*time.Second {
		t.Errorf("check interval is %v", cfg.CheckInterval)
	}
	if !cfg.Debug {
		t.Error("debug should be on")
	}
}

func TestLoadBadDuration(t *testing.T) {
	env := filepath.Join(t.TempDir(), "empty.env")
	if err := os.WriteFile(env, nil, 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("HYPERPAD_CHECK_INTERVAL", "soon")
	if _, err := Load(env); err == nil {
		t.Error("expected an error")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("a missing file given explicitly is an error")
	}
}
