package config

import (
	"path/filepath"
	"testing"
)

func TestWriteDefaultAppRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := WriteDefaultApp(path); err != nil {
		t.Fatalf("WriteDefaultApp failed: %v", err)
	}

	cfg, err := LoadApp(path)
	if err != nil {
		t.Fatalf("LoadApp failed: %v", err)
	}
	def := DefaultApp()
	if cfg.Server.Addr != def.Server.Addr || cfg.Server.Mode != def.Server.Mode {
		t.Errorf("server config = %+v, want %+v", cfg.Server, def.Server)
	}
	if cfg.DataDir == "" {
		t.Error("data dir is empty")
	}
}
