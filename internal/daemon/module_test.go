package daemon

import (
	"os"
	"testing"

	"github.com/hashim-i222478/chatlink/internal/session"
)

func TestNewConfigWritesDefaultsOnFirstRun(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg := newConfig()
	if cfg == nil {
		t.Fatal("no config returned")
	}
	if _, err := os.Stat(session.ConfigPath()); err != nil {
		t.Errorf("default config not persisted: %v", err)
	}

	// A second load reads the file it just wrote.
	again := newConfig()
	if again.Server.WebSocketURL != cfg.Server.WebSocketURL {
		t.Errorf("reload mismatch: %q vs %q", again.Server.WebSocketURL, cfg.Server.WebSocketURL)
	}
}
