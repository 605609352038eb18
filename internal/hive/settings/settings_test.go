package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	d := Defaults()
	if d.IdempotencyTTL() != 600*time.Second {
		t.Fatalf("idempotency ttl = %v", d.IdempotencyTTL())
	}
	if d.MoveTicketTTL() != 90*time.Second {
		t.Fatalf("move ticket ttl = %v", d.MoveTicketTTL())
	}
	if d.SwitchCooldown() != 180*time.Second {
		t.Fatalf("cooldown = %v", d.SwitchCooldown())
	}
	if !d.Strict() {
		t.Fatalf("strict ownership must default on")
	}
}

func TestLoad_PartialFile(t *testing.T) {
	path := writeSettings(t, "move_ticket_ttl_seconds: 30\nstrict_ownership: false\n")
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.MoveTicketTTL() != 30*time.Second {
		t.Fatalf("move ticket ttl = %v", s.MoveTicketTTL())
	}
	if s.Strict() {
		t.Fatalf("strict_ownership: false must stick")
	}
	if s.IdempotencyTTLSeconds != 600 {
		t.Fatalf("unset field must fall back to default, got %d", s.IdempotencyTTLSeconds)
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestLoad_Garbage(t *testing.T) {
	path := writeSettings(t, ":\n\t-bad")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected yaml error")
	}
}
