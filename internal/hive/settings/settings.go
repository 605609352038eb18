// Package settings loads the service tuning knobs from settings.yaml.
// Values are plain data passed into components at construction; nothing in
// the repo reads ambient process state for these.
package settings

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Settings struct {
	IdempotencyTTLSeconds int `yaml:"idempotency_ttl_seconds"`
	MoveTicketTTLSeconds  int `yaml:"move_ticket_ttl_seconds"`
	SwitchCooldownSeconds int `yaml:"switch_cooldown_seconds"`
	LogoutGraceSeconds    int `yaml:"logout_grace_seconds"`

	// StrictOwnership gates every mutation on owned_by_server. Turning it
	// off is a global policy switch for non-production rigs, never a
	// per-request override.
	StrictOwnership *bool `yaml:"strict_ownership"`
}

func Defaults() Settings {
	strict := true
	return Settings{
		IdempotencyTTLSeconds: 600,
		MoveTicketTTLSeconds:  90,
		SwitchCooldownSeconds: 180,
		LogoutGraceSeconds:    30,
		StrictOwnership:       &strict,
	}
}

// Load reads settings from path, filling unset fields from Defaults.
func Load(path string) (Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}
	s := Settings{}
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Settings{}, fmt.Errorf("settings.yaml: %w", err)
	}
	d := Defaults()
	if s.IdempotencyTTLSeconds <= 0 {
		s.IdempotencyTTLSeconds = d.IdempotencyTTLSeconds
	}
	if s.MoveTicketTTLSeconds <= 0 {
		s.MoveTicketTTLSeconds = d.MoveTicketTTLSeconds
	}
	if s.SwitchCooldownSeconds < 0 {
		s.SwitchCooldownSeconds = d.SwitchCooldownSeconds
	}
	if s.LogoutGraceSeconds <= 0 {
		s.LogoutGraceSeconds = d.LogoutGraceSeconds
	}
	if s.StrictOwnership == nil {
		s.StrictOwnership = d.StrictOwnership
	}
	return s, nil
}

func (s Settings) IdempotencyTTL() time.Duration {
	return time.Duration(s.IdempotencyTTLSeconds) * time.Second
}

func (s Settings) MoveTicketTTL() time.Duration {
	return time.Duration(s.MoveTicketTTLSeconds) * time.Second
}

func (s Settings) SwitchCooldown() time.Duration {
	return time.Duration(s.SwitchCooldownSeconds) * time.Second
}

func (s Settings) LogoutGrace() time.Duration {
	return time.Duration(s.LogoutGraceSeconds) * time.Second
}

func (s Settings) Strict() bool {
	return s.StrictOwnership == nil || *s.StrictOwnership
}
