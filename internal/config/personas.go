// ABOUTME: TOML persona definitions for the agents a gateway hosts
// ABOUTME: Each persona becomes a store.Agent upserted at startup

package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/2389/parley-gateway/internal/store"
)

// Persona is one [[personas]] entry in the TOML file.
type Persona struct {
	ID              string   `toml:"id"`
	Name            string   `toml:"name"`
	Slug            string   `toml:"slug"`
	Avatar          string   `toml:"avatar"`
	Interests       []string `toml:"interests"`
	CooldownSeconds int      `toml:"cooldown_seconds"`
	Primary         bool     `toml:"primary"`
	Model           string   `toml:"model"`
	SystemPrompt    string   `toml:"system_prompt"`
}

type personaFile struct {
	Personas []Persona `toml:"personas"`
}

// LoadPersonas reads the persona TOML file and returns agent records ready to
// upsert. Environment variables in ${VAR} form are expanded before decoding.
func LoadPersonas(path string) ([]store.Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading personas file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var file personaFile
	if err := toml.Unmarshal([]byte(expanded), &file); err != nil {
		return nil, fmt.Errorf("parsing personas file: %w", err)
	}

	agents := make([]store.Agent, 0, len(file.Personas))
	seen := make(map[string]bool)
	primaries := 0
	for i, p := range file.Personas {
		if p.ID == "" {
			return nil, fmt.Errorf("persona %d: id is required", i)
		}
		if p.Name == "" {
			return nil, fmt.Errorf("persona %q: name is required", p.ID)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("persona %q: duplicate id", p.ID)
		}
		seen[p.ID] = true
		if p.Primary {
			primaries++
		}
		agents = append(agents, store.Agent{
			ID:              p.ID,
			Name:            p.Name,
			Slug:            p.Slug,
			Avatar:          p.Avatar,
			Interests:       p.Interests,
			CooldownSeconds: p.CooldownSeconds,
			Primary:         p.Primary,
			Model:           p.Model,
			SystemPrompt:    p.SystemPrompt,
		})
	}

	if primaries > 1 {
		return nil, fmt.Errorf("at most one persona may be primary, got %d", primaries)
	}

	return agents, nil
}
