package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/arenabridge/agent/internal/shared/types"
)

// Seeds carries data-shaped defaults the agent falls back to when the live
// page yields nothing: per-step action tokens and a minimal model registry.
type Seeds struct {
	// Actions maps an upload step name ("sign", "notify") to a default
	// action token accepted by the target service.
	Actions map[string]string `yaml:"actions"`

	// Models is the fallback capability registry used when extraction from
	// page content finds no entries.
	Models []SeedModel `yaml:"models"`
}

// SeedModel is the YAML shape of one fallback registry entry.
type SeedModel struct {
	ID           string `yaml:"id"`
	PublicName   string `yaml:"publicName"`
	Type         string `yaml:"type"`
	Organization string `yaml:"organization"`
}

// Registry converts the seed entries into a capability registry.
func (s *Seeds) Registry() types.Registry {
	if len(s.Models) == 0 {
		return nil
	}
	reg := make(types.Registry, len(s.Models))
	for _, m := range s.Models {
		typ := m.Type
		if typ == "" {
			typ = "chat"
		}
		reg[m.PublicName] = types.Model{
			ID:           m.ID,
			PublicName:   m.PublicName,
			Type:         typ,
			Organization: m.Organization,
		}
	}
	return reg
}

// LoadSeeds reads the YAML seed file. A missing path yields empty seeds, not
// an error: the file is optional.
func LoadSeeds(path string) (*Seeds, error) {
	if path == "" {
		return &Seeds{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Seeds{}, nil
		}
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seeds Seeds
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &seeds, nil
}
