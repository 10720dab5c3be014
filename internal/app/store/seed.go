package store

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"trainchat/internal/app/user"
)

// Seed is the on-disk form of a directory snapshot used by the memory driver.
type Seed struct {
	Users []user.User `yaml:"users"`
}

// LoadSeed reads a YAML directory snapshot.
func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read directory seed: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes and validates a YAML directory snapshot.
func ParseSeed(data []byte) (Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("parse directory seed: %w", err)
	}

	seen := make(map[string]bool, len(seed.Users))
	for i, u := range seed.Users {
		if u.ID == "" {
			return Seed{}, fmt.Errorf("directory seed: user %d has no id", i)
		}
		if seen[u.ID] {
			return Seed{}, fmt.Errorf("directory seed: duplicate user id %q", u.ID)
		}
		if !u.Role.IsConcrete() {
			return Seed{}, fmt.Errorf("directory seed: user %q has no concrete role", u.ID)
		}
		seen[u.ID] = true
	}
	return seed, nil
}
