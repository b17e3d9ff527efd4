package objectives

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/NightHydra/PokemonBattleBingoWebsite/internal/game"
)

var ErrEmptyCatalog = errors.New("objective catalog is empty")

// Load reads the objective catalog: a JSON array of {name, description}.
// Names must be unique; boards are sampled without replacement and cells are
// looked up by name.
func Load(path string) ([]game.Objective, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read objective catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) ([]game.Objective, error) {
	var pool []game.Objective
	if err := json.Unmarshal(data, &pool); err != nil {
		return nil, fmt.Errorf("parse objective catalog: %w", err)
	}
	if len(pool) == 0 {
		return nil, ErrEmptyCatalog
	}
	seen := make(map[string]struct{}, len(pool))
	for i, o := range pool {
		if o.Name == "" {
			return nil, fmt.Errorf("objective %d has no name", i)
		}
		if _, dup := seen[o.Name]; dup {
			return nil, fmt.Errorf("duplicate objective name %q", o.Name)
		}
		seen[o.Name] = struct{}{}
	}
	return pool, nil
}
