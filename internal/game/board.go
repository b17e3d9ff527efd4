package game

import (
	"encoding/json"
	"errors"
	"math/rand"
	"slices"
)

var ErrInsufficientObjectives = errors.New("not enough objectives for board size")
var ErrInvalidBoardSize = errors.New("invalid board size")

const (
	MinBoardSize = 3
	MaxBoardSize = 16
)

// Objective is one candidate task from the catalog. Immutable once drawn
// onto a board.
type Objective struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Cell is an objective placed on a board. Team is empty until a team claims
// the cell through review or an admin override.
type Cell struct {
	Objective
	Team string `json:"team,omitempty"`
}

// Board keeps the cells in grid order plus a name index so the grid can be
// rendered in order while lookups by objective name stay O(1).
type Board struct {
	cells []Cell
	index map[string]int
}

func NewBoard(cells []Cell) Board {
	b := Board{cells: cells, index: make(map[string]int, len(cells))}
	for i, c := range cells {
		b.index[c.Name] = i
	}
	return b
}

// GenerateBoard draws size*size distinct objectives uniformly at random
// without replacement from the pool. The pool itself is never modified.
func GenerateBoard(size int, pool []Objective) (Board, error) {
	if size < MinBoardSize || size > MaxBoardSize {
		return Board{}, ErrInvalidBoardSize
	}
	need := size * size
	if len(pool) < need {
		return Board{}, ErrInsufficientObjectives
	}

	shuffled := make([]Objective, len(pool))
	copy(shuffled, pool)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	cells := make([]Cell, need)
	for i, obj := range shuffled[:need] {
		cells[i] = Cell{Objective: obj}
	}
	return NewBoard(cells), nil
}

func (b Board) Len() int { return len(b.cells) }

// Cell returns a pointer into the board so callers can set the owning team
// in place. The bool reports whether the objective exists on this board.
func (b Board) Cell(name string) (*Cell, bool) {
	i, ok := b.index[name]
	if !ok {
		return nil, false
	}
	return &b.cells[i], true
}

// Cells returns the grid in generation order.
func (b Board) Cells() []Cell { return b.cells }

// Clone returns a board with its own backing array, so a copy handed to
// another goroutine cannot observe later in-place cell mutations.
func (b Board) Clone() Board {
	return NewBoard(slices.Clone(b.cells))
}

func (b Board) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.cells)
}

func (b *Board) UnmarshalJSON(data []byte) error {
	var cells []Cell
	if err := json.Unmarshal(data, &cells); err != nil {
		return err
	}
	*b = NewBoard(cells)
	return nil
}
