package domain

// BoardInfo identifies a remote board as reported by the board itself.
type BoardInfo struct {
	ID   string `json:"boardId"`
	Name string `json:"name"`
}

// Board is the persisted record for one board and every card on it.
type Board struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Cards map[string]Card `json:"cards"`
}

// NewBoard returns an empty board.
func NewBoard(id, name string) Board {
	return Board{ID: id, Name: name, Cards: make(map[string]Card)}
}

// Clone returns a deep copy so callers never alias the store's maps.
func (b Board) Clone() Board {
	out := Board{ID: b.ID, Name: b.Name, Cards: make(map[string]Card, len(b.Cards))}
	for k, c := range b.Cards {
		out.Cards[k] = c.Clone()
	}
	return out
}
