package core

import (
	"fmt"
)

// Grid holds the authoritative row set of an import. Writes are visible to
// the next read. Grid does not validate and is not safe for concurrent use;
// Session serializes access to it.
type Grid struct {
	fileName string
	headers  []string
	rows     []Row
}

// NewGrid creates a grid over rows. Row i must carry Index i.
func NewGrid(fileName string, headers []string, rows []Row) *Grid {
	g := &Grid{}
	g.Replace(fileName, headers, rows)
	return g
}

// Replace swaps in a whole new row set. Sessions call it only when a
// parsed file is loaded; review edits go through Set and Apply.
func (g *Grid) Replace(fileName string, headers []string, rows []Row) {
	g.fileName = fileName
	g.headers = append([]string(nil), headers...)
	g.rows = make([]Row, len(rows))
	for i, r := range rows {
		g.rows[i] = r.clone()
	}
}

func (g *Grid) FileName() string { return g.fileName }

func (g *Grid) Headers() []string { return append([]string(nil), g.headers...) }

func (g *Grid) Len() int { return len(g.rows) }

// Row returns a copy of row i.
func (g *Grid) Row(i int) (Row, bool) {
	if i < 0 || i >= len(g.rows) {
		return Row{}, false
	}
	return g.rows[i].clone(), true
}

// Rows returns a copy of every row in index order.
func (g *Grid) Rows() []Row {
	out := make([]Row, len(g.rows))
	for i, r := range g.rows {
		out[i] = r.clone()
	}
	return out
}

// Set writes one cell.
func (g *Grid) Set(row int, field, value string) error {
	return g.Apply([]CellEdit{{Row: row, Field: field, Value: value}})
}

// Apply writes edits in order. All edits are checked before any is written,
// so a bad edit leaves the grid unchanged.
func (g *Grid) Apply(edits []CellEdit) error {
	for _, e := range edits {
		if e.Row < 0 || e.Row >= len(g.rows) {
			return fmt.Errorf("%w: %d", ErrRowOutOfRange, e.Row)
		}
		if _, ok := g.rows[e.Row].Get(e.Field); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownField, e.Field)
		}
	}
	for _, e := range edits {
		g.rows[e.Row].set(e.Field, e.Value)
	}
	return nil
}

// ValidRows returns copies of the rows with no entry in idx.
func (g *Grid) ValidRows(idx ErrorIndex) []Row {
	var out []Row
	for _, r := range g.rows {
		if !idx.HasErrors(r.Index) {
			out = append(out, r.clone())
		}
	}
	return out
}
