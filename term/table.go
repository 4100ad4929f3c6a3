package term

import "github.com/pterm/pterm"

// Table is a list of rows displayed below a header.
type Table struct {
	data pterm.TableData
}

func NewTable(header ...string) *Table {
	return &Table{
		data: pterm.TableData{header},
	}
}

func (t *Table) Append(row ...string) *Table {
	t.data = append(t.data, row)
	return t
}

// Len is the number of rows, header excluded.
func (t *Table) Len() int {
	return len(t.data) - 1
}

// Rows returns a copy of the rows, header excluded.
func (t *Table) Rows() [][]string {
	rows := make([][]string, 0, t.Len())
	for _, row := range t.data[1:] {
		rows = append(rows, append([]string(nil), row...))
	}
	return rows
}

// Render displays the table, unless the level only allows warnings and errors.
func (t *Table) Render() error {
	if lvl > LevelInfo {
		return nil
	}
	return pterm.DefaultTable.WithHasHeader().WithData(t.data).Render()
}
