package models

// Table is a decoded spreadsheet: a header row followed by data rows.
// Cells are string, float64, int or nil.
type Table struct {
	Headers []string `json:"headers"`
	Rows    [][]any  `json:"rows"`
}

// Sample returns at most n leading rows.
func (t *Table) Sample(n int) [][]any {
	if n >= len(t.Rows) {
		return t.Rows
	}
	return t.Rows[:n]
}
