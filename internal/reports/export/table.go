package export

// Column is one column of an exported table.
type Column struct {
	Key   string
	Label string
}

// Table is the format-independent input of every exporter. Rows are keyed
// by Column.Key; missing keys render as empty cells.
type Table struct {
	Title    string
	Subtitle string
	Columns  []Column
	Rows     []map[string]interface{}
	// Summary is rendered above the table by formats that support it.
	Summary []SummaryItem
}

// SummaryItem is a labelled value shown in a report summary.
type SummaryItem struct {
	Label string
	Value string
}

// Keys returns the column keys in order.
func (t *Table) Keys() []string {
	keys := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		keys[i] = c.Key
	}
	return keys
}

// Labels returns the column labels in order.
func (t *Table) Labels() []string {
	labels := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		labels[i] = c.Label
	}
	return labels
}
