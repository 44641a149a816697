package output

import (
	"encoding/json"
	"io"
	"strings"
	"text/tabwriter"
)

// Tabular is implemented by values with a table layout. Wide asks for the
// extra columns.
type Tabular interface {
	Header(wide bool) []string
	Rows(wide bool) [][]string
}

// TableFormatter formats data as an aligned table.
type TableFormatter struct {
	Wide      bool
	NoHeaders bool
}

func (f *TableFormatter) Format(w io.Writer, data any) error {
	switch v := data.(type) {
	case nil:
		return nil
	case *Table:
		return v.RenderWithOptions(w, f.NoHeaders)
	case Tabular:
		t := &Table{Headers: v.Header(f.Wide), Rows: v.Rows(f.Wide)}
		return t.RenderWithOptions(w, f.NoHeaders)
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// Table represents tabular data.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Render renders the table with headers.
func (t *Table) Render(w io.Writer) error {
	return t.RenderWithOptions(w, false)
}

// RenderWithOptions renders the table. Empty cells are shown as "-".
func (t *Table) RenderWithOptions(w io.Writer, noHeaders bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if !noHeaders && len(t.Headers) > 0 {
		if _, err := io.WriteString(tw, strings.Join(t.Headers, "\t")+"\n"); err != nil {
			return err
		}
	}
	for _, row := range t.Rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			if cell == "" {
				cell = "-"
			}
			cells[i] = cell
		}
		if _, err := io.WriteString(tw, strings.Join(cells, "\t")+"\n"); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// AddRow adds a row to the table.
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}
