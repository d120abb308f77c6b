package result

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
)

// Columns returns the union of property names in first-seen order, with
// @rid first when any row is an element.
func Columns(rows []*Row) []string {
	var cols []string
	seen := map[string]bool{}
	for _, r := range rows {
		if r.IsElement() && !seen["@rid"] {
			seen["@rid"] = true
			cols = append([]string{"@rid"}, cols...)
		}
		for _, n := range r.PropertyNames() {
			if !seen[n] {
				seen[n] = true
				cols = append(cols, n)
			}
		}
	}
	return cols
}

// FormatTable writes rows as a markdown table followed by a row count.
// Without explicit columns, Columns(rows) is used.
func FormatTable(w io.Writer, rows []*Row, columns ...string) error {
	if len(columns) == 0 {
		columns = Columns(rows)
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "_No rows_")
		return err
	}

	alignment := make([]tw.Align, len(columns))
	for i := range alignment {
		alignment[i] = tw.AlignNone
	}
	table := tablewriter.NewTable(w,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithAlignment(alignment),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
	table.Header(columns)
	for _, r := range rows {
		line := make([]string, len(columns))
		for i, c := range columns {
			if c == "@rid" {
				if id, ok := r.RID(); ok {
					line[i] = id.String()
				}
				continue
			}
			line[i] = Format(r.Property(c))
		}
		table.Append(line)
	}
	table.Render()

	_, err := fmt.Fprintf(w, "\n_%d rows_\n", len(rows))
	return err
}
