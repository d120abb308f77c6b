package exec

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/dd0wney/cluso-query/pkg/result"
)

// Explain columns
const (
	ExplainStep   = "step"
	ExplainDetail = "detail"
	ExplainDepth  = "depth"
	ExplainCost   = "cost"
	ExplainRows   = "rows"
)

// PrettyPrint renders the plan one step per line as "+ Name detail", with
// owned sub-plans indented below their step. When profiling is set the
// recorded cost and row count of each step are appended.
func PrettyPrint(p *Plan, depth, indent int, profiling bool) string {
	var b strings.Builder
	prettyPrint(&b, p, depth, indent, profiling)
	return b.String()
}

func prettyPrint(b *strings.Builder, p *Plan, depth, indent int, profiling bool) {
	if p == nil {
		return
	}
	pad := strings.Repeat(" ", depth*indent)
	for _, s := range p.Steps() {
		b.WriteString(pad)
		b.WriteString(color.YellowString("+ "))
		b.WriteString(color.CyanString(s.Name()))
		if d := s.Detail(); d != "" {
			b.WriteString(" ")
			b.WriteString(d)
		}
		if profiling {
			sb := s.base()
			b.WriteString(color.RedString(" (%s, %d rows)", formatCost(sb.cost), sb.rows))
		}
		b.WriteString("\n")
		for _, sub := range s.SubPlans() {
			prettyPrint(b, sub, depth+1, indent, profiling)
		}
	}
}

func formatCost(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	return d.Round(time.Microsecond).String()
}

// Explain describes the plan as rows, one per step in render order.
func Explain(p *Plan, profiling bool) []*result.Row {
	var out []*result.Row
	explainRows(&out, p, 0, profiling)
	return out
}

func explainRows(out *[]*result.Row, p *Plan, depth int, profiling bool) {
	if p == nil {
		return
	}
	for _, s := range p.Steps() {
		row := result.New()
		row.Set(ExplainStep, s.Name())
		row.Set(ExplainDetail, s.Detail())
		row.Set(ExplainDepth, depth)
		if profiling {
			sb := s.base()
			row.Set(ExplainCost, sb.cost.Microseconds())
			row.Set(ExplainRows, sb.rows)
		}
		*out = append(*out, row)
		for _, sub := range s.SubPlans() {
			explainRows(out, sub, depth+1, profiling)
		}
	}
}
