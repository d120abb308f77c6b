package exec

import (
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-query/pkg/ast"
	"github.com/dd0wney/cluso-query/pkg/config"
)

func TestPrettyPrint(t *testing.T) {
	color.NoColor = true
	db := newTestDB(t)
	p := plan(t, db, &ast.Select{
		Target: ast.Target{Kind: ast.TargetSubQuery, Query: &ast.Select{Target: classTarget("Person")}},
		Limit:  ast.Lit(3),
	})

	out := PrettyPrint(p, 0, 2, false)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "+ SubQueryStep FETCH FROM SUBQUERY", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "  + FetchFromClassStep"), lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "+ LimitStep"), lines[2])
}

func TestExplainProfiling(t *testing.T) {
	db := newTestDB(t)
	seedPeople(t, db)
	p := plan(t, db, &ast.Select{Target: classTarget("Person"), Where: ast.Cmp(ast.Prop("age"), ast.OpGt, ast.Lit(26))})

	cfg := config.Default()
	cfg.Profiling = true
	drain(t, NewContext(db, WithConfig(cfg)), p)

	rows := Explain(p, true)
	require.Len(t, rows, 2)
	assert.Equal(t, []any{"FetchFromClassStep", "FilterStep"}, column(rows, ExplainStep))
	assert.EqualValues(t, 0, rows[0].Property(ExplainDepth))
	assert.EqualValues(t, 4, rows[0].Property(ExplainRows))
	assert.EqualValues(t, 3, rows[1].Property(ExplainRows))
	assert.Contains(t, PrettyPrint(p, 0, 2, true), "3 rows")

	plain := Explain(p, false)
	assert.False(t, plain[0].Has(ExplainCost))
}
