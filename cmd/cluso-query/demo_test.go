package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-query/pkg/config"
	"github.com/dd0wney/cluso-query/pkg/logging"
	"github.com/dd0wney/cluso-query/pkg/metrics"
)

func newDemo(t *testing.T) *demoGraph {
	t.Helper()
	g, err := loadDemo(config.Default(), logging.NewNopLogger(), metrics.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.close() })
	return g
}

func TestSamples(t *testing.T) {
	tests := []struct {
		name string
		rows int
	}{
		{"adults", 3},
		{"lookup", 1},
		{"friends", 5},
		{"neighbours", 5},
		{"reach", 5},
		{"homeless", 1},
	}
	g := newDemo(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selected, err := pick([]string{tt.name})
			require.NoError(t, err)
			rows, err := g.engine.Execute(context.Background(), selected[0].stmt, nil)
			require.NoError(t, err)
			assert.Len(t, rows, tt.rows)
		})
	}
}

func TestHomelessIsDee(t *testing.T) {
	g := newDemo(t)
	selected, err := pick([]string{"homeless"})
	require.NoError(t, err)
	rows, err := g.engine.Execute(context.Background(), selected[0].stmt, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "dee", rows[0].Property("name"))
}

func TestPickUnknown(t *testing.T) {
	_, err := pick([]string{"nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "friends")
}

func TestRunDemoAndExplain(t *testing.T) {
	g := newDemo(t)
	all, err := pick(nil)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, runDemo(context.Background(), &out, g, all, true))
	assert.Contains(t, out.String(), "cluso-query demo")
	assert.Contains(t, out.String(), "homeless")
	assert.Contains(t, out.String(), "MatchFirstStep")

	out.Reset()
	require.NoError(t, runExplain(&out, g, all[1:2]))
	assert.Contains(t, out.String(), "FetchFromIndexStep")
}

func TestRootCommands(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"version", []string{"version"}, "cluso-query v"},
		{"config", []string{"config"}, "prefetch_threshold: 100"},
		{"demo", []string{"demo", "friends"}, "friend"},
		{"explain", []string{"explain", "reach"}, "MatchStep"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CLUSO_CONFIG", "")
			t.Setenv("LOG_LEVEL", "error")
			cmd := newRootCommand()
			var out bytes.Buffer
			cmd.SetOut(&out)
			cmd.SetArgs(append(tt.args, "--log-level", "error"))
			require.NoError(t, cmd.Execute())
			assert.Contains(t, out.String(), tt.want)
		})
	}
}
