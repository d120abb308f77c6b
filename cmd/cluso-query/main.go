// Command cluso-query runs the query engine against a built-in sample graph.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-query/pkg/config"
	"github.com/dd0wney/cluso-query/pkg/logging"
)

var version = "0.1.0"

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF00FF"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00FFFF")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("#00FFFF"))

	statementStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000"))
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "cluso-query",
		Short:         "Pull-based query engine for graph and document records",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", os.Getenv("CLUSO_CONFIG"), "YAML configuration file")
	root.PersistentFlags().String("log-level", "", "Log level override (debug, info, warn, error)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cluso-query v%s\n", version)
		},
	})

	demo := &cobra.Command{
		Use:   "demo [statement...]",
		Short: "Load the sample graph and run statements against it",
		Long: `Load a small social graph (people, cities, friendships) and run the
sample statements. Without arguments every sample is run; list them with
the explain command.`,
		RunE: runDemoCommand,
	}
	demo.Flags().Bool("profile", false, "Print the profiled plan of each statement")
	root.AddCommand(demo)

	root.AddCommand(&cobra.Command{
		Use:   "explain [statement...]",
		Short: "Print the plans of the sample statements",
		RunE:  runExplainCommand,
	})

	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	return root
}

// loadConfig reads the configuration named by --config, with --log-level
// applied last.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) logging.Logger {
	return logging.NewJSONLogger(os.Stderr, logging.ParseLevel(cfg.LogLevel))
}
