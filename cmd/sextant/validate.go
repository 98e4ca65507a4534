package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/sextant/pkg/cli"
	"mercator-hq/sextant/pkg/config"
	"mercator-hq/sextant/pkg/retention"
	"mercator-hq/sextant/pkg/workflow"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load the configuration with environment overrides, validate it, build the
step graph of every mode and print each mode's worst-case estimate.

Nothing is opened or contacted.

Examples:
  sextant validate --config config.yaml`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile == "" {
		cfg, err = config.LoadFromEnv()
	} else {
		cfg, err = config.LoadConfigWithEnvOverrides(cfgFile)
	}
	if err != nil {
		return cli.NewConfigError("", err.Error())
	}
	if err := retention.ValidateSchedule(cfg.Retention.PruneSchedule); err != nil {
		return cli.NewConfigError("retention.prune_schedule", err.Error())
	}
	graphs, err := workflow.DefaultGraphs(cfg.Modes)
	if err != nil {
		return cli.NewConfigError("modes", err.Error())
	}

	out := cmd.OutOrStdout()
	source := cfgFile
	if source == "" {
		source = "defaults and environment"
	}
	fmt.Fprintf(out, "✓ Configuration valid (%s)\n\n", source)
	fmt.Fprintln(out, "Mode estimates (worst case per query):")
	for _, mode := range workflow.Modes {
		g := graphs[mode]
		est := g.Estimate()
		fmt.Fprintf(out, "  %-8s %6d tokens  %d search  %d generation  steps: %s\n",
			mode, est.Tokens, est.SearchCalls, est.GenerationCalls, describe(g))
	}

	if cfg.Generation.APIKey == "" {
		fmt.Fprintln(cmd.ErrOrStderr(), "\nwarning: generation.api_key is empty; ask and run will fail")
	}
	return nil
}

// describe lists the graph's top-level node labels in order.
func describe(g *workflow.Graph) string {
	labels := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		labels = append(labels, n.Label())
	}
	return fmt.Sprint(labels)
}
