package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/sextant/pkg/cli"
	"mercator-hq/sextant/pkg/router"
)

var askFlags struct {
	mode         string
	jurisdiction string
	output       string
}

var askCmd = &cobra.Command{
	Use:   "ask QUESTION...",
	Short: "Answer one question and exit",
	Long: `Route one question through the same cache, admission control and step
graphs as the server, then print the answer. Logs go to stderr.

Exit codes: 3 when the quota denies the question, 4 when no answer could be
produced, 2 for configuration errors.

Examples:
  sextant ask "What is the minimum wage in Ontario?" --jurisdiction CA-ON
  sextant ask --mode deep "Compare notice periods in Ontario and Quebec"
  sextant ask --output json "What changed in the 2024 budget?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().StringVarP(&askFlags.mode, "mode", "m", "", "auto, medium, deep or workflow (classified when empty)")
	askCmd.Flags().StringVarP(&askFlags.jurisdiction, "jurisdiction", "j", "", "restrict retrieval to one jurisdiction")
	askCmd.Flags().StringVarP(&askFlags.output, "output", "o", "text", "output format: text, json")
}

func runAsk(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(askFlags.output)
	if err != nil {
		return err
	}
	q, err := router.NewQuery(strings.Join(args, " "), askFlags.mode, askFlags.jurisdiction, nil)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := setupLogging(cfg, os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return cli.NewCommandError("ask", err)
	}
	defer a.Close()

	resp, err := a.router.Route(ctx, q)
	if err != nil {
		return cli.NewCommandError("ask", err)
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), resp)
}
