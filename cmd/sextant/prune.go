package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"mercator-hq/sextant/pkg/cli"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove expired quota counters and cache entries now",
	Long: `Run one retention cycle immediately, the same work the server does on
retention.prune_schedule. Useful with the sqlite backends when the server is
not running.`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Print current quota usage",
	Long: `Print the current window count and hard limit of every quota. With the
memory counter backend this only reflects the current process, so it is
meaningful with limits.storage.backend: sqlite.`,
	Args: cobra.NoArgs,
	RunE: runQuota,
}

func init() {
	rootCmd.AddCommand(pruneCmd, quotaCmd)
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := setupLogging(cfg, os.Stderr)
	if err != nil {
		return err
	}

	a, err := newStores(cfg, logger)
	if err != nil {
		return cli.NewCommandError("prune", err)
	}
	defer a.Close()

	removed, err := a.pruner.Prune(cmd.Context())
	out := cmd.OutOrStdout()
	for _, name := range sortedKeys(removed) {
		fmt.Fprintf(out, "%-16s %d removed\n", name, removed[name])
	}
	if err != nil {
		return cli.NewCommandError("prune", err)
	}
	return nil
}

func runQuota(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := setupLogging(cfg, os.Stderr)
	if err != nil {
		return err
	}

	a, err := newStores(cfg, logger)
	if err != nil {
		return cli.NewCommandError("quota", err)
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	for _, s := range a.limiter.Status(cmd.Context()) {
		pct := 0.0
		if s.Limit > 0 {
			pct = float64(s.Count) / float64(s.Limit) * 100
		}
		fmt.Fprintf(out, "%-30s %10d / %-10d %5.1f%%  resets %s\n",
			s.Resource, s.Count, s.Limit, pct, s.ResetAt.Format("15:04:05 MST"))
	}
	return nil
}

// sortedKeys returns the keys of m in order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
