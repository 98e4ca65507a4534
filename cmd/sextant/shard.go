package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"mercator-hq/sextant/pkg/cli"
	"mercator-hq/sextant/pkg/config"
	"mercator-hq/sextant/pkg/retrieval/shard"
)

var shardFlags struct {
	id       string
	replicas bool
}

var shardCmd = &cobra.Command{
	Use:   "shard",
	Short: "Manage shard text stores",
}

var shardLoadCmd = &cobra.Command{
	Use:   "load FILE...",
	Short: "Load JSONL chunk files into a shard",
	Long: `Load JSONL files into the text store of a configured shard. Each line is
{"document_id": "...", "text": "...", "metadata": {...}}. Chunks keep file
order within a document and receive the next free global chunk index. A
document that already exists is replaced and its ingest generation bumped,
so index points embedded from the old text are reported as stale.

Examples:
  sextant shard load --shard ca-on statutes.jsonl regulations.jsonl
  sextant shard load --shard ca-on --replicas statutes.jsonl`,
	Args: cobra.MinimumNArgs(1),
	RunE: runShardLoad,
}

var shardStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print chunk counts per shard store",
	Args:  cobra.NoArgs,
	RunE:  runShardStats,
}

func init() {
	rootCmd.AddCommand(shardCmd)
	shardCmd.AddCommand(shardLoadCmd, shardStatsCmd)

	shardLoadCmd.Flags().StringVarP(&shardFlags.id, "shard", "s", "", "shard id from retrieval.shards (required)")
	shardLoadCmd.Flags().BoolVar(&shardFlags.replicas, "replicas", false, "also load every replica of the shard")
	_ = shardLoadCmd.MarkFlagRequired("shard")
}

func runShardLoad(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := setupLogging(cfg, os.Stderr)
	if err != nil {
		return err
	}

	sc, ok := findShard(cfg.Retrieval.Shards, shardFlags.id)
	if !ok {
		return cli.NewConfigError("retrieval.shards", fmt.Sprintf("no shard with id %q", shardFlags.id))
	}
	paths := []string{sc.Path}
	if shardFlags.replicas {
		paths = append(paths, sc.Replicas...)
	}

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	out := cmd.OutOrStdout()
	for _, path := range paths {
		store, err := shard.Open(shard.StoreConfig{ShardID: sc.ID, Path: path, Logger: logger})
		if err != nil {
			return cli.NewCommandError("shard load", err)
		}
		total, err := loadFiles(ctx, store, args, cli.NewProgress(cmd.ErrOrStderr(), filepath.Base(path)))
		store.Close()
		if err != nil {
			return cli.NewCommandError("shard load", err)
		}
		fmt.Fprintf(out, "✓ %s: %d documents, %d chunks, %d replaced chunks\n",
			path, total.Documents, total.Chunks, total.Replaced)
	}
	return nil
}

func loadFiles(ctx context.Context, store *shard.Store, files []string, progress *cli.Progress) (shard.LoadStats, error) {
	var total shard.LoadStats
	progress.Start(len(files))
	for _, name := range files {
		stats, err := loadFile(ctx, store, name)
		if err != nil {
			progress.Error(err)
			return total, fmt.Errorf("%s: %w", name, err)
		}
		total.Documents += stats.Documents
		total.Chunks += stats.Chunks
		total.Replaced += stats.Replaced
		progress.Advance(fmt.Sprintf("%s: %d chunks", filepath.Base(name), stats.Chunks))
	}
	progress.Finish()
	return total, nil
}

func loadFile(ctx context.Context, store *shard.Store, name string) (*shard.LoadStats, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return shard.Load(ctx, f, store)
}

func runShardStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := setupLogging(cfg, os.Stderr)
	if err != nil {
		return err
	}

	set, err := shard.OpenSet(cfg.Retrieval.Shards, logger)
	if err != nil {
		return cli.NewCommandError("shard stats", err)
	}
	defer set.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	for _, id := range set.IDs() {
		sh, _ := set.Get(id)
		stores := append([]*shard.Store{sh.Primary}, sh.Replicas...)
		for i, s := range stores {
			role := "primary"
			if i > 0 {
				role = fmt.Sprintf("replica %d", i)
			}
			count, err := s.Count(ctx)
			if err != nil {
				return cli.NewCommandError("shard stats", err)
			}
			maxIdx, err := s.MaxGlobalIndex(ctx)
			if err != nil {
				return cli.NewCommandError("shard stats", err)
			}
			fmt.Fprintf(out, "%-12s %-10s %8d chunks  max index %d  %s\n", id, role, count, maxIdx, s.Path())
		}
	}
	return nil
}

func findShard(shards []config.ShardConfig, id string) (config.ShardConfig, bool) {
	for _, s := range shards {
		if s.ID == id {
			return s, true
		}
	}
	return config.ShardConfig{}, false
}
