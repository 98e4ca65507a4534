// Sextant answers research questions over a sharded document corpus and the
// web, choosing how much work to spend per question.
//
// Usage:
//
//	# Start the HTTP server
//	sextant run --config config.yaml
//
//	# Ask one question and print the answer
//	sextant ask "What is the minimum wage in Ontario?" --jurisdiction CA-ON
//
//	# Check a configuration file
//	sextant validate --config config.yaml
//
//	# Load a JSONL file into a shard
//	sextant shard load --shard ca-on docs.jsonl
package main

import (
	"os"

	"mercator-hq/sextant/pkg/cli"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
