// Command streamer runs the streaming k-anonymization engine against a
// quasi-identifier-bearing tuple source, or runs the offline
// disclosure-failure-rate analyzer against a published-record log.
//
// Usage:
//
//	streamer stream --params params.yaml --input sensor-feed.csv
//	streamer analyze --dataset dataset.csv --published output.jsonl --threshold "0:70,100,125"
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "streamer",
		Short: "Streaming k-anonymization engine for quasi-identifier-bearing device telemetry",
	}
	root.AddCommand(newStreamCmd())
	root.AddCommand(newAnalyzeCmd())
	return root
}
