package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nodequota/ratelimit/counter"
)

var (
	benchDuration time.Duration
	benchLimit    int64
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure local counter.Window throughput for a fixed window",
	Run: func(cmd *cobra.Command, args []string) {
		runBench()
	},
}

func init() {
	benchCmd.Flags().DurationVar(&benchDuration, "window", time.Second, "sliding window duration")
	benchCmd.Flags().Int64Var(&benchLimit, "limit", 1_000_000, "window limit, set high to measure raw throughput")
}

func runBench() {
	w := counter.New(benchLimit, benchDuration)
	start := time.Now()
	deadline := start.Add(time.Second)

	var n int64
	for time.Now().Before(deadline) {
		w.Take(time.Now(), 1)
		n++
	}

	elapsed := time.Since(start)
	fmt.Printf("took %d decisions in %s (%.0f decisions/sec)\n", n, elapsed, float64(n)/elapsed.Seconds())
}
