// Command summarize prints per-policy statistics for a self-play archive.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/brensch/greedysnake/config"
	"github.com/brensch/greedysnake/logging"
	"github.com/brensch/greedysnake/store"
)

func main() {
	_ = config.LoadDotEnv()

	dir := flag.String("dir", config.GetEnvOrDefault("OUT_DIR", "data/selfplay"), "Archive directory to summarize")
	timeout := flag.Duration("timeout", 2*time.Minute, "Query timeout")
	logLevel := flag.String("log-level", config.GetEnvOrDefault("LOG_LEVEL", "warn"), "Log level")
	flag.Parse()

	if _, err := logging.Setup(logging.Options{Level: *logLevel, Format: logging.FormatAuto}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	summaries, err := store.Summarize(ctx, *dir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", *dir).Msg("summarize failed")
	}
	log.Debug().Dur("took", time.Since(start)).Int("policies", len(summaries)).Msg("summary query done")

	if len(summaries) == 0 {
		fmt.Printf("no published batches under %s\n", *dir)
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "POLICY\tEPISODES\tWINS\tLOSSES\tTRUNCATED\tAVG STEPS\tAVG PEAK\tMAX PEAK")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%.1f\t%.2f\t%d\n",
			s.Policy, s.Episodes, s.Wins, s.Losses, s.Truncated, s.AvgSteps, s.AvgPeakScore, s.MaxPeakScore)
	}
	_ = tw.Flush()
}
