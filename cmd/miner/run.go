package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/profile"
	"github.com/spf13/cobra"

	"miner-go/internal/miner"
)

// startProfile starts the named profile in a fresh temp directory.
func startProfile(kind string) (stop func(), err error) {
	var mode func(*profile.Profile)
	switch kind {
	case "cpu":
		mode = profile.CPUProfile
	case "mem":
		mode = profile.MemProfile
	case "trace":
		mode = profile.TraceProfile
	case "block":
		mode = profile.BlockProfile
	case "mutex":
		mode = profile.MutexProfile
	default:
		return nil, fmt.Errorf("unexpected profile: %s", kind)
	}

	dir, err := os.MkdirTemp("", "miner-profile")
	if err != nil {
		return nil, fmt.Errorf("creating profile directory: %w", err)
	}
	p := profile.Start(mode, profile.ProfilePath(dir), profile.Quiet)
	return func() {
		p.Stop()
		fmt.Printf("profile written to %s\n", dir)
	}, nil
}

var runCmd = &cobra.Command{
	Use:   "run FEED",
	Short: "Mine every project listed in a CSV feed",
	Long: `Mine every project listed in a CSV feed.

Each feed record is "url" or "url,id". Records without an id get the next free
project id. Failed projects are written to stats/failed-<run>.csv, which can be
passed to a later run to retry them with their original ids.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		workers, _ := cmd.Flags().GetInt("workers")

		if kind, _ := cmd.Flags().GetString("profile"); kind != "" {
			stop, err := startProfile(kind)
			if err != nil {
				return err
			}
			defer stop()
		}

		a, err := newApp("Run")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		feed, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving feed path: %w", err)
		}

		summary, err := a.RunFeed(ctx, feed, workers)
		if summary != nil {
			printSummary(summary)
		}
		if err != nil {
			return fmt.Errorf("run failed: %w", err)
		}
		return nil
	},
}

func printSummary(s *miner.Summary) {
	titleColor := color.New(color.FgHiCyan, color.Bold)
	successColor := color.New(color.FgHiGreen)
	failColor := color.New(color.FgHiRed)
	dimColor := color.New(color.FgHiBlack)

	fmt.Println()
	titleColor.Printf("Run #%d finished in %s\n", s.RunID, s.Elapsed.Truncate(time.Millisecond))
	successColor.Printf("  %d of %d projects mined\n", s.Completed, s.Scheduled)
	fmt.Printf("  %d distinct contents known\n", s.Contents)
	if s.Invalid > 0 {
		dimColor.Printf("  %d invalid feed records skipped\n", s.Invalid)
	}
	if s.Dropped > 0 {
		dimColor.Printf("  %d projects not started (interrupted)\n", s.Dropped)
	}
	if len(s.Failures) > 0 {
		failColor.Printf("  %d projects failed:\n", len(s.Failures))
		for _, f := range s.Failures {
			fmt.Printf("    %s: %s\n", f.URL, f.Reason)
		}
	}
}
