package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vecsync/vecsync/internal/progress"
	"github.com/vecsync/vecsync/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync of the source tree into the vector index",
	Long: `Runs an incremental sync against the configured source tree. The first
run (or --full) walks the whole tree; later runs consume the change feed
and re-embed only content whose hash actually changed.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().Bool("full", false, "force a full sync instead of an incremental one")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	full, _ := cmd.Flags().GetBool("full")

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	engine, err := buildEngine(a)
	if err != nil {
		return err
	}

	reporter := progress.NewReporter()
	started := false
	engine.SetProgress(func(done, total int, path string) {
		if !started {
			reporter.Start(total)
			started = true
		}
		reporter.Update(done, path)
	})

	res, err := engine.Run(context.Background(), full)
	if started {
		reporter.Finish()
	}
	if err != nil {
		if errors.Is(err, syncer.ErrLocked) {
			return fmt.Errorf("another sync run is already in progress")
		}
		return err
	}

	mode := "incremental"
	if res.Full {
		mode = "full"
	}
	fmt.Printf("%s sync completed in %s\n", mode, res.Duration.Round(10*time.Millisecond))
	fmt.Printf("  files processed:  %d\n", res.FilesProcessed)
	fmt.Printf("  vectors upserted: %d\n", res.VectorsUpserted)
	fmt.Printf("  vectors deleted:  %d\n", res.VectorsDeleted)
	fmt.Printf("  estimated cost:   $%.4f (%d tokens)\n", res.Cost.EstimatedUSD, res.Cost.Tokens)
	if len(res.Errors) > 0 {
		fmt.Printf("  errors (%d):\n    %s\n", len(res.Errors), strings.Join(res.Errors, "\n    "))
	}
	return nil
}
