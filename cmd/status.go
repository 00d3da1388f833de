package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync state, vector store stats, and recent runs",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().Int("history", 5, "number of recent runs to show")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	st, err := a.state.GetState(ctx)
	if err != nil {
		return err
	}
	locked, err := a.state.IsLocked(ctx)
	if err != nil {
		return err
	}

	fmt.Println("Sync state")
	fmt.Printf("  last sync:       %s\n", strOrNever(st.LastSyncTime))
	fmt.Printf("  files processed: %d\n", st.FilesProcessed)
	fmt.Printf("  errors:          %d\n", st.ErrorCount)
	fmt.Printf("  has cursor:      %t\n", st.Cursor != nil && *st.Cursor != "")
	fmt.Printf("  run in progress: %t\n", locked)
	if st.LastSyncDurationMs != nil {
		fmt.Printf("  last duration:   %dms\n", *st.LastSyncDurationMs)
	}

	if info, err := a.store.Describe(ctx); err == nil {
		fmt.Println("Vector store")
		fmt.Printf("  collection: %s\n", info.Name)
		fmt.Printf("  vectors:    %d\n", info.Count)
		fmt.Printf("  status:     %s\n", info.Status)
	} else {
		fmt.Printf("Vector store unavailable: %v\n", err)
	}

	limit, _ := cmd.Flags().GetInt("history")
	entries, err := a.state.GetSyncHistory(ctx, limit)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		fmt.Printf("Recent runs (%d)\n", len(entries))
		for _, e := range entries {
			fmt.Printf("  %s  files=%d upserted=%d deleted=%d errors=%d %dms\n",
				e.Timestamp, e.FilesProcessed, e.VectorsUpserted, e.VectorsDeleted, len(e.Errors), e.DurationMs)
		}
	}
	return nil
}

func strOrNever(s *string) string {
	if s == nil || *s == "" {
		return "never"
	}
	return *s
}
