package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and drain the local queue",
}

var queueListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List the oldest queued entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, false)
		if err != nil {
			return err
		}
		defer a.close()

		entries, err := a.store.Oldest(limit)
		if err != nil {
			return fmt.Errorf("failed to list queue: %v", err)
		}
		if len(entries) == 0 {
			fmt.Println("Queue is empty")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUSER\tRECORDED\tLAT\tLON\tACC\tDELTA\tLAST ERROR")
		for _, e := range entries {
			fmt.Fprintf(w, "%d\t%s\t%s\t%.6f\t%.6f\t%.0f\t%.1f\t%s\n",
				e.ID, e.OwnerUserID, e.RecordedAt.Format(time.RFC3339),
				e.Latitude, e.Longitude, e.Accuracy, e.DistanceDeltaMeters, e.LastError)
		}
		return w.Flush()
	},
}

var queueLenCmd = &cobra.Command{
	Use:   "len",
	Short: "Print the number of queued entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, false)
		if err != nil {
			return err
		}
		defer a.close()

		n, err := a.store.Len()
		if err != nil {
			return fmt.Errorf("failed to count queue: %v", err)
		}
		fmt.Println(n)
		return nil
	},
}

var queueFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Deliver queued entries now",
	RunE: func(cmd *cobra.Command, args []string) error {
		batch, _ := cmd.Flags().GetInt("batch")

		a, err := newApp(cmd, true)
		if err != nil {
			return err
		}
		defer a.close()

		if batch <= 0 {
			batch = a.cfg.Sync.BatchSize
		}
		result := a.engine.Flush(cmd.Context(), batch)
		if !result.OK() {
			return fmt.Errorf("flush stopped: %s", result)
		}

		n, _ := a.store.Len()
		fmt.Printf("✓ Flushed %d, discarded %d, %d still queued\n", result.Flushed, result.Discarded, n)
		return nil
	},
}

func init() {
	queueListCmd.Flags().Int("limit", 25, "Maximum entries to list")
	queueFlushCmd.Flags().Int("batch", 0, "Entries to consider (default sync.batch_size)")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueLenCmd)
	queueCmd.AddCommand(queueFlushCmd)
}
