package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dentflow/offgate/internal/store"
	"github.com/spf13/cobra"
)

var cmdQueue = &cobra.Command{
	Use:   "queue",
	Short: "List queued pending actions and offline reports",
	Long: `
The "queue" command prints everything waiting in the durable store for
replay. Queues are unbounded; this is the operator's view of their growth.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there was any error.
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQueue(cmd.Context())
	},
}

func init() {
	cmdRoot.AddCommand(cmdQueue)
}

func runQueue(ctx context.Context) error {
	cfg, err := loadServeConfig()
	if err != nil {
		return err
	}

	st := store.New(cfg.StorePath)
	defer st.Close()

	actions, err := st.PendingActions(ctx)
	if err != nil {
		return err
	}
	reports, err := st.OfflineReports(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("pending actions: %d\n", len(actions))
	for _, a := range actions {
		fmt.Printf("  %6d  %-6s %s  (queued %s)\n", a.ID, a.Method, a.URL, age(a.CreatedAt))
	}

	fmt.Printf("offline reports: %d\n", len(reports))
	for _, r := range reports {
		fmt.Printf("  %6d  %d bytes  (queued %s)\n", r.ID, len(r.Data), age(r.CreatedAt))
	}
	return nil
}

func age(t time.Time) string {
	return time.Since(t).Round(time.Second).String()
}
