package main

import (
	"fmt"

	"github.com/dentflow/offgate/internal/cache"
	"github.com/spf13/cobra"
)

var cmdPurge = &cobra.Command{
	Use:   "purge",
	Short: "Remove cache partitions from older versions",
	Long: `
The "purge" command deletes every cache partition whose name does not belong
to the current version token. It is the activation sweep, run standalone.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there was any error.
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPurge()
	},
}

func init() {
	cmdRoot.AddCommand(cmdPurge)
}

func runPurge() error {
	cfg, err := loadServeConfig()
	if err != nil {
		return err
	}

	c, err := cache.New(cfg.CacheDir, cfg)
	if err != nil {
		return err
	}

	removed, err := c.Sweep()
	if err != nil {
		return err
	}

	if len(removed) == 0 {
		fmt.Println("no stale partitions")
		return nil
	}
	for _, name := range removed {
		fmt.Printf("removed %s\n", name)
	}
	return nil
}
