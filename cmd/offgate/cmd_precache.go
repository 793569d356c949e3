package main

import (
	"context"

	"github.com/dentflow/offgate/internal/cache"
	"github.com/dentflow/offgate/internal/proxy"
	"github.com/dentflow/offgate/internal/worker"
	"github.com/spf13/cobra"
)

var cmdPrecache = &cobra.Command{
	Use:   "precache",
	Short: "Warm the static partition with the app-shell manifest",
	Long: `
The "precache" command fetches every asset of the app-shell manifest into the
static partition for the current cache version. Assets that cannot be fetched
are skipped; precaching always completes.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there was any error.
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPrecache(cmd.Context())
	},
}

func init() {
	cmdRoot.AddCommand(cmdPrecache)
}

func runPrecache(ctx context.Context) error {
	cfg, err := loadServeConfig()
	if err != nil {
		return err
	}

	c, err := cache.New(cfg.CacheDir, cfg)
	if err != nil {
		return err
	}

	fetcher, err := proxy.New(cfg, c, nil, nil)
	if err != nil {
		return err
	}

	w := worker.New(cfg, c, fetcher, nil, nil, nil)
	_, err = w.Dispatch(ctx, worker.Install{})
	return err
}
