package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/scribe/internal/janitor"
	"github.com/dkeye/scribe/internal/store"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete rooms idle for longer than janitor.max_idle and exit",
	Long: `cleanup runs a single janitor sweep against the configured store.
It is meant for cron jobs against the redis or sql store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := janitor.New(st, janitor.StoreOnly{Store: st}, cfg.Janitor.Interval, cfg.Janitor.MaxIdle).Sweep(ctx)
		log.Info().Int("deleted", n).Dur("max_idle", cfg.Janitor.MaxIdle).Msg("cleanup complete")
		return err
	},
}
