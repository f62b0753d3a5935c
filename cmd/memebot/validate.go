package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"memebot/internal/config"
	"memebot/internal/scheduler"
)

func newValidateCommand(cfgPath *string) *cobra.Command {
	var ticks int

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the config and preview upcoming broadcast ticks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, *cfgPath, ticks, time.Now())
		},
	}
	cmd.Flags().IntVarP(&ticks, "ticks", "n", 5, "number of upcoming ticks to print")
	return cmd
}

func runValidate(cmd *cobra.Command, cfgPath string, n int, now time.Time) error {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}
	loc, err := scheduler.LoadLocation(cfg.Broadcast.Timezone)
	if err != nil {
		return err
	}
	next, err := scheduler.NextTicks(cfg.Broadcast.Schedule, loc, now, n)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "config ok: %s\n", cfgPath)
	fmt.Fprintf(out, "target chat: %d, batch size: %d, send delay: %s\n", cfg.Broadcast.TargetChat, cfg.Broadcast.BatchSize, cfg.Broadcast.SendDelay)
	fmt.Fprintf(out, "schedule: %q in %s\n", cfg.Broadcast.Schedule, loc)
	for _, t := range next {
		fmt.Fprintf(out, "  %s\n", t.Format("Mon 2006-01-02 15:04:05 MST"))
	}
	return nil
}
