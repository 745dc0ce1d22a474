package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "/etc/timesync/config.yaml"

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "timesyncd",
		Short:         "Cron-driven time synchronization daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		// Bare invocation runs the daemon.
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), cfgPath)
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath, "path to config (json or yaml)")

	root.AddCommand(newRunCmd(&cfgPath), newNextCmd(time.Now))
	return root
}
