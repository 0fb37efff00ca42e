package main

import (
	"os"

	"github.com/spf13/cobra"

	"meeting-insight-service/internal/config"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "meetingd",
		Short:         "Meeting insight service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (defaults to $CONFIG_FILE)")

	loadConfig := func() (*config.Configuration, error) {
		path := configFlag
		if path == "" {
			path = os.Getenv("CONFIG_FILE")
		}
		if path == "" {
			return config.Load(), nil
		}
		return config.LoadFile(path)
	}

	rootCmd.AddCommand(newServeCommand(loadConfig))
	rootCmd.AddCommand(newRenderCommand())
	rootCmd.AddCommand(newSubmitCommand())
	rootCmd.AddCommand(newTailCommand(loadConfig))

	return rootCmd
}
