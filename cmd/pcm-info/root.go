package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/arnavsurve/pcminfo"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var logLevelFlag string
	var watch bool

	ctx := newCommandContext(&configFlag, &logLevelFlag)

	rootCmd := &cobra.Command{
		Use:           "pcm-info",
		Short:         "Interactive client for pcm-info daemon sockets",
		Long:          "Connects to every pcm-info daemon socket in turn, root-owned first, and sends each line typed at the prompt. Type quit to move on to the next daemon.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			console, restore, err := pcminfo.NewConsole(os.Stdin, os.Stdout, ctx.config.Prompt)
			if err != nil {
				return err
			}
			defer restore()

			client := &pcminfo.Client{
				Dirs:      ctx.config.RunDirs(),
				Options:   ctx.sessionOptions(),
				Console:   console,
				SlashOnly: ctx.config.SlashOnly,
				Logger:    ctx.logger,
			}
			if watch {
				return client.Watch(cmd.Context())
			}
			return client.Run(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep running and connect to daemons as they start")

	rootCmd.AddCommand(newListCommand(ctx))
	rootCmd.AddCommand(newCommandsCommand(ctx))
	rootCmd.AddCommand(newExecCommand(ctx))
	rootCmd.AddCommand(newMCPCommand(ctx))

	return rootCmd
}
