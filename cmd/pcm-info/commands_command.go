package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arnavsurve/pcminfo"
)

type commandSet struct {
	Endpoint string   `json:"endpoint"`
	Commands []string `json:"commands"`
}

func newCommandsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "commands [endpoint]",
		Short: "Show the commands each daemon accepts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var endpoints []pcminfo.Endpoint
			if len(args) == 1 {
				ep, err := pcminfo.ResolveEndpoint(ctx.config.RunDirs(), args[0], ctx.logger)
				if err != nil {
					return err
				}
				endpoints = append(endpoints, ep)
			} else {
				for ep := range pcminfo.Endpoints(ctx.config.RunDirs(), ctx.logger) {
					endpoints = append(endpoints, ep)
				}
			}

			sets := []commandSet{}
			var errs []error
			for _, ep := range endpoints {
				cmds, err := fetchCommands(cmd, ctx, ep)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				sets = append(sets, commandSet{Endpoint: ep.Path, Commands: cmds})
			}

			if asJSON {
				if err := writeJSON(cmd, sets); err != nil {
					return err
				}
				return errors.Join(errs...)
			}
			out := cmd.OutOrStdout()
			for _, set := range sets {
				fmt.Fprintf(out, "%s:\n", set.Endpoint)
				for _, c := range set.Commands {
					fmt.Fprintf(out, "  %s\n", c)
				}
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func fetchCommands(cmd *cobra.Command, ctx *commandContext, ep pcminfo.Endpoint) ([]string, error) {
	sess, err := pcminfo.Open(cmd.Context(), ep, ctx.sessionOptions())
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	if err := sess.Handshake(); err != nil {
		return nil, fmt.Errorf("%s: %w", ep.Path, err)
	}
	return sess.Commands(), nil
}
