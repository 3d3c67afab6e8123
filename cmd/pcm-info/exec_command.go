package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arnavsurve/pcminfo"
)

func newExecCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <endpoint> <command>",
		Short: "Send one command to a daemon and print the reply",
		Long:  "Endpoint may be a socket path, a pid, or a socket file name such as pinfo.42.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			request := strings.TrimSpace(args[1])
			if request == pcminfo.QuitCommand {
				return fmt.Errorf("%q is a local command", pcminfo.QuitCommand)
			}
			sess, err := openSession(cmd, ctx, args[0])
			if err != nil {
				return err
			}
			defer sess.Close()

			reply, err := sess.Do(request)
			if err != nil {
				return err
			}
			return pcminfo.WriteReply(cmd.OutOrStdout(), reply)
		},
	}
}

func openSession(cmd *cobra.Command, ctx *commandContext, arg string) (*pcminfo.Session, error) {
	ep, err := pcminfo.ResolveEndpoint(ctx.config.RunDirs(), arg, ctx.logger)
	if err != nil {
		return nil, err
	}
	sess, err := pcminfo.Open(cmd.Context(), ep, ctx.sessionOptions())
	if err != nil {
		return nil, err
	}
	if err := sess.Handshake(); err != nil {
		return nil, err
	}
	return sess, nil
}
