package main

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/arnavsurve/pcminfo"
)

func newMCPCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve daemon discovery and commands as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tools := &pcminfo.Tools{
				Dirs:    ctx.config.RunDirs(),
				Options: ctx.sessionOptions(),
				Logger:  ctx.logger,
			}
			server := pcminfo.NewMCPServer(tools, pcminfo.Version)
			if err := server.Run(cmd.Context(), &mcp.StdioTransport{}); err != nil {
				if cmd.Context().Err() == nil {
					return err
				}
			}
			return nil
		},
	}
}
