package main

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/arnavsurve/pcminfo"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var probe bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered daemon sockets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var infos []endpointRow
			for ep := range pcminfo.Endpoints(ctx.config.RunDirs(), ctx.logger) {
				row := endpointRow{EndpointInfo: pcminfo.EndpointInfo{Path: ep.Path, Scope: ep.Scope, Pid: ep.Pid}}
				if probe {
					row.probe(cmd, ctx, ep)
				}
				infos = append(infos, row)
			}

			if asJSON {
				if infos == nil {
					infos = []endpointRow{}
				}
				return writeJSON(cmd, infos)
			}
			if len(infos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pcm-info daemons found")
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderEndpoints(infos, probe))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&probe, "probe", "p", false, "Connect to each daemon and report its version")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

type endpointRow struct {
	pcminfo.EndpointInfo
	Status   string `json:"status,omitempty"`
	Version  string `json:"version,omitempty"`
	Commands int    `json:"commands,omitempty"`
}

func (r *endpointRow) probe(cmd *cobra.Command, ctx *commandContext, ep pcminfo.Endpoint) {
	sess, err := pcminfo.Open(cmd.Context(), ep, ctx.sessionOptions())
	if err != nil {
		r.Status = "unreachable"
		return
	}
	defer sess.Close()
	if err := sess.Handshake(); err != nil {
		r.Status = "bad handshake"
		return
	}
	r.Status = "ok"
	r.Version = sess.Hello.Version
	r.Commands = len(sess.Commands())
	if r.Pid < 0 && sess.Peer != nil {
		r.Pid = int(sess.Peer.Pid)
	}
}

// renderEndpoints lays rows out as a table. Probe columns are added only
// when the daemons were contacted.
func renderEndpoints(rows []endpointRow, probed bool) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := table.Row{"Path", "Scope", "Pid"}
	if probed {
		header = append(header, "Status", "Version", "Commands")
	}
	tw.AppendHeader(header)
	for _, r := range rows {
		row := table.Row{r.Path, string(r.Scope), pidString(r.Pid)}
		if probed {
			row = append(row, r.Status, r.Version, r.Commands)
		}
		tw.AppendRow(row)
	}

	// Pid and command count are numbers.
	right := []int{3}
	if probed {
		right = append(right, 6)
	}
	configs := make([]table.ColumnConfig, 0, len(right))
	for _, n := range right {
		configs = append(configs, table.ColumnConfig{Number: n, Align: text.AlignRight, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func pidString(pid int) string {
	if pid < 0 {
		return "-"
	}
	return strconv.Itoa(pid)
}
