package pcminfo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// EndpointInfo is the JSON form of an endpoint in list_endpoints output.
type EndpointInfo struct {
	Path  string `json:"path"`
	Scope Scope  `json:"scope"`
	Pid   int    `json:"pid"`
}

// ListEndpointsInput is the input for the list_endpoints tool.
type ListEndpointsInput struct{}

// ListCommandsInput is the input for the list_commands tool.
type ListCommandsInput struct {
	Endpoint string `json:"endpoint" jsonschema:"Socket path, pid, or file name such as pinfo.42"`
}

// ListCommandsOutput is the JSON form of list_commands results.
type ListCommandsOutput struct {
	Endpoint     string   `json:"endpoint"`
	Version      string   `json:"version,omitempty"`
	Pid          int      `json:"pid,omitempty"`
	MaxOutputLen int      `json:"max_output_len"`
	Commands     []string `json:"commands"`
}

// RunCommandInput is the input for the run_command tool.
type RunCommandInput struct {
	Endpoint string `json:"endpoint" jsonschema:"Socket path, pid, or file name such as pinfo.42"`
	Command  string `json:"command" jsonschema:"Command to send, for example /pcm/info or /cmd,params"`
}

// Tools runs one short-lived session per MCP tool call.
type Tools struct {
	Dirs    RunDirs
	Options SessionOptions
	Logger  *slog.Logger
}

// RegisterMCPTools registers list_endpoints, list_commands and run_command.
func RegisterMCPTools(server *mcp.Server, t *Tools) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_endpoints",
		Description: "List the pcm-info daemon sockets found on this host, root-owned first. Returns socket paths, owner scope and daemon pid.",
	}, t.listEndpoints)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_commands",
		Description: "Connect to one pcm-info daemon and return the commands it accepts along with its version and reply size limit.",
	}, t.listCommands)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "run_command",
		Description: "Send one command to a pcm-info daemon and return its JSON reply. Commands start with '/', parameters follow a comma.",
	}, t.runCommand)
}

// NewMCPServer creates a configured MCP server with tools registered.
func NewMCPServer(t *Tools, version string) *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "pcm-info",
			Version: version,
		},
		nil,
	)
	RegisterMCPTools(server, t)
	return server
}

func (t *Tools) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return t.Logger
}

func (t *Tools) listEndpoints(ctx context.Context, req *mcp.CallToolRequest, input ListEndpointsInput) (*mcp.CallToolResult, any, error) {
	infos := []EndpointInfo{}
	for ep := range Endpoints(t.Dirs, t.logger()) {
		infos = append(infos, EndpointInfo{Path: ep.Path, Scope: ep.Scope, Pid: ep.Pid})
	}
	result, _ := json.Marshal(map[string]any{"endpoints": infos})
	return textResult(string(result)), nil, nil
}

func (t *Tools) listCommands(ctx context.Context, req *mcp.CallToolRequest, input ListCommandsInput) (*mcp.CallToolResult, any, error) {
	sess, err := t.open(ctx, input.Endpoint)
	if err != nil {
		return errorResult(err), nil, nil
	}
	defer sess.Close()

	output := ListCommandsOutput{
		Endpoint:     sess.Endpoint.Path,
		Version:      sess.Hello.Version,
		Pid:          sess.Hello.Pid,
		MaxOutputLen: sess.Hello.MaxOutputLen,
		Commands:     sess.Commands(),
	}
	result, _ := json.Marshal(output)
	return textResult(string(result)), nil, nil
}

func (t *Tools) runCommand(ctx context.Context, req *mcp.CallToolRequest, input RunCommandInput) (*mcp.CallToolResult, any, error) {
	if input.Command == QuitCommand {
		return errorResult(fmt.Errorf("%q is a local command", QuitCommand)), nil, nil
	}
	sess, err := t.open(ctx, input.Endpoint)
	if err != nil {
		return errorResult(err), nil, nil
	}
	defer sess.Close()

	reply, err := sess.Do(input.Command)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return textResult(string(reply)), nil, nil
}

func (t *Tools) open(ctx context.Context, endpoint string) (*Session, error) {
	ep, err := ResolveEndpoint(t.Dirs, endpoint, t.logger())
	if err != nil {
		return nil, err
	}
	opts := t.Options
	opts.Logger = t.logger()
	sess, err := Open(ctx, ep, opts)
	if err != nil {
		return nil, err
	}
	if err := sess.Handshake(); err != nil {
		return nil, err
	}
	return sess, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Error: %v", err)},
		},
		IsError: true,
	}
}
