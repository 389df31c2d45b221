package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/aeon/internal/tools"
)

// bridgeTool adapts one remote MCP tool to the tools.Tool interface. Names
// are namespaced "server__tool" so policy patterns like "github__*" scope
// to a whole server.
type bridgeTool struct {
	serverName string
	tool       mcpgo.Tool
	client     *mcpclient.Client
	prefix     string
	timeout    time.Duration
}

func newBridgeTool(serverName string, tool mcpgo.Tool, client *mcpclient.Client, toolPrefix string, timeoutSec int) *bridgeTool {
	prefix := toolPrefix
	if prefix == "" {
		prefix = serverName
	}
	return &bridgeTool{
		serverName: serverName,
		tool:       tool,
		client:     client,
		prefix:     prefix,
		timeout:    time.Duration(timeoutSec) * time.Second,
	}
}

func (b *bridgeTool) Name() string {
	return b.prefix + "__" + b.tool.Name
}

func (b *bridgeTool) Description() string {
	if b.tool.Description != "" {
		return b.tool.Description
	}
	return fmt.Sprintf("MCP tool %s on server %s", b.tool.Name, b.serverName)
}

func (b *bridgeTool) Parameters() map[string]interface{} {
	params := map[string]interface{}{"type": "object"}
	if b.tool.InputSchema.Type != "" {
		params["type"] = b.tool.InputSchema.Type
	}
	if len(b.tool.InputSchema.Properties) > 0 {
		params["properties"] = b.tool.InputSchema.Properties
	}
	if len(b.tool.InputSchema.Required) > 0 {
		params["required"] = b.tool.InputSchema.Required
	}
	return params
}

func (b *bridgeTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = b.tool.Name
	req.Params.Arguments = args

	res, err := b.client.CallTool(callCtx, req)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("Error: MCP tool '%s' failed: %v", b.Name(), err)).WithError(err)
	}

	var parts []string
	for _, content := range res.Content {
		if tc, ok := mcpgo.AsTextContent(content); ok {
			parts = append(parts, tc.Text)
		}
	}
	text := strings.Join(parts, "\n")

	if res.IsError {
		return tools.ErrorResult("Error: " + text)
	}
	return tools.NewResult(text)
}
