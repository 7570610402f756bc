package kit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Decoder turns the raw tool arguments into the endpoint request.
type Decoder func(*mcp.CallToolRequest) (any, error)

// DecodeArgs returns a Decoder that unmarshals the arguments into a *T.
// Missing arguments yield the zero T.
func DecodeArgs[T any]() Decoder {
	return func(r *mcp.CallToolRequest) (any, error) {
		p := new(T)
		if len(r.Params.Arguments) == 0 {
			return p, nil
		}
		if err := json.Unmarshal(r.Params.Arguments, p); err != nil {
			return nil, err
		}
		return p, nil
	}
}

// RegisterMCPTool exposes endpoint as an MCP tool. The response is returned
// as one JSON text block. Decode and endpoint failures become tool errors so
// the session stays usable.
func RegisterMCPTool(srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint, decode Decoder) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		in, err := decode(req)
		if err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
		}
		resp, err := endpoint(WithTransport(ctx, "mcp"), in)
		if err != nil {
			return toolError(err), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("marshal: %w", err)), nil
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}
