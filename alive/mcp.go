package alive

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/moa-lab/phishing-alive-measurement/kit"
)

// RegisterMCP registers the alive tools on an MCP server.
func (svc *Service) RegisterMCP(srv *mcp.Server) {
	svc.registerPending(srv)
	svc.registerTrialRecord(srv)
	svc.registerStats(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func (svc *Service) registerPending(srv *mcp.Server) {
	type req struct {
		Limit int `json:"limit"`
	}

	tool := &mcp.Tool{
		Name:        "alive_pending",
		Description: "List URLs still waiting for a liveness check",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Maximum items (default 100)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		limit := p.Limit
		if limit <= 0 || limit > maxPendingLimit {
			limit = defaultPendingLimit
		}
		items, err := svc.Pending(ctx, limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"items": items, "count": len(items)}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Logging(svc.logger, tool.Name)(endpoint), kit.DecodeArgs[req]())
}

func (svc *Service) registerTrialRecord(srv *mcp.Server) {
	type req struct {
		ID int64 `json:"id"`
	}

	tool := &mcp.Tool{
		Name:        "alive_trial_record",
		Description: "Show the trial history of one feed id",
		InputSchema: inputSchema(map[string]any{
			"id": map[string]any{"type": "integer", "description": "Feed id"},
		}, []string{"id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		if p.ID <= 0 {
			return nil, errors.New("id is required")
		}
		rec, err := svc.Item(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, fmt.Errorf("id %d not found", p.ID)
		}
		return rec, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Logging(svc.logger, tool.Name)(endpoint), kit.DecodeArgs[req]())
}

func (svc *Service) registerStats(srv *mcp.Server) {
	type req struct{}

	tool := &mcp.Tool{
		Name:        "alive_stats",
		Description: "Pending count and the current or last run summary",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return svc.Stats(ctx)
	}

	kit.RegisterMCPTool(srv, tool, kit.Logging(svc.logger, tool.Name)(endpoint), kit.DecodeArgs[req]())
}
