package alive

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var testMCPImpl = &mcp.Implementation{Name: "alive-test", Version: "0.1.0"}

func mcpSession(t *testing.T, svc *Service) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	svc.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) (*mcp.CallToolResult, string) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return result, tc.Text
}

func TestMCP_Tools(t *testing.T) {
	f := newFixture(t, nil)
	f.importFeed(t, map[int]string{7: "https://a.test", 8: "https://b.test"})
	session := mcpSession(t, f.svc)

	_, text := callTool(t, session, "alive_pending", map[string]any{"limit": 1})
	var pending struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal([]byte(text), &pending); err != nil || pending.Count != 1 {
		t.Fatalf("alive_pending = %s (%v)", text, err)
	}

	_, text = callTool(t, session, "alive_trial_record", map[string]any{"id": 8})
	var rec struct {
		ID  int64  `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(text), &rec); err != nil || rec.ID != 8 || rec.URL != "https://b.test" {
		t.Fatalf("alive_trial_record = %s (%v)", text, err)
	}

	_, text = callTool(t, session, "alive_stats", map[string]any{})
	var st Stats
	if err := json.Unmarshal([]byte(text), &st); err != nil || st.Pending != 2 {
		t.Fatalf("alive_stats = %s (%v)", text, err)
	}
}

func TestMCP_UnknownID(t *testing.T) {
	// WHAT: An unknown id is a tool error, not a protocol error.
	f := newFixture(t, nil)
	session := mcpSession(t, f.svc)

	res, _ := callTool(t, session, "alive_trial_record", map[string]any{"id": 404})
	if !res.IsError {
		t.Fatal("expected tool error for unknown id")
	}
}
