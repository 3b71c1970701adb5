package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/acuvity/mcp-servicenow/client"
	"github.com/acuvity/mcp-servicenow/registry"
)

func testProvider(t *testing.T) *client.Provider {
	t.Helper()
	p, err := client.NewProvider(client.Config{
		Instance: "https://dev00000.service-now.com",
		Username: "agent",
		Password: "pw",
	})
	require.NoError(t, err)
	return p
}

func TestAdvertiseStripsDiscoveryMetadata(t *testing.T) {
	def := registry.Definition{
		Name:        "list_records",
		Description: "List records.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"table": map[string]any{"type": "string"},
			},
			"required": []string{"table"},
		},
		Category:   "table",
		UseCases:   []string{"internal only"},
		Complexity: "low",
	}

	tool := advertise(def)
	assert.Equal(t, "list_records", tool.Name)
	assert.Equal(t, "List records.", tool.Description)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(tool.RawInputSchema, &schema))
	assert.Contains(t, schema, "properties")
	assert.NotContains(t, schema, "category")
	assert.NotContains(t, schema, "use_cases")
	assert.NotContains(t, schema, "complexity")
}

func TestAdvertiseNilSchemaDefaultsToObject(t *testing.T) {
	tool := advertise(registry.Definition{Name: "legacy", Description: "no schema"})
	var schema map[string]any
	require.NoError(t, json.Unmarshal(tool.RawInputSchema, &schema))
	assert.Equal(t, "object", schema["type"])
}

func TestToolHandlerEnvelopes(t *testing.T) {
	reg := registry.New(zap.NewNop())
	require.NoError(t, reg.Register(registry.Definition{
		Name:        "echo",
		Description: "returns its arguments",
		Handler: func(ctx context.Context, args map[string]any, ec *registry.Context) registry.Result {
			return registry.OK(args)
		},
	}))

	h := toolHandler(reg, "echo", testProvider(t), zap.NewNop())

	req := mcp.CallToolRequest{}
	req.Params.Name = "echo"
	req.Params.Arguments = map[string]any{"hello": "world"}

	out, err := h(context.Background(), req)
	require.NoError(t, err)
	require.False(t, out.IsError)

	text, ok := out.Content[0].(mcp.TextContent)
	require.True(t, ok)

	var env map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &env))
	assert.Equal(t, true, env["success"])
	assert.Equal(t, map[string]any{"hello": "world"}, env["data"])
}

func TestToolHandlerErrorEnvelopeCarriesKind(t *testing.T) {
	reg := registry.New(zap.NewNop())

	h := toolHandler(reg, "missing_tool", testProvider(t), zap.NewNop())

	req := mcp.CallToolRequest{}
	req.Params.Name = "missing_tool"

	out, err := h(context.Background(), req)
	require.NoError(t, err, "dispatch failures must not surface as protocol errors")
	require.True(t, out.IsError)

	text, ok := out.Content[0].(mcp.TextContent)
	require.True(t, ok)

	var env map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &env))
	assert.Equal(t, false, env["success"])
	assert.Equal(t, string(registry.KindNotFound), env["kind"])
	assert.NotEmpty(t, env["error"])
}

func TestDiscoverLoadsAllSources(t *testing.T) {
	reg, failures := Discover(zap.NewNop())
	assert.Empty(t, failures)

	for _, name := range []string{
		"list_records", "get_record", "create_record", "update_record", "delete_record",
		"aggregate_records",
		"execute_background_script", "get_system_property",
	} {
		_, err := reg.Get(name)
		assert.NoError(t, err, name)
	}
}
