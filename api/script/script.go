// Package script exposes server-side script execution. Composing code
// as a string and running it remotely is a distinct, sharply restricted
// capability: every tool here is write-classified and admin-only, and
// any value interpolated into generated script text goes through
// QuoteString so it can never break out of its string literal.
package script

import (
	"context"
	"strings"

	"github.com/acuvity/mcp-servicenow/passthrough"
	"github.com/acuvity/mcp-servicenow/registry"
)

var adminOnly = []registry.Role{registry.RoleAdmin}

const executePath = "/api/now/script/execute"

// Source returns the script tool definitions for registry discovery.
func Source() registry.Source {
	return registry.Source{
		Name: "script",
		Definitions: []registry.Definition{
			{
				Name:        "execute_background_script",
				Description: "Run a server-side background script on the instance and return its output. Admin only.",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"script": map[string]any{
							"type":        "string",
							"description": "Script body to execute on the instance.",
						},
					},
					"required": []string{"script"},
				},
				Category:     "script",
				Subcategory:  "execution",
				UseCases:     []string{"one-off data fixes", "diagnostics"},
				Complexity:   "high",
				Frequency:    "low",
				Permission:   registry.PermissionWrite,
				AllowedRoles: adminOnly,
				Handler:      executeBackgroundScript,
			},
			{
				Name:        "get_system_property",
				Description: "Read a system property value via a generated server-side script. Admin only.",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name": map[string]any{
							"type":        "string",
							"description": "Property name, e.g. glide.servlet.uri.",
						},
					},
					"required": []string{"name"},
				},
				Category:     "script",
				Subcategory:  "properties",
				Complexity:   "low",
				Frequency:    "low",
				Permission:   registry.PermissionWrite,
				AllowedRoles: adminOnly,
				Handler:      getSystemProperty,
			},
		},
	}
}

func executeBackgroundScript(ctx context.Context, args map[string]any, ec *registry.Context) registry.Result {
	script, _ := args["script"].(string)
	return runScript(ctx, ec, script)
}

// getSystemProperty composes a one-line script; the property name is
// escaped before interpolation.
func getSystemProperty(ctx context.Context, args map[string]any, ec *registry.Context) registry.Result {
	name, _ := args["name"].(string)
	return runScript(ctx, ec, "gs.print(gs.getProperty("+QuoteString(name)+"));")
}

// runScript posts one script body to the execution API and unwraps the
// result.
func runScript(ctx context.Context, ec *registry.Context, script string) registry.Result {
	cl, err := ec.Clients.GetClient(ctx)
	if err != nil {
		return passthrough.ErrorResult(err)
	}
	resp, err := cl.Post(ctx, executePath, map[string]any{"script": script})
	if err != nil {
		return passthrough.ErrorResult(err)
	}

	var payload map[string]any
	if err := resp.Decode(&payload); err != nil {
		return registry.FailCause(registry.KindRemote, err, "response is not valid JSON")
	}
	return registry.OK(payload["result"])
}

// QuoteString renders v as a single-quoted script string literal,
// escaping backslashes, quotes, and line breaks. Every interpolation
// into generated script text must go through here.
func QuoteString(v string) string {
	var sb strings.Builder
	sb.WriteByte('\'')
	for _, r := range v {
		switch r {
		case '\\':
			sb.WriteString(`\\`)
		case '\'':
			sb.WriteString(`\'`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('\'')
	return sb.String()
}
