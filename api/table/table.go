// Package table exposes the ServiceNow Table API as tools: list, get,
// create, update, and delete records on any table. Reads are open to
// all roles; writes require developer or admin.
package table

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/acuvity/mcp-servicenow/passthrough"
	"github.com/acuvity/mcp-servicenow/query"
	"github.com/acuvity/mcp-servicenow/registry"
)

var (
	readRoles  = []registry.Role{registry.RoleDeveloper, registry.RoleStakeholder, registry.RoleAdmin}
	writeRoles = []registry.Role{registry.RoleDeveloper, registry.RoleAdmin}
)

// Source returns the table tool definitions for registry discovery.
func Source() registry.Source {
	return registry.Source{
		Name: "table",
		Definitions: []registry.Definition{
			{
				Name:        "list_records",
				Description: "List records from a ServiceNow table with optional filters, field selection, ordering, and pagination.",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"table": map[string]any{
							"type":        "string",
							"description": "Table name, e.g. incident or cmdb_ci_server.",
						},
						"filters": map[string]any{
							"type":        "array",
							"description": "Structured filter terms combined into an encoded query.",
							"items": map[string]any{
								"type": "object",
								"properties": map[string]any{
									"field":    map[string]any{"type": "string"},
									"operator": map[string]any{"type": "string"},
									"value":    map[string]any{"type": "string"},
									"or":       map[string]any{"type": "boolean"},
								},
								"required": []string{"field"},
							},
						},
						"query": map[string]any{
							"type":        "string",
							"description": "Raw encoded query appended verbatim (sysparm_query syntax).",
						},
						"fields": map[string]any{
							"type":        "string",
							"description": "Comma-separated list of fields to return.",
						},
						"limit": map[string]any{
							"type":    "integer",
							"minimum": 1,
							"maximum": 1000,
							"default": 10,
						},
						"offset": map[string]any{
							"type":    "integer",
							"minimum": 0,
						},
						"order_by": map[string]any{
							"type":        "string",
							"description": "Field to order by.",
						},
						"order_desc": map[string]any{
							"type":    "boolean",
							"default": false,
						},
					},
					"required": []string{"table"},
				},
				Category:     "table",
				Subcategory:  "records",
				UseCases:     []string{"search records", "browse tables"},
				Complexity:   "low",
				Frequency:    "high",
				Permission:   registry.PermissionRead,
				AllowedRoles: readRoles,
				Handler:      listRecords,
			},
			{
				Name:        "get_record",
				Description: "Fetch a single record by sys_id from a ServiceNow table.",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"table":  map[string]any{"type": "string"},
						"sys_id": map[string]any{"type": "string"},
						"fields": map[string]any{
							"type":        "string",
							"description": "Comma-separated list of fields to return.",
						},
					},
					"required": []string{"table", "sys_id"},
				},
				Category:     "table",
				Subcategory:  "records",
				Complexity:   "low",
				Frequency:    "high",
				Permission:   registry.PermissionRead,
				AllowedRoles: readRoles,
				Handler: passthrough.Spec{
					Method: "GET",
					Path:   "/api/now/table/{table}/{sys_id}",
					Query:  map[string]string{"sysparm_display_value": "true"},
					QueryArgs: map[string]string{
						"sysparm_fields": "fields",
					},
					ResponseKey: "result",
				}.Build(),
			},
			{
				Name:        "create_record",
				Description: "Create a record in a ServiceNow table.",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"table": map[string]any{"type": "string"},
						"data": map[string]any{
							"type":        "object",
							"description": "Field values for the new record.",
						},
					},
					"required": []string{"table", "data"},
				},
				Category:     "table",
				Subcategory:  "records",
				Complexity:   "low",
				Frequency:    "high",
				Permission:   registry.PermissionWrite,
				AllowedRoles: writeRoles,
				Handler: passthrough.Spec{
					Method:      "POST",
					Path:        "/api/now/table/{table}",
					BodyArg:     "data",
					ResponseKey: "result",
				}.Build(),
			},
			{
				Name:        "update_record",
				Description: "Update fields on an existing record.",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"table":  map[string]any{"type": "string"},
						"sys_id": map[string]any{"type": "string"},
						"data": map[string]any{
							"type":        "object",
							"description": "Field values to change.",
						},
					},
					"required": []string{"table", "sys_id", "data"},
				},
				Category:     "table",
				Subcategory:  "records",
				Complexity:   "low",
				Frequency:    "medium",
				Permission:   registry.PermissionWrite,
				AllowedRoles: writeRoles,
				Handler: passthrough.Spec{
					Method:      "PATCH",
					Path:        "/api/now/table/{table}/{sys_id}",
					BodyArg:     "data",
					ResponseKey: "result",
				}.Build(),
			},
			{
				Name:        "delete_record",
				Description: "Delete a record by sys_id.",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"table":  map[string]any{"type": "string"},
						"sys_id": map[string]any{"type": "string"},
					},
					"required": []string{"table", "sys_id"},
				},
				Category:     "table",
				Subcategory:  "records",
				Complexity:   "low",
				Frequency:    "low",
				Permission:   registry.PermissionWrite,
				AllowedRoles: writeRoles,
				Handler: passthrough.Spec{
					Method: "DELETE",
					Path:   "/api/now/table/{table}/{sys_id}",
				}.Build(),
			},
		},
	}
}

// listRecords needs a real handler body: the structured filter terms go
// through the shared query builder before the single GET is issued.
func listRecords(ctx context.Context, args map[string]any, ec *registry.Context) registry.Result {
	cl, err := ec.Clients.GetClient(ctx)
	if err != nil {
		return passthrough.ErrorResult(err)
	}

	table, _ := args["table"].(string)

	b := query.New()
	if filters, ok := args["filters"].([]any); ok {
		for _, f := range filters {
			filter, ok := f.(map[string]any)
			if !ok {
				return registry.Fail(registry.KindValidation, "filter entries must be objects")
			}
			field, _ := filter["field"].(string)
			opName, _ := filter["operator"].(string)
			op, ok := query.ParseOperator(opName)
			if !ok {
				return registry.Fail(registry.KindValidation, "unknown filter operator %q", opName)
			}
			value := stringValue(filter["value"])
			if isOr, _ := filter["or"].(bool); isOr {
				b.OrWhere(field, op, value)
			} else {
				b.Where(field, op, value)
			}
		}
	}
	if raw, ok := args["query"].(string); ok {
		b.Raw(raw)
	}
	if orderBy, ok := args["order_by"].(string); ok && orderBy != "" {
		if desc, _ := args["order_desc"].(bool); desc {
			b.OrderByDesc(orderBy)
		} else {
			b.OrderBy(orderBy)
		}
	}

	q := url.Values{}
	q.Set("sysparm_display_value", "true")
	if !b.Empty() {
		q.Set("sysparm_query", b.String())
	}
	if fields, ok := args["fields"].(string); ok && fields != "" {
		q.Set("sysparm_fields", fields)
	}
	if limit, ok := intValue(args["limit"]); ok {
		q.Set("sysparm_limit", strconv.Itoa(limit))
	} else {
		q.Set("sysparm_limit", "10")
	}
	if offset, ok := intValue(args["offset"]); ok {
		q.Set("sysparm_offset", strconv.Itoa(offset))
	}

	resp, err := cl.Get(ctx, "/api/now/table/"+url.PathEscape(table), q)
	if err != nil {
		return passthrough.ErrorResult(err)
	}

	var payload map[string]any
	if err := resp.Decode(&payload); err != nil {
		return registry.FailCause(registry.KindRemote, err, "response is not valid JSON")
	}
	return registry.OK(payload["result"])
}

// intValue coerces a decoded-JSON number (float64) or a literal int.
func intValue(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	}
	return 0, false
}

func stringValue(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
