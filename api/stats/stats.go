// Package stats exposes the ServiceNow Aggregate API: counts and
// numeric aggregates over table records, optionally grouped.
package stats

import (
	"context"
	"net/url"

	"github.com/acuvity/mcp-servicenow/passthrough"
	"github.com/acuvity/mcp-servicenow/registry"
)

var readRoles = []registry.Role{registry.RoleDeveloper, registry.RoleStakeholder, registry.RoleAdmin}

// Source returns the stats tool definitions for registry discovery.
func Source() registry.Source {
	return registry.Source{
		Name: "stats",
		Definitions: []registry.Definition{
			{
				Name:        "aggregate_records",
				Description: "Compute an aggregate (count, avg, min, max, sum) over records in a ServiceNow table, optionally grouped by a field.",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"table": map[string]any{
							"type":        "string",
							"description": "Table name to aggregate over.",
						},
						"aggregate": map[string]any{
							"type":    "string",
							"enum":    []string{"count", "avg", "min", "max", "sum"},
							"default": "count",
						},
						"field": map[string]any{
							"type":        "string",
							"description": "Numeric field to aggregate. Ignored for count.",
						},
						"group_by": map[string]any{
							"type":        "string",
							"description": "Field to group results by.",
						},
						"query": map[string]any{
							"type":        "string",
							"description": "Encoded query restricting the aggregated records.",
						},
					},
					"required": []string{"table"},
				},
				Category:     "stats",
				Subcategory:  "aggregate",
				UseCases:     []string{"count incidents", "average resolution metrics"},
				Complexity:   "low",
				Frequency:    "medium",
				Permission:   registry.PermissionRead,
				AllowedRoles: readRoles,
				Handler:      aggregateRecords,
			},
		},
	}
}

func aggregateRecords(ctx context.Context, args map[string]any, ec *registry.Context) registry.Result {
	cl, err := ec.Clients.GetClient(ctx)
	if err != nil {
		return passthrough.ErrorResult(err)
	}

	table, _ := args["table"].(string)
	aggregate, _ := args["aggregate"].(string)
	if aggregate == "" {
		aggregate = "count"
	}
	field, _ := args["field"].(string)

	q := url.Values{}
	switch aggregate {
	case "count":
		q.Set("sysparm_count", "true")
	case "avg":
		q.Set("sysparm_avg_fields", field)
	case "min":
		q.Set("sysparm_min_fields", field)
	case "max":
		q.Set("sysparm_max_fields", field)
	case "sum":
		q.Set("sysparm_sum_fields", field)
	}
	if aggregate != "count" && field == "" {
		return registry.Fail(registry.KindValidation, "aggregate %q requires a field", aggregate)
	}
	if groupBy, ok := args["group_by"].(string); ok && groupBy != "" {
		q.Set("sysparm_group_by", groupBy)
	}
	if raw, ok := args["query"].(string); ok && raw != "" {
		q.Set("sysparm_query", raw)
	}

	resp, err := cl.Get(ctx, "/api/now/stats/"+url.PathEscape(table), q)
	if err != nil {
		return passthrough.ErrorResult(err)
	}

	var payload map[string]any
	if err := resp.Decode(&payload); err != nil {
		return registry.FailCause(registry.KindRemote, err, "response is not valid JSON")
	}
	return registry.OK(payload["result"])
}
