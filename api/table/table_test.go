package table

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/acuvity/mcp-servicenow/client"
	"github.com/acuvity/mcp-servicenow/registry"
)

type capture struct {
	calls  atomic.Int64
	path   string
	query  map[string]string
	method string
	body   map[string]any
}

func newInstance(t *testing.T, status int, payload any) (*httptest.Server, *capture) {
	t.Helper()
	c := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.calls.Add(1)
		c.path = r.URL.Path
		c.method = r.Method
		c.query = map[string]string{}
		for k, v := range r.URL.Query() {
			c.query[k] = v[0]
		}
		if r.Body != nil {
			data, _ := io.ReadAll(r.Body)
			if len(data) > 0 {
				_ = json.Unmarshal(data, &c.body)
			}
		}
		w.WriteHeader(status)
		if payload != nil {
			_ = json.NewEncoder(w).Encode(payload)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func buildRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, failures := registry.Discover(zap.NewNop(), Source())
	require.Empty(t, failures)
	return reg
}

func execContext(t *testing.T, instance string, role registry.Role) *registry.Context {
	t.Helper()
	p, err := client.NewProvider(client.Config{
		Instance: instance,
		Username: "agent",
		Password: "pw",
	})
	require.NoError(t, err)
	return &registry.Context{
		Instance:  p.Instance(),
		Role:      role,
		SessionID: "test-session",
		Clients:   p,
	}
}

func TestListRecordsBuildsEncodedQuery(t *testing.T) {
	srv, c := newInstance(t, http.StatusOK, map[string]any{
		"result": []any{map[string]any{"number": "INC0010001"}},
	})
	reg := buildRegistry(t)

	res := reg.Dispatch(context.Background(), "list_records", map[string]any{
		"table": "incident",
		"filters": []any{
			map[string]any{"field": "active", "operator": "=", "value": "true"},
			map[string]any{"field": "priority", "operator": "=", "value": "1"},
			map[string]any{"field": "priority", "operator": "=", "value": "2", "or": true},
		},
		"order_by": "number",
		"limit":    5,
		"fields":   "number,short_description",
	}, execContext(t, srv.URL, registry.RoleStakeholder))

	require.Nil(t, res.Err)
	assert.Equal(t, "/api/now/table/incident", c.path)
	assert.Equal(t, "active=true^priority=1^ORpriority=2^ORDERBYnumber", c.query["sysparm_query"])
	assert.Equal(t, "5", c.query["sysparm_limit"])
	assert.Equal(t, "number,short_description", c.query["sysparm_fields"])

	records, ok := res.Data.([]any)
	require.True(t, ok)
	require.Len(t, records, 1)
}

func TestListRecordsUnknownOperator(t *testing.T) {
	srv, c := newInstance(t, http.StatusOK, nil)
	reg := buildRegistry(t)

	res := reg.Dispatch(context.Background(), "list_records", map[string]any{
		"table": "incident",
		"filters": []any{
			map[string]any{"field": "active", "operator": "resembles", "value": "true"},
		},
	}, execContext(t, srv.URL, registry.RoleDeveloper))

	require.NotNil(t, res.Err)
	assert.Equal(t, registry.KindValidation, res.Err.Kind)
	assert.Equal(t, int64(0), c.calls.Load())
}

func TestGetRecord(t *testing.T) {
	srv, c := newInstance(t, http.StatusOK, map[string]any{
		"result": map[string]any{"sys_id": "abc", "number": "INC0010001"},
	})
	reg := buildRegistry(t)

	res := reg.Dispatch(context.Background(), "get_record", map[string]any{
		"table":  "incident",
		"sys_id": "abc",
	}, execContext(t, srv.URL, registry.RoleStakeholder))

	require.Nil(t, res.Err)
	assert.Equal(t, "/api/now/table/incident/abc", c.path)
	assert.Equal(t, "GET", c.method)
	assert.Equal(t, map[string]any{"sys_id": "abc", "number": "INC0010001"}, res.Data)
}

func TestCreateRecord(t *testing.T) {
	srv, c := newInstance(t, http.StatusCreated, map[string]any{
		"result": map[string]any{"sys_id": "new"},
	})
	reg := buildRegistry(t)

	res := reg.Dispatch(context.Background(), "create_record", map[string]any{
		"table": "incident",
		"data":  map[string]any{"short_description": "printer on fire"},
	}, execContext(t, srv.URL, registry.RoleDeveloper))

	require.Nil(t, res.Err)
	assert.Equal(t, "POST", c.method)
	assert.Equal(t, map[string]any{"short_description": "printer on fire"}, c.body)
}

// A write call missing a required field must be rejected before any
// network traffic happens.
func TestCreateRecordMissingDataFieldNoNetworkCall(t *testing.T) {
	srv, c := newInstance(t, http.StatusCreated, nil)
	reg := buildRegistry(t)

	res := reg.Dispatch(context.Background(), "create_record", map[string]any{
		"table": "incident",
	}, execContext(t, srv.URL, registry.RoleDeveloper))

	require.NotNil(t, res.Err)
	assert.Equal(t, registry.KindValidation, res.Err.Kind)
	assert.Contains(t, res.Err.Error(), "data")
	assert.Equal(t, int64(0), c.calls.Load())
}

func TestWriteToolsDenyStakeholder(t *testing.T) {
	srv, c := newInstance(t, http.StatusOK, nil)
	reg := buildRegistry(t)

	for _, tool := range []string{"create_record", "update_record", "delete_record"} {
		res := reg.Dispatch(context.Background(), tool, map[string]any{
			"table":  "incident",
			"sys_id": "abc",
			"data":   map[string]any{},
		}, execContext(t, srv.URL, registry.RoleStakeholder))
		require.NotNil(t, res.Err, tool)
		assert.Equal(t, registry.KindPermissionDenied, res.Err.Kind, tool)
	}
	assert.Equal(t, int64(0), c.calls.Load())
}

func TestDeleteRecord(t *testing.T) {
	srv, c := newInstance(t, http.StatusNoContent, nil)
	reg := buildRegistry(t)

	res := reg.Dispatch(context.Background(), "delete_record", map[string]any{
		"table":  "incident",
		"sys_id": "abc",
	}, execContext(t, srv.URL, registry.RoleAdmin))

	require.Nil(t, res.Err)
	assert.Equal(t, "DELETE", c.method)
	assert.Equal(t, "/api/now/table/incident/abc", c.path)
}

func TestRemoteFailureMapsToRemoteKind(t *testing.T) {
	srv, _ := newInstance(t, http.StatusForbidden, map[string]any{
		"error": map[string]any{"message": "insufficient rights"},
	})
	reg := buildRegistry(t)

	res := reg.Dispatch(context.Background(), "get_record", map[string]any{
		"table":  "incident",
		"sys_id": "abc",
	}, execContext(t, srv.URL, registry.RoleDeveloper))

	require.NotNil(t, res.Err)
	assert.Equal(t, registry.KindRemote, res.Err.Kind)
}
