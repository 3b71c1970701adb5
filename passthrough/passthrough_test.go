package passthrough

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

	"github.com/acuvity/mcp-servicenow/client"
	"github.com/acuvity/mcp-servicenow/registry"
)

func testContext(t *testing.T, instance string) *registry.Context {
	t.Helper()
	p, err := client.NewProvider(client.Config{
		Instance: instance,
		Username: "agent",
		Password: "pw",
	})
	require.NoError(t, err)
	return &registry.Context{
		Instance:  p.Instance(),
		Role:      registry.RoleDeveloper,
		SessionID: "test-session",
		Clients:   p,
	}
}

func TestSpecRendersPathAndQuery(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Encode()
		_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"sys_id": "abc"}})
	}))
	defer srv.Close()

	h := Spec{
		Method:      "GET",
		Path:        "/api/now/table/{table}/{sys_id}",
		Query:       map[string]string{"sysparm_display_value": "true"},
		QueryArgs:   map[string]string{"sysparm_fields": "fields"},
		ResponseKey: "result",
	}.Build()

	res := h(context.Background(), map[string]any{
		"table":  "incident",
		"sys_id": "abc",
		"fields": "number,state",
	}, testContext(t, srv.URL))

	require.Nil(t, res.Err)
	assert.Equal(t, "/api/now/table/incident/abc", gotPath)
	assert.Contains(t, gotQuery, "sysparm_display_value=true")
	assert.Contains(t, gotQuery, "sysparm_fields=number%2Cstate")
	assert.Equal(t, map[string]any{"sys_id": "abc"}, res.Data)
}

func TestSpecPostsBodyArg(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"sys_id": "new"}})
	}))
	defer srv.Close()

	h := Spec{
		Method:      "POST",
		Path:        "/api/now/table/{table}",
		BodyArg:     "data",
		ResponseKey: "result",
	}.Build()

	res := h(context.Background(), map[string]any{
		"table": "incident",
		"data":  map[string]any{"short_description": "printer on fire"},
	}, testContext(t, srv.URL))

	require.Nil(t, res.Err)
	assert.Equal(t, map[string]any{"short_description": "printer on fire"}, gotBody)
	assert.Equal(t, map[string]any{"sys_id": "new"}, res.Data)
}

func TestSpecMissingPlaceholderIsValidationError(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	h := Spec{Method: "GET", Path: "/api/now/table/{table}"}.Build()
	res := h(context.Background(), map[string]any{}, testContext(t, srv.URL))

	require.NotNil(t, res.Err)
	assert.Equal(t, registry.KindValidation, res.Err.Kind)
	assert.Contains(t, res.Err.Error(), "table")
	assert.Equal(t, int64(0), calls.Load(), "no HTTP call on validation failure")
}

func TestSpecMapsRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h := Spec{Method: "GET", Path: "/api/now/table/{table}"}.Build()
	res := h(context.Background(), map[string]any{"table": "incident"}, testContext(t, srv.URL))

	require.NotNil(t, res.Err)
	assert.Equal(t, registry.KindRemote, res.Err.Kind)
}

func TestSpecMapsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	h := Spec{Method: "GET", Path: "/api/now/table/{table}"}.Build()
	res := h(context.Background(), map[string]any{"table": "incident"}, testContext(t, srv.URL))

	require.NotNil(t, res.Err)
	assert.Equal(t, registry.KindTransport, res.Err.Kind)
}

func TestSpecMapsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth_token.do" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	p, err := client.NewProvider(client.Config{
		Instance:     srv.URL,
		Username:     "agent",
		Password:     "pw",
		ClientID:     "client",
		ClientSecret: "secret",
	})
	require.NoError(t, err)
	ec := &registry.Context{Role: registry.RoleDeveloper, Clients: p}

	h := Spec{Method: "GET", Path: "/api/now/table/{table}"}.Build()
	res := h(context.Background(), map[string]any{"table": "incident"}, ec)

	require.NotNil(t, res.Err)
	assert.Equal(t, registry.KindAuth, res.Err.Kind)
}

func TestRenderPath(t *testing.T) {
	path, err := renderPath("/api/now/table/{table}/{sys_id}", map[string]any{
		"table":  "sys_user",
		"sys_id": "1 2",
	})
	require.NoError(t, err)
	assert.Equal(t, "/api/now/table/sys_user/1%202", path)

	_, err = renderPath("/api/{a", map[string]any{"a": "x"})
	require.Error(t, err)
}

func TestArgString(t *testing.T) {
	assert.Equal(t, "abc", argString("abc"))
	assert.Equal(t, "10", argString(float64(10)))
	assert.Equal(t, "2.5", argString(2.5))
	assert.Equal(t, "true", argString(true))
	assert.Equal(t, "7", argString(7))
}
