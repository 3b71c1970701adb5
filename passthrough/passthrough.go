// Package passthrough interprets declarative REST call specs as tool
// handlers. The overwhelming majority of tools are "validate, issue one
// HTTP call, wrap the result" — those are expressed as a Spec record
// here instead of bespoke handler code. Only tools with real branching
// logic carry their own handler bodies.
package passthrough

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/acuvity/mcp-servicenow/client"
	"github.com/acuvity/mcp-servicenow/registry"
)

// Spec declares one REST passthrough call.
type Spec struct {
	// Method is the HTTP verb.
	Method string

	// Path is the endpoint template. Segments like {table} are filled
	// from the argument of the same name and path-escaped.
	Path string

	// Query holds fixed query parameters sent on every call.
	Query map[string]string

	// QueryArgs maps query parameter names to argument names; absent
	// arguments are simply omitted.
	QueryArgs map[string]string

	// BodyArg names an object-valued argument used as the JSON request
	// body. Empty means no body.
	BodyArg string

	// ResponseKey, when set, unwraps that key from the decoded response
	// object (ServiceNow wraps payloads as {"result": ...}).
	ResponseKey string
}

// Build produces the registry handler executing the declared call.
func (s Spec) Build() registry.Handler {
	return func(ctx context.Context, args map[string]any, ec *registry.Context) registry.Result {
		cl, err := ec.Clients.GetClient(ctx)
		if err != nil {
			return ErrorResult(err)
		}

		path, err := renderPath(s.Path, args)
		if err != nil {
			return registry.FailCause(registry.KindValidation, err, "cannot build request path")
		}

		q := url.Values{}
		for name, value := range s.Query {
			q.Set(name, value)
		}
		for name, argName := range s.QueryArgs {
			if v, ok := args[argName]; ok {
				q.Set(name, argString(v))
			}
		}

		var body any
		if s.BodyArg != "" {
			if v, ok := args[s.BodyArg]; ok {
				body = v
			}
		}

		var resp *client.Response
		switch s.Method {
		case "GET":
			resp, err = cl.Get(ctx, path, q)
		case "POST":
			resp, err = cl.Post(ctx, withQuery(path, q), body)
		case "PATCH":
			resp, err = cl.Patch(ctx, withQuery(path, q), body)
		case "PUT":
			resp, err = cl.Put(ctx, withQuery(path, q), body)
		case "DELETE":
			resp, err = cl.Delete(ctx, withQuery(path, q))
		default:
			return registry.Fail(registry.KindHandler, "unsupported method %q", s.Method)
		}
		if err != nil {
			return ErrorResult(err)
		}

		return s.decode(resp)
	}
}

func (s Spec) decode(resp *client.Response) registry.Result {
	if len(resp.Body) == 0 {
		return registry.OK(map[string]any{"status": resp.Status})
	}
	var payload any
	if err := resp.Decode(&payload); err != nil {
		return registry.FailCause(registry.KindRemote, err, "response is not valid JSON")
	}
	if s.ResponseKey != "" {
		if obj, ok := payload.(map[string]any); ok {
			if inner, ok := obj[s.ResponseKey]; ok {
				return registry.OK(inner)
			}
		}
	}
	return registry.OK(payload)
}

// ErrorResult maps the client error taxonomy onto result kinds. Tools
// with bespoke handlers use it too so every failure reaches the agent
// with the same classification.
func ErrorResult(err error) registry.Result {
	var authErr *client.AuthError
	var transportErr *client.TransportError
	var remoteErr *client.RemoteError
	switch {
	case errors.As(err, &authErr):
		return registry.FailCause(registry.KindAuth, err, "authentication failed")
	case errors.As(err, &transportErr):
		return registry.FailCause(registry.KindTransport, err, "request failed")
	case errors.As(err, &remoteErr):
		return registry.FailCause(registry.KindRemote, err, "instance returned status %d", remoteErr.Status)
	default:
		return registry.FailCause(registry.KindHandler, err, "tool call failed")
	}
}

// renderPath substitutes {name} placeholders from args.
func renderPath(template string, args map[string]any) (string, error) {
	var sb strings.Builder
	rest := template
	for {
		open := strings.Index(rest, "{")
		if open < 0 {
			sb.WriteString(rest)
			return sb.String(), nil
		}
		closing := strings.Index(rest[open:], "}")
		if closing < 0 {
			return "", fmt.Errorf("unbalanced placeholder in path template %q", template)
		}
		name := rest[open+1 : open+closing]
		v, ok := args[name]
		if !ok {
			return "", fmt.Errorf("missing required field %q", name)
		}
		sb.WriteString(rest[:open])
		sb.WriteString(url.PathEscape(argString(v)))
		rest = rest[open+closing+1:]
	}
}

// argString renders an argument value as a query/path string. JSON
// numbers arrive as float64; integral ones must not print a decimal
// point.
func argString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// withQuery appends encoded query parameters to a path for the verbs
// whose client signature has no query argument.
func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}
