package registry

import (
	"context"
	"fmt"

	"github.com/acuvity/mcp-servicenow/client"
)

// Role identifies the caller of a tool.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleDeveloper   Role = "developer"
	RoleStakeholder Role = "stakeholder"
)

// Permission classifies the side effects of a tool's underlying operation.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
)

// readOnlyRoles are roles that must never appear in the allowed set of a
// write-classified tool.
var readOnlyRoles = map[Role]bool{
	RoleStakeholder: true,
}

// Definition describes a single tool: its schema, discovery metadata,
// permission requirements, and the handler that executes it.
type Definition struct {
	Name        string
	Description string

	// InputSchema is a JSON Schema object describing accepted arguments.
	// Compiled once at registration; arguments are validated against it
	// on every dispatch before the handler runs.
	InputSchema map[string]any

	// Discovery metadata. Used for registry filtering only; never
	// advertised to the calling agent.
	Category    string
	Subcategory string
	UseCases    []string
	Complexity  string
	Frequency   string

	// Permission is the side-effect classification of the operation.
	Permission Permission

	// AllowedRoles is the set of roles permitted to invoke the tool.
	// Empty means unrestricted (legacy tools predate the permission
	// system and are treated as default-allow).
	AllowedRoles []Role

	Handler Handler
}

// Handler executes a tool call. Handlers return failures inside the
// Result envelope; they never panic past the registry boundary.
type Handler func(ctx context.Context, args map[string]any, ec *Context) Result

// Context carries per-call data into a handler. It is built by the
// server shell for each call and is read-only from the handler's side.
type Context struct {
	Instance  string
	Role      Role
	SessionID string
	Clients   *client.Provider
}

// Kind is a machine-readable failure classification, surfaced in the
// result envelope so the calling agent can branch behavior.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindValidation       Kind = "validation_error"
	KindPermissionDenied Kind = "permission_denied"
	KindAuth             Kind = "auth_error"
	KindTransport        Kind = "transport_error"
	KindRemote           Kind = "remote_error"
	KindHandler          Kind = "handler_error"
)

// Error is the failure half of a Result.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Result is the uniform envelope every tool call returns.
type Result struct {
	Data any
	Err  *Error
}

// OK wraps data in a successful Result.
func OK(data any) Result {
	return Result{Data: data}
}

// Fail builds an error Result with the given kind.
func Fail(kind Kind, format string, args ...any) Result {
	return Result{Err: &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}}
}

// FailCause builds an error Result carrying an underlying cause.
func FailCause(kind Kind, cause error, format string, args ...any) Result {
	return Result{Err: &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}}
}
