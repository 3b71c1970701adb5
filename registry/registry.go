// Package registry is the single source of truth mapping tool names to
// definitions and handlers. It owns discovery, enumeration, argument
// validation, and permission-gated dispatch. Dispatch is the one
// sanctioned entry point for invoking a tool: it guarantees every call
// returns a Result, never a raw error or panic, because the calling
// agent must receive structured failure reasons.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"
)

// Registration failure reasons.
var (
	ErrDuplicateName = errors.New("duplicate tool name")
	ErrInvalidSchema = errors.New("invalid input schema")
	ErrRoleMismatch  = errors.New("role set inconsistent with permission")
)

type entry struct {
	def    Definition
	schema *jsonschema.Schema
}

// Registry holds the immutable name→definition index. It is built once
// by Discover (or a sequence of Register calls) before serving; after
// that it is read-only and safe for unlimited concurrent dispatch.
type Registry struct {
	byName map[string]*entry
	logger *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		byName: make(map[string]*entry),
		logger: logger,
	}
}

// Register validates and indexes a tool definition. The schema is
// compiled here so dispatch never pays compilation cost and malformed
// schemas are caught at startup rather than first call.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("%w: empty tool name", ErrInvalidSchema)
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %q: %w: nil handler", def.Name, ErrInvalidSchema)
	}
	if _, exists := r.byName[def.Name]; exists {
		return fmt.Errorf("tool %q: %w", def.Name, ErrDuplicateName)
	}
	if err := checkRoleConsistency(&def); err != nil {
		return fmt.Errorf("%v: %w", err, ErrRoleMismatch)
	}

	var sch *jsonschema.Schema
	if def.InputSchema != nil {
		var err error
		sch, err = compileSchema(def.Name, def.InputSchema)
		if err != nil {
			return fmt.Errorf("tool %q: %w: %v", def.Name, ErrInvalidSchema, err)
		}
	}

	r.byName[def.Name] = &entry{def: def, schema: sch}
	return nil
}

// Source is one batch of tool definitions, typically the export of one
// api package.
type Source struct {
	Name        string
	Definitions []Definition
}

// Discover builds a registry from the given sources. A malformed
// definition never prevents the rest from loading: failures are
// collected and returned alongside the registry so the operator sees
// them while the server still comes up with the good subset.
func Discover(logger *zap.Logger, sources ...Source) (*Registry, []error) {
	r := New(logger)
	var failures []error
	for _, src := range sources {
		for _, def := range src.Definitions {
			if err := r.Register(def); err != nil {
				err = fmt.Errorf("source %q: %w", src.Name, err)
				r.logger.Error("tool failed to load", zap.String("source", src.Name), zap.Error(err))
				failures = append(failures, err)
				continue
			}
		}
		r.logger.Debug("source loaded", zap.String("source", src.Name), zap.Int("tools", len(src.Definitions)))
	}
	r.logger.Info("registry built",
		zap.Int("tools", len(r.byName)),
		zap.Int("failures", len(failures)),
	)
	return r, failures
}

// Filter narrows List results by discovery metadata and role visibility.
type Filter struct {
	Category string
	Role     Role
}

// List returns the definitions matching the filter, sorted by name.
// A zero filter returns everything.
func (r *Registry) List(f Filter) []Definition {
	defs := make([]Definition, 0, len(r.byName))
	for _, e := range r.byName {
		if f.Category != "" && e.def.Category != f.Category {
			continue
		}
		if f.Role != "" && checkPermission(&e.def, f.Role) != nil {
			continue
		}
		defs = append(defs, e.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Get returns the definition for a name.
func (r *Registry) Get(name string) (Definition, error) {
	e, ok := r.byName[name]
	if !ok {
		return Definition{}, fmt.Errorf("tool %q is not registered", name)
	}
	return e.def, nil
}

// Len reports the number of registered tools.
func (r *Registry) Len() int { return len(r.byName) }

// Dispatch routes a call to the named tool: lookup, permission check,
// argument validation, then handler invocation. Validation and
// permission failures are rejected before the handler runs, so a
// denied or malformed call never causes side effects. Any panic inside
// the handler is converted to an error Result here; nothing escapes to
// the server shell.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any, ec *Context) (res Result) {
	start := time.Now()

	e, ok := r.byName[name]
	if !ok {
		return Fail(KindNotFound, "tool %q is not registered", name)
	}

	if err := checkPermission(&e.def, ec.Role); err != nil {
		r.logger.Debug("permission denied",
			zap.String("tool", name),
			zap.String("role", string(ec.Role)),
			zap.String("session_id", ec.SessionID),
		)
		return FailCause(KindPermissionDenied, err, "permission denied for tool %q", name)
	}

	if err := e.validateArgs(args); err != nil {
		return FailCause(KindValidation, err, "invalid arguments for tool %q", name)
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool handler panicked",
				zap.String("tool", name),
				zap.Any("panic", rec),
			)
			res = Fail(KindHandler, "tool %q failed internally", name)
		}
		r.logger.Debug("dispatch complete",
			zap.String("tool", name),
			zap.String("session_id", ec.SessionID),
			zap.Duration("duration", time.Since(start)),
			zap.Bool("success", res.Err == nil),
		)
	}()

	return e.def.Handler(ctx, args, ec)
}
