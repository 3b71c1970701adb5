package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/acuvity/mcp-servicenow/api/script"
	"github.com/acuvity/mcp-servicenow/api/stats"
	"github.com/acuvity/mcp-servicenow/api/table"
	"github.com/acuvity/mcp-servicenow/baggage"
	"github.com/acuvity/mcp-servicenow/client"
	"github.com/acuvity/mcp-servicenow/registry"
)

// envelope is the uniform result shape returned to the calling agent.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

func Run(cmd *cobra.Command, args []string) error {

	logger, err := BuildLogger(viper.GetString("log-level"))
	if err != nil {
		return fmt.Errorf("error building logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	provider, err := NewProvider(logger)
	if err != nil {
		return fmt.Errorf("error creating client provider: %v", err)
	}

	reg, failures := Discover(logger)
	if len(failures) > 0 {
		logger.Warn("registry built with failures", zap.Int("failed_tools", len(failures)))
	}

	// Create a new MCP server
	s := server.NewMCPServer(
		"ServiceNow MCP Server",
		"1.0.0",
	)

	for _, def := range reg.List(registry.Filter{}) {
		s.AddTool(advertise(def), toolHandler(reg, def.Name, provider, logger))
	}

	session := &baggage.Session{Role: viper.GetString("role")}

	// Start the server
	switch viper.GetString("transport") {
	case "stdio":
		if err := server.ServeStdio(s, server.WithStdioContextFunc(baggage.WithSession(session))); err != nil {
			return fmt.Errorf("server error: %v", err)
		}
	case "sse":
		listen := viper.GetString("listen")
		sseServer := server.NewSSEServer(s,
			server.WithBaseURL("http://localhost"+listen),
			server.WithSSEContextFunc(baggage.WithSessionFromRequest(session)),
		)
		if sseServer == nil {
			return fmt.Errorf("server error: could not create SSE server")
		}
		logger.Info("serving", zap.String("transport", "sse"), zap.String("listen", listen))
		if err := sseServer.Start(listen); err != nil {
			return fmt.Errorf("server error: %v", err)
		}
	default:
		return fmt.Errorf("invalid transport type: '%s'. Must be 'stdio' or 'sse'", viper.GetString("transport"))
	}
	return nil
}

// Discover builds the registry from every api package's definitions.
func Discover(logger *zap.Logger) (*registry.Registry, []error) {
	return registry.Discover(logger,
		table.Source(),
		stats.Source(),
		script.Source(),
	)
}

// NewProvider assembles the authenticated client provider from the
// resolved configuration.
func NewProvider(logger *zap.Logger) (*client.Provider, error) {
	return client.NewProvider(client.Config{
		Instance:     viper.GetString("instance"),
		Username:     viper.GetString("username"),
		Password:     viper.GetString("password"),
		ClientID:     viper.GetString("client-id"),
		ClientSecret: viper.GetString("client-secret"),
		RefreshToken: viper.GetString("refresh-token"),
		Timeout:      viper.GetDuration("timeout"),
		Logger:       logger,
	})
}

// advertise converts a definition to its MCP tool form. Discovery
// metadata (category, use cases, complexity) stays registry-internal;
// only name, description, and input schema reach the calling agent.
func advertise(def registry.Definition) mcp.Tool {
	schema := def.InputSchema
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		// Registration compiled this schema already; this cannot fail.
		raw = []byte(`{"type":"object"}`)
	}
	return mcp.NewToolWithRawSchema(def.Name, def.Description, raw)
}

// toolHandler adapts registry dispatch to the MCP handler contract.
// Dispatch never returns a raw error, so the protocol layer always
// receives a structured envelope.
func toolHandler(reg *registry.Registry, name string, provider *client.Provider, logger *zap.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {

		role := viper.GetString("role")
		if s := baggage.SessionFromContext(ctx); s != nil && s.Role != "" {
			role = s.Role
		}

		ec := &registry.Context{
			Instance:  provider.Instance(),
			Role:      registry.Role(role),
			SessionID: uuid.NewString(),
			Clients:   provider,
		}

		res := reg.Dispatch(ctx, name, request.Params.Arguments, ec)

		var env envelope
		if res.Err != nil {
			env = envelope{Success: false, Error: res.Err.Message, Kind: string(res.Err.Kind)}
		} else {
			env = envelope{Success: true, Data: res.Data}
		}

		data, err := json.Marshal(env)
		if err != nil {
			logger.Error("result not serializable", zap.String("tool", name), zap.Error(err))
			return mcp.NewToolResultError("result not serializable"), nil
		}
		if res.Err != nil {
			return mcp.NewToolResultError(string(data)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

// BuildLogger constructs the process logger at the given level.
func BuildLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	return cfg.Build()
}
