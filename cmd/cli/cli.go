package cli

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/acuvity/mcp-servicenow/mcp"
	"github.com/acuvity/mcp-servicenow/registry"
)

// Run dispatches a single tool call from the command line and prints
// the result envelope: `mcp-servicenow cli <tool> ['{"json":"args"}']`.
func Run(cmd *cobra.Command, args []string) error {

	if len(args) < 1 {
		return fmt.Errorf("usage: cli <tool-name> [json-arguments]")
	}
	toolName := args[0]

	toolArgs := map[string]any{}
	if len(args) > 1 {
		if err := json.Unmarshal([]byte(args[1]), &toolArgs); err != nil {
			return fmt.Errorf("error parsing arguments: %v", err)
		}
	}

	logger, err := mcp.BuildLogger(viper.GetString("log-level"))
	if err != nil {
		return fmt.Errorf("error building logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	provider, err := mcp.NewProvider(logger)
	if err != nil {
		return fmt.Errorf("error creating client provider: %v", err)
	}

	reg, _ := mcp.Discover(logger)

	ec := &registry.Context{
		Instance:  provider.Instance(),
		Role:      registry.Role(viper.GetString("role")),
		SessionID: uuid.NewString(),
		Clients:   provider,
	}

	res := reg.Dispatch(cmd.Context(), toolName, toolArgs, ec)
	if res.Err != nil {
		out, _ := json.MarshalIndent(map[string]any{
			"success": false,
			"error":   res.Err.Message,
			"kind":    res.Err.Kind,
		}, "", "  ")
		fmt.Println(string(out))
		return nil
	}

	out, err := json.MarshalIndent(map[string]any{"success": true, "data": res.Data}, "", "  ")
	if err != nil {
		return fmt.Errorf("error rendering result: %v", err)
	}
	fmt.Println(string(out))
	return nil
}
