package main

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/acuvity/mcp-servicenow/cmd/cli"
	"github.com/acuvity/mcp-servicenow/mcp"
)

func main() {

	name := "mcp-servicenow"
	description := "ServiceNow MCP Command Line Tool"
	version := "1.0.0"

	cobra.OnInitialize(func() {
		viper.SetEnvPrefix(name)
		viper.AutomaticEnv()
		viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	})

	var rootCmd = &cobra.Command{
		Use:   name,
		Short: description,
	}

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Prints the version and exit.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	var cliCommand = &cobra.Command{
		Use:   "cli <tool-name> [json-arguments]",
		Short: "Dispatch a single tool call and print the result.",
		RunE:  cli.Run,
	}

	rootCmd.AddCommand(
		versionCmd,
		cliCommand,
	)

	rootCmd.PersistentFlags().String("instance", "", "ServiceNow instance URL, e.g. https://dev12345.service-now.com")
	rootCmd.PersistentFlags().String("username", "", "ServiceNow username")
	rootCmd.PersistentFlags().String("password", "", "ServiceNow password")
	rootCmd.PersistentFlags().String("client-id", "", "OAuth client ID (enables OAuth instead of basic auth)")
	rootCmd.PersistentFlags().String("client-secret", "", "OAuth client secret")
	rootCmd.PersistentFlags().String("refresh-token", "", "OAuth refresh token to start from")
	rootCmd.PersistentFlags().String("role", "developer", "Caller role (admin, developer, stakeholder)")
	rootCmd.PersistentFlags().String("transport", "stdio", "MCP transport type (stdio or sse)")
	rootCmd.PersistentFlags().String("listen", ":8000", "Listen address for the sse transport")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "Per-request timeout for instance calls")

	_ = viper.BindPFlags(rootCmd.PersistentFlags())

	viper.SetConfigName("config") // name of the file (without extension)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".") // optionally look for config in the working directory

	// Read in the config
	_ = viper.ReadInConfig()

	rootCmd.RunE = mcp.Run
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err.Error())
	}
}
