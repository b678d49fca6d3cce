package cmd

import (
	"github.com/spf13/cobra"

	"redgate/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server on stdio",
	Long: `Expose the gateway's tool catalogue (tracker queries, analytics,
cache control) over the Model Context Protocol on stdin/stdout, for use
by local agents and editors.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		gw, err := buildGateway()
		if err != nil {
			return err
		}
		return mcp.NewServer(gw.executor).ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
