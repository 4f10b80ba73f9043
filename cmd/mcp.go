package cmd

import (
	"context"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/prt/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets MCP clients list, add, move and approve pull requests and read
review statistics. Configure a client with:

  {
    "mcpServers": {
      "prt": { "command": "prt", "args": ["mcp"] }
    }
  }

Available tools: prt_list_prs, prt_add_pr, prt_transition, prt_approve,
prt_status_counts, prt_ranking, prt_list_projects`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	p, err := getPipeline()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	return mcp.NewServer(s, p, getLogger(), buildVersion).ServeStdio(ctx)
}
