package cli

import (
	"github.com/spf13/cobra"

	"github.com/tbourn/transcript-chat/internal/server"
)

func newServeCmd(e *env) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := e.cfg
			if port != "" {
				cfg.Port = port
			}
			return server.Run(cmd.Context(), cfg, Version)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "override PORT")
	return cmd
}
