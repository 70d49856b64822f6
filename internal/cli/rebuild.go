package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newRebuildCmd(e *env) *cobra.Command {
	var failInterrupted bool
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the vector index from the relational store",
		Long: `Rebuild the vector index from the embeddings stored with every chunk of
an indexed video. Use it after switching INDEX_BACKEND or when the index
file was lost.

With --fail-interrupted, videos left chunking or embedding by a crashed
process are marked failed first so they can be ingested again. Do not use
it while a server is ingesting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := e.build(e.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			start := time.Now()
			load := a.LoadIndex
			if failInterrupted {
				load = a.Recover
			}
			n, err := load(ctx)
			if err != nil {
				return fmt.Errorf("rebuild: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Index rebuilt: %d vectors in %s\n", n, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().BoolVar(&failInterrupted, "fail-interrupted", false, "mark in-flight videos of a crashed process as failed")
	return cmd
}
