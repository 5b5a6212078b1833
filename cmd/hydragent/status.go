package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"hydragent/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache status",
	Long:  `Display the cache graph's size and location.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, closeRT, err := openRuntime()
		if err != nil {
			return err
		}
		defer closeRT()

		ctx := context.Background()

		nodes, err := rt.store.NodeCount(ctx)
		if err != nil {
			return err
		}
		edges, err := rt.store.EdgeCount(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("%s Cache: %s\n", ui.RenderAccent("●"), rt.store.Path())
		fmt.Printf("   Server: %s\n", rt.cfg.ServerURL)
		fmt.Printf("   Vocabulary: %s\n", rt.cfg.VocabFile)
		fmt.Printf("   Nodes: %d\n", nodes)
		fmt.Printf("   Edges: %d\n", edges)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
