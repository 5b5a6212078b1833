package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"hydragent/internal/sync"
	"hydragent/internal/ui"
)

var (
	getType    string
	getFilters []string
)

var getCmd = &cobra.Command{
	Use:   "get [url]",
	Short: "Read a resource, cache first",
	Long: `Read a resource by URL, or query cached resources by type.

With a URL, the cache is consulted first; on a miss the resource is fetched
from the server, synced into the cache, and its embedded references resolved.

With --type, only the cache is consulted; --filter key=value narrows the
matches (exact equality, repeatable).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, closeRT, err := openRuntime()
		if err != nil {
			return err
		}
		defer closeRT()

		ctx := context.Background()

		if len(args) == 1 {
			props, err := rt.agent.Get(ctx, args[0])
			if err != nil {
				return err
			}
			printProps(props)
			return nil
		}

		if getType == "" {
			return sync.ErrNoQuery
		}

		filters := make(map[string]string, len(getFilters))
		for _, f := range getFilters {
			key, value, ok := splitFilter(f)
			if !ok {
				return fmt.Errorf("invalid filter %q, want key=value", f)
			}
			filters[key] = value
		}

		result, err := rt.engine.GetResource(ctx, sync.Query{Type: getType, Filters: filters})
		if err != nil {
			return err
		}
		if !result.Hit {
			fmt.Printf("%s No cached %s resources match\n", ui.RenderDim("∅"), getType)
			return nil
		}
		for i, props := range result.Resources {
			if i > 0 {
				fmt.Println()
			}
			printProps(props)
		}
		return nil
	},
}

// splitFilter parses one key=value flag.
func splitFilter(f string) (string, string, bool) {
	for i := 0; i < len(f); i++ {
		if f[i] == '=' {
			return f[:i], f[i+1:], i > 0
		}
	}
	return "", "", false
}

// printProps writes a property map with stable key order.
func printProps(props map[string]string) {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		fmt.Printf("%s %s\n", ui.RenderAccent(k+":"), props[k])
	}
}

func init() {
	getCmd.Flags().StringVar(&getType, "type", "", "query cached resources of this class")
	getCmd.Flags().StringArrayVar(&getFilters, "filter", nil, "property filter key=value (repeatable)")
	rootCmd.AddCommand(getCmd)
}
