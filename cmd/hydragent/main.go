// Command hydragent runs the hypermedia cache agent: a local graph cache of
// a remote hydra API, kept in sync as resources are read and written.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "hydragent",
	Short: "Graph-cached client agent for hydra APIs",
	Long: `hydragent keeps a local property-graph cache in sync with a remote
hydra (hypermedia) API.

Reads are served from the cache when possible; writes are forwarded to the
server and replayed onto the cache. Relationships between resources, such as
collection membership and embedded references, are stored as first-class
edges.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default ./hydragent.yaml, env HYDRAGENT_*)")
}
