package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	stdsync "sync"
	"syscall"

	"github.com/spf13/cobra"

	"hydragent/internal/agent"
	"hydragent/internal/events"
	"hydragent/internal/ui"
	"hydragent/internal/vocab"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent: bootstrap the cache and follow the server's feed",
	Long: `Run the agent as a long-lived process.

On startup the cache graph is seeded from the vocabulary document (class
anchors and collection nodes). The agent then:
  1. Watches the vocabulary file and reloads the schema index on change
  2. Subscribes to the server's modification feed (when events_url is set)
     and replays each write onto the cache`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, closeRT, err := openRuntime()
		if err != nil {
			return err
		}
		defer closeRT()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := rt.engine.Bootstrap(ctx); err != nil {
			return fmt.Errorf("bootstrap failed: %w", err)
		}
		fmt.Printf("%s Cache bootstrapped from %s\n", ui.RenderPass("✓"), rt.cfg.VocabFile)

		var wg stdsync.WaitGroup

		// Vocabulary watcher: swap the index and re-seed on change.
		watcher, err := agent.NewWatcher(rt.cfg.VocabFile, func(idx *vocab.Index) error {
			rt.engine.SetIndex(idx)
			return rt.engine.Bootstrap(context.Background())
		}, &agent.WatcherConfig{
			DebounceInterval: agent.DefaultWatcherConfig().DebounceInterval,
			Logger:           rt.logger,
		})
		if err != nil {
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := watcher.Start(ctx); err != nil {
				rt.logger.Printf("Watcher stopped: %v", err)
			}
		}()

		// Modification feed: replay server-side writes.
		if rt.cfg.EventsURL != "" {
			replayer := events.NewReplayer(rt.engine, rt.client, rt.logger)
			listener, err := events.NewListener(rt.cfg.EventsURL, replayer, &events.Config{
				ReconnectBackoff:    events.DefaultConfig().ReconnectBackoff,
				MaxReconnectBackoff: events.DefaultConfig().MaxReconnectBackoff,
				Logger:              rt.logger,
			})
			if err != nil {
				return err
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := listener.Start(ctx); err != nil {
					rt.logger.Printf("Events listener stopped: %v", err)
				}
			}()
			fmt.Printf("%s Following %s\n", ui.RenderAccent("⇅"), rt.cfg.EventsURL)
		}

		fmt.Printf("%s Agent running (cache: %s)\n", ui.RenderAccent("●"), rt.store.Path())

		<-ctx.Done()
		rt.logger.Println("Shutdown signal received")
		wg.Wait()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
