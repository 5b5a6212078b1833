package events

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"hydragent/internal/link"
	"hydragent/internal/sync"
)

// Replayer applies modification events to the local cache through the sync
// engine. It satisfies Handler.
type Replayer struct {
	engine    *sync.Engine
	transport link.Transport
	logger    *log.Logger
}

// NewReplayer creates a replayer.
//
// If logger is nil, a default logger writing to stderr is used.
func NewReplayer(engine *sync.Engine, transport link.Transport, logger *log.Logger) *Replayer {
	if logger == nil {
		logger = log.New(os.Stderr, "[events] ", log.LstdFlags)
	}
	return &Replayer{
		engine:    engine,
		transport: transport,
		logger:    logger,
	}
}

// HandleEvent implements Handler.
//
// Deletes replay directly. Creates and replaces refetch the resource (the
// event doesn't carry the payload) and sync the fresh representation. A
// refetch that 404s means the resource is already gone again; the cache
// entry is dropped.
func (r *Replayer) HandleEvent(ctx context.Context, ev Event) error {
	switch strings.ToUpper(ev.Method) {
	case "DELETE":
		_, err := r.engine.SyncDelete(ctx, ev.URL)
		return err

	case "PUT", "POST", "GET":
		doc, err := r.transport.Fetch(ctx, ev.URL)
		if errors.Is(err, link.ErrNotFound) {
			_, err := r.engine.SyncDelete(ctx, ev.URL)
			return err
		}
		if err != nil {
			return err
		}

		// Replace-sync, so a POSTed update never leaves stale fields behind.
		_, err = r.engine.SyncReplace(ctx, ev.URL, doc)
		return err

	default:
		return fmt.Errorf("unknown event method %q", ev.Method)
	}
}
