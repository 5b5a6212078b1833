package sync

import (
	"context"
	"fmt"

	"hydragent/internal/graph"
)

// Bootstrap seeds the static layer of the cache graph from the vocabulary:
// one class anchor per documented class and one collection node per
// collection endpoint, with empty membership lists.
//
// Idempotent: nodes that already exist are left untouched, so it is safe to
// run at every startup and after a vocabulary reload.
func (e *Engine) Bootstrap(ctx context.Context) error {
	idx := e.Index()

	seeded := 0
	for _, class := range idx.Classes() {
		_, found, err := e.adapter.FindOne(ctx, labelClasses, graph.ByID(class.IRI))
		if err != nil {
			return fmt.Errorf("failed to look up class anchor %s: %w", class.Title, err)
		}
		if !found {
			e.adapter.CreateNode(labelClasses, class.IRI, graph.Properties{
				"type": class.Title,
			})
			seeded++
		}

		if !class.Collection {
			continue
		}

		collectionID := idx.CollectionID(class.Title)
		_, found, err = e.adapter.FindOne(ctx, labelCollection, graph.ByID(collectionID))
		if err != nil {
			return fmt.Errorf("failed to look up collection node %s: %w", collectionID, err)
		}
		if !found {
			e.adapter.CreateNode(labelCollection, collectionID, graph.Properties{
				"type":      class.Title,
				"instances": "[]",
				"members":   "[]",
			})
			seeded++
		}
	}

	if err := e.adapter.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit bootstrap nodes: %w", err)
	}

	if seeded > 0 {
		e.logger.Printf("bootstrap seeded %d graph nodes", seeded)
	}
	return nil
}
