package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
)

// Predicate is a boolean condition over a single node's property map.
// A nil Predicate matches every node.
type Predicate func(Properties) bool

// ByID matches nodes whose "id" property equals id exactly.
func ByID(id string) Predicate {
	return func(p Properties) bool {
		return p["id"] == id
	}
}

// ByProps matches nodes whose properties contain every given key with an
// exactly equal value.
func ByProps(want Properties) Predicate {
	return func(p Properties) bool {
		for k, v := range want {
			if p[k] != v {
				return false
			}
		}
		return true
	}
}

// pendingNode is a node created but not yet committed to the store.
type pendingNode struct {
	label string
	props Properties
}

// Adapter exposes the match/filter/create/update/delete/relate primitives the
// sync engine mutates the cache graph through.
//
// CreateNode buffers new nodes in memory; Commit flushes the buffer to the
// store in a single transaction. Edge creation and lookups only see
// committed nodes, so callers must Commit before relating or reading nodes
// they just created. This ordering contract exists because edge creation
// requires both endpoints to already be resolvable by the store.
//
// The adapter does not enforce uniqueness of node ids: creating two nodes
// with the same id produces two distinct nodes. Callers are responsible for
// removing any prior node with the same id before recreating it.
//
// Zero matches is a normal outcome for every operation here, never an error.
type Adapter struct {
	store  *Store
	logger *log.Logger

	pendingMu sync.Mutex
	pending   []pendingNode

	// flushMu serializes entire Commit flushes. A concurrent Commit may
	// take this caller's buffered nodes with its own batch; the caller
	// must then block until that flush is durable, not return early.
	flushMu sync.Mutex
}

// NewAdapter creates an adapter over an open store.
//
// If logger is nil, a default logger writing to stderr is used.
func NewAdapter(store *Store, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.New(os.Stderr, "[graph] ", log.LstdFlags)
	}
	return &Adapter{
		store:  store,
		logger: logger,
	}
}

// matchNodes returns all committed nodes matching an optional label and an
// optional predicate, with their row ids.
func (a *Adapter) matchNodes(ctx context.Context, label string, pred Predicate) ([]storedNode, error) {
	query := `SELECT node_id, props FROM nodes`
	var args []interface{}

	if label != "" {
		query += ` WHERE label = ?`
		args = append(args, label)
	}

	rows, err := a.store.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	nodes, err := scanNodes(rows)
	if err != nil {
		return nil, err
	}

	if pred == nil {
		return nodes, nil
	}

	matched := nodes[:0]
	for _, n := range nodes {
		if pred(n.props) {
			matched = append(matched, n)
		}
	}
	return matched, nil
}

// FindOne returns the first node matching the optional label and predicate.
// Absence is a normal outcome, reported by the bool, not an error.
func (a *Adapter) FindOne(ctx context.Context, label string, pred Predicate) (Properties, bool, error) {
	nodes, err := a.matchNodes(ctx, label, pred)
	if err != nil {
		return nil, false, err
	}
	if len(nodes) == 0 {
		return nil, false, nil
	}
	return nodes[0].props, true, nil
}

// FindAll returns every node matching the optional label and predicate.
func (a *Adapter) FindAll(ctx context.Context, label string, pred Predicate) ([]Properties, error) {
	nodes, err := a.matchNodes(ctx, label, pred)
	if err != nil {
		return nil, err
	}

	props := make([]Properties, 0, len(nodes))
	for _, n := range nodes {
		props = append(props, n.props)
	}
	return props, nil
}

// UpsertProperty assigns a property on every node matching label and
// predicate, returning the number of nodes affected. Affecting zero nodes is
// an idempotent no-op.
func (a *Adapter) UpsertProperty(ctx context.Context, label string, pred Predicate, name, value string) (int, error) {
	nodes, err := a.matchNodes(ctx, label, pred)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, n := range nodes {
		n.props[name] = value
		propsJSON, err := json.Marshal(n.props)
		if err != nil {
			return updated, fmt.Errorf("failed to marshal node properties: %w", err)
		}

		res, err := a.store.conn.ExecContext(ctx,
			`UPDATE nodes SET props = ? WHERE node_id = ?`, string(propsJSON), n.rowID)
		if err != nil {
			return updated, fmt.Errorf("failed to update node %d: %w", n.rowID, err)
		}
		if affected, err := res.RowsAffected(); err == nil {
			updated += int(affected)
		}
	}

	return updated, nil
}

// CreateNode buffers a new node carrying the given label, id and properties.
// The node becomes visible to FindOne/FindAll/CreateEdge only after Commit.
//
// The id is stored as the "id" property; any "id" key already present in
// props is overwritten.
func (a *Adapter) CreateNode(label, id string, props Properties) {
	copied := make(Properties, len(props)+1)
	for k, v := range props {
		copied[k] = v
	}
	copied["id"] = id

	a.pendingMu.Lock()
	a.pending = append(a.pending, pendingNode{label: label, props: copied})
	a.pendingMu.Unlock()
}

// Commit flushes all buffered nodes to the store in a single transaction.
// After Commit returns, every prior CreateNode is durably visible to
// subsequent CreateEdge and FindOne calls, including nodes this caller
// buffered that a concurrent Commit flushed. Committing an empty buffer is a
// no-op.
func (a *Adapter) Commit(ctx context.Context) error {
	// The buffer is shared across callers, so a batch taken here may hold
	// another goroutine's nodes. Holding flushMu across take-batch and the
	// transaction means that goroutine's own Commit cannot return until
	// those nodes are durable.
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.pendingMu.Lock()
	batch := a.pending
	a.pending = nil
	a.pendingMu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	tx, err := a.store.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, n := range batch {
		propsJSON, err := json.Marshal(n.props)
		if err != nil {
			return fmt.Errorf("failed to marshal node properties: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO nodes (label, props) VALUES (?, ?)`, n.label, string(propsJSON)); err != nil {
			return fmt.Errorf("failed to insert node: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit nodes: %w", err)
	}

	return nil
}

// CreateEdge creates one directed labeled edge from the first node matching
// (sourceLabel, sourcePred) to the first node matching (destLabel, destPred).
// Returns the number of edges created: 0 if either side is missing, 1
// otherwise. A missing endpoint is not an error.
func (a *Adapter) CreateEdge(ctx context.Context, relation, sourceLabel string, sourcePred Predicate, destLabel string, destPred Predicate) (int, error) {
	sources, err := a.matchNodes(ctx, sourceLabel, sourcePred)
	if err != nil {
		return 0, err
	}
	if len(sources) == 0 {
		return 0, nil
	}

	dests, err := a.matchNodes(ctx, destLabel, destPred)
	if err != nil {
		return 0, err
	}
	if len(dests) == 0 {
		return 0, nil
	}

	_, err = a.store.conn.ExecContext(ctx,
		`INSERT INTO edges (relation, source_id, dest_id) VALUES (?, ?, ?)`,
		relation, sources[0].rowID, dests[0].rowID)
	if err != nil {
		return 0, fmt.Errorf("failed to create edge %s: %w", relation, err)
	}

	return 1, nil
}

// DeleteNode removes every node matching the optional label and predicate,
// along with their incident edges (cascading). Returns the number of nodes
// removed; deleting zero nodes is an idempotent no-op.
func (a *Adapter) DeleteNode(ctx context.Context, label string, pred Predicate) (int, error) {
	nodes, err := a.matchNodes(ctx, label, pred)
	if err != nil {
		return 0, err
	}
	if len(nodes) == 0 {
		return 0, nil
	}

	tx, err := a.store.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	deleted := 0
	for _, n := range nodes {
		res, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE node_id = ?`, n.rowID)
		if err != nil {
			return 0, fmt.Errorf("failed to delete node %d: %w", n.rowID, err)
		}
		if affected, err := res.RowsAffected(); err == nil {
			deleted += int(affected)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit node deletion: %w", err)
	}

	return deleted, nil
}

// EdgeExists reports whether at least one edge with the given relation exists
// between a node matching (sourceLabel, sourcePred) and a node matching
// (destLabel, destPred).
func (a *Adapter) EdgeExists(ctx context.Context, relation, sourceLabel string, sourcePred Predicate, destLabel string, destPred Predicate) (bool, error) {
	sources, err := a.matchNodes(ctx, sourceLabel, sourcePred)
	if err != nil {
		return false, err
	}
	dests, err := a.matchNodes(ctx, destLabel, destPred)
	if err != nil {
		return false, err
	}

	for _, src := range sources {
		for _, dst := range dests {
			var count int
			err := a.store.conn.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM edges WHERE relation = ? AND source_id = ? AND dest_id = ?`,
				relation, src.rowID, dst.rowID).Scan(&count)
			if err != nil {
				return false, fmt.Errorf("failed to query edges: %w", err)
			}
			if count > 0 {
				return true, nil
			}
		}
	}

	return false, nil
}
