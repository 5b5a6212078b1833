package sync

import (
	"context"
	"fmt"
	"path/filepath"
	stdsync "sync"
	"testing"

	"hydragent/internal/graph"
	"hydragent/internal/resource"
	"hydragent/internal/vocab"
)

const (
	testEntrypoint = "http://localhost:8080/api"
	testVocabURL   = "http://localhost:8080/api/vocab"
)

// testIndex builds a two-class schema: Drone (with an embedded State
// reference) and State, both collection endpoints.
func testIndex() *vocab.Index {
	api := &vocab.API{
		Name:          "vocab",
		DocURL:        testVocabURL,
		EntrypointURL: testEntrypoint,
		Classes: []vocab.Class{
			{
				Title:      "Drone",
				IRI:        testVocabURL + "#Drone",
				Collection: true,
				Properties: []vocab.Property{
					{Title: "DroneState", IRI: testVocabURL + "#State", Range: "State"},
					{Title: "name", IRI: "http://schema.org/name"},
					{Title: "model", IRI: "http://schema.org/model"},
				},
			},
			{
				Title:      "State",
				IRI:        testVocabURL + "#State",
				Collection: true,
				Properties: []vocab.Property{
					{Title: "Speed", IRI: "http://auto.schema.org/speed"},
				},
			},
		},
	}
	return vocab.NewIndex(api)
}

// newTestEngine builds a bootstrapped engine over a fresh store
func newTestEngine(t *testing.T) (*Engine, *graph.Adapter) {
	t.Helper()

	store, err := graph.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	adapter := graph.NewAdapter(store, nil)
	engine := New(adapter, testIndex(), nil)

	if err := engine.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() failed: %v", err)
	}
	return engine, adapter
}

// droneDoc builds a member document with the given scalar properties
func droneDoc(id string, props map[string]string) *resource.Document {
	doc := &resource.Document{
		ID:    id,
		Type:  "Drone",
		Props: make(map[string]resource.Value, len(props)),
	}
	for k, v := range props {
		doc.Props[k] = resource.String(v)
	}
	return doc
}

// collectionInstances reads a collection node's instances list
func collectionInstances(t *testing.T, adapter *graph.Adapter, collectionID string) []resource.Ref {
	t.Helper()

	props, found, err := adapter.FindOne(context.Background(), "collection", graph.ByID(collectionID))
	if err != nil {
		t.Fatalf("FindOne(collection) failed: %v", err)
	}
	if !found {
		t.Fatalf("collection node %s missing", collectionID)
	}

	refs, err := resource.DecodeRefs(props["instances"])
	if err != nil {
		t.Fatalf("DecodeRefs(instances) failed: %v", err)
	}
	return refs
}

// collectionMembers reads a collection node's members list
func collectionMembers(t *testing.T, adapter *graph.Adapter, collectionID string) []resource.Ref {
	t.Helper()

	props, found, err := adapter.FindOne(context.Background(), "collection", graph.ByID(collectionID))
	if err != nil {
		t.Fatalf("FindOne(collection) failed: %v", err)
	}
	if !found {
		t.Fatalf("collection node %s missing", collectionID)
	}

	refs, err := resource.DecodeRefs(props["members"])
	if err != nil {
		t.Fatalf("DecodeRefs(members) failed: %v", err)
	}
	return refs
}

// TestSyncRead_RoundTrip tests that a synced member is served from cache
func TestSyncRead_RoundTrip(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	url := testEntrypoint + "/EntryPoint/Drone/1"
	outcome, err := engine.SyncRead(ctx, url, droneDoc("/Drone/1", map[string]string{"name": "X1"}))
	if err != nil {
		t.Fatalf("SyncRead() failed: %v", err)
	}
	if outcome.Status != Applied {
		t.Fatalf("Status = %v, want Applied", outcome.Status)
	}

	result, err := engine.GetResource(ctx, Query{URL: url})
	if err != nil {
		t.Fatalf("GetResource() failed: %v", err)
	}
	if !result.Hit {
		t.Fatal("lookup missed a synced resource")
	}
	for key, want := range map[string]string{"id": "/Drone/1", "type": "Drone", "name": "X1"} {
		if result.Resource[key] != want {
			t.Errorf("%s = %q, want %q", key, result.Resource[key], want)
		}
	}
}

// TestSyncRead_MembershipGrowth tests that instances grows by exactly one
func TestSyncRead_MembershipGrowth(t *testing.T) {
	engine, adapter := newTestEngine(t)
	ctx := context.Background()

	collectionID := engine.Index().CollectionID("Drone")
	before := len(collectionInstances(t, adapter, collectionID))

	_, err := engine.SyncRead(ctx, testEntrypoint+"/Drone/1", droneDoc("/Drone/1", map[string]string{"name": "X1"}))
	if err != nil {
		t.Fatalf("SyncRead() failed: %v", err)
	}

	instances := collectionInstances(t, adapter, collectionID)
	if len(instances) != before+1 {
		t.Fatalf("len(instances) = %d, want %d", len(instances), before+1)
	}
	if instances[len(instances)-1] != (resource.Ref{ID: "/Drone/1", Type: "Drone"}) {
		t.Errorf("appended instance = %+v", instances[len(instances)-1])
	}
}

// TestSyncRead_ConcurrentDistinctIDs tests that parallel syncs of different
// members of one collection lose no instances entries and no edges
func TestSyncRead_ConcurrentDistinctIDs(t *testing.T) {
	engine, adapter := newTestEngine(t)
	ctx := context.Background()

	const members = 8
	errCh := make(chan error, members)

	var wg stdsync.WaitGroup
	for i := 1; i <= members; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("/Drone/%d", i)

			outcome, err := engine.SyncRead(ctx, testEntrypoint+id,
				droneDoc(id, map[string]string{"name": fmt.Sprintf("X%d", i)}))
			if err != nil {
				errCh <- fmt.Errorf("SyncRead(%s) failed: %w", id, err)
				return
			}
			if outcome.Status != Applied {
				errCh <- fmt.Errorf("SyncRead(%s) status = %v, want Applied", id, outcome.Status)
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Error(err)
	}

	instances := collectionInstances(t, adapter, engine.Index().CollectionID("Drone"))
	if len(instances) != members {
		t.Fatalf("len(instances) = %d, want %d", len(instances), members)
	}

	for i := 1; i <= members; i++ {
		id := fmt.Sprintf("/Drone/%d", i)
		exists, err := adapter.EdgeExists(ctx, "has_Drone",
			"classes", graph.ByProps(graph.Properties{"type": "Drone"}),
			"objectsDrone", graph.ByID(id))
		if err != nil {
			t.Fatalf("EdgeExists(%s) failed: %v", id, err)
		}
		if !exists {
			t.Errorf("class anchor edge missing for %s", id)
		}
	}
}

// TestSyncRead_ClassAnchorEdge tests the has-a edge from the class anchor
func TestSyncRead_ClassAnchorEdge(t *testing.T) {
	engine, adapter := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.SyncRead(ctx, testEntrypoint+"/Drone/1", droneDoc("/Drone/1", nil))
	if err != nil {
		t.Fatalf("SyncRead() failed: %v", err)
	}

	exists, err := adapter.EdgeExists(ctx, "has_Drone",
		"classes", graph.ByProps(graph.Properties{"type": "Drone"}),
		"objectsDrone", graph.ByID("/Drone/1"))
	if err != nil {
		t.Fatalf("EdgeExists() failed: %v", err)
	}
	if !exists {
		t.Error("class anchor edge missing after member sync")
	}
}

// TestSyncRead_EmbeddedDiscovery tests embedded reference descriptors
func TestSyncRead_EmbeddedDiscovery(t *testing.T) {
	engine, _ := newTestEngine(t)

	outcome, err := engine.SyncRead(context.Background(), testEntrypoint+"/Drone/1",
		droneDoc("/Drone/1", map[string]string{"name": "X1", "DroneState": "/State/1"}))
	if err != nil {
		t.Fatalf("SyncRead() failed: %v", err)
	}

	if len(outcome.Embedded) != 1 {
		t.Fatalf("len(Embedded) = %d, want 1", len(outcome.Embedded))
	}
	ref := outcome.Embedded[0]
	if ref.ParentID != "/Drone/1" || ref.ParentType != "Drone" || ref.Property != testVocabURL+"#State" {
		t.Errorf("descriptor = %+v", ref)
	}
}

// TestSyncRead_CollectionOverwritesMembers tests wholesale members replacement
func TestSyncRead_CollectionOverwritesMembers(t *testing.T) {
	engine, adapter := newTestEngine(t)
	ctx := context.Background()

	url := testEntrypoint + "/Drone"
	first := &resource.Document{ID: "/Drone", Type: "DroneCollection", Members: []resource.Ref{
		{ID: "/Drone/1", Type: "Drone"},
		{ID: "/Drone/2", Type: "Drone"},
	}}
	outcome, err := engine.SyncRead(ctx, url, first)
	if err != nil {
		t.Fatalf("SyncRead() failed: %v", err)
	}
	if outcome.Status != Applied || len(outcome.Embedded) != 0 {
		t.Fatalf("outcome = %+v, want Applied with no descriptors", outcome)
	}

	second := &resource.Document{ID: "/Drone", Type: "DroneCollection", Members: []resource.Ref{
		{ID: "/Drone/3", Type: "Drone"},
	}}
	if _, err := engine.SyncRead(ctx, url, second); err != nil {
		t.Fatalf("second SyncRead() failed: %v", err)
	}

	members := collectionMembers(t, adapter, engine.Index().CollectionID("Drone"))
	if len(members) != 1 || members[0].ID != "/Drone/3" {
		t.Errorf("members = %+v, want only /Drone/3", members)
	}
}

// TestSyncRead_Unsupported tests that unknown shapes mutate nothing
func TestSyncRead_Unsupported(t *testing.T) {
	engine, adapter := newTestEngine(t)
	ctx := context.Background()

	before, err := adapter.FindAll(ctx, "", nil)
	if err != nil {
		t.Fatalf("FindAll() failed: %v", err)
	}

	outcome, err := engine.SyncRead(ctx, testEntrypoint+"/Spaceship/1", droneDoc("/Spaceship/1", nil))
	if err != nil {
		t.Fatalf("SyncRead() failed: %v", err)
	}
	if outcome.Status != NotApplicable {
		t.Errorf("Status = %v, want NotApplicable", outcome.Status)
	}

	after, err := adapter.FindAll(ctx, "", nil)
	if err != nil {
		t.Fatalf("FindAll() failed: %v", err)
	}
	if len(after) != len(before) {
		t.Errorf("node count changed %d -> %d on unsupported sync", len(before), len(after))
	}
}

// TestSyncCreate_InjectsServerID tests id derivation from the URL tail
func TestSyncCreate_InjectsServerID(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	doc := droneDoc("", map[string]string{"name": "X1"})
	outcome, err := engine.SyncCreate(ctx, testEntrypoint+"/Drone/7", doc)
	if err != nil {
		t.Fatalf("SyncCreate() failed: %v", err)
	}
	if outcome.Status != Applied {
		t.Fatalf("Status = %v, want Applied", outcome.Status)
	}
	if doc.ID != "/Drone/7" {
		t.Errorf("injected ID = %q, want /Drone/7", doc.ID)
	}

	result, err := engine.GetResource(ctx, Query{URL: testEntrypoint + "/Drone/7"})
	if err != nil {
		t.Fatalf("GetResource() failed: %v", err)
	}
	if !result.Hit {
		t.Error("created resource not cached")
	}
}

// TestSyncReplace_FullOverwrite tests that replace leaves no stale fields
func TestSyncReplace_FullOverwrite(t *testing.T) {
	engine, adapter := newTestEngine(t)
	ctx := context.Background()

	url := testEntrypoint + "/Drone/1"
	if _, err := engine.SyncRead(ctx, url, droneDoc("/Drone/1", map[string]string{"name": "X1", "model": "A"})); err != nil {
		t.Fatalf("SyncRead() failed: %v", err)
	}

	if _, err := engine.SyncReplace(ctx, url, droneDoc("", map[string]string{"name": "X2"})); err != nil {
		t.Fatalf("SyncReplace() failed: %v", err)
	}

	result, err := engine.GetResource(ctx, Query{URL: url})
	if err != nil {
		t.Fatalf("GetResource() failed: %v", err)
	}
	if !result.Hit {
		t.Fatal("replaced resource not cached")
	}
	if result.Resource["name"] != "X2" {
		t.Errorf("name = %q, want X2", result.Resource["name"])
	}
	if _, stale := result.Resource["model"]; stale {
		t.Error("model survived replace; replace must be a full overwrite")
	}

	// Exactly one node and one instances entry remain
	matches, err := adapter.FindAll(ctx, "objectsDrone", graph.ByID("/Drone/1"))
	if err != nil {
		t.Fatalf("FindAll() failed: %v", err)
	}
	if len(matches) != 1 {
		t.Errorf("%d nodes share /Drone/1 after replace, want 1", len(matches))
	}
	instances := collectionInstances(t, adapter, engine.Index().CollectionID("Drone"))
	if len(instances) != 1 {
		t.Errorf("len(instances) = %d after replace, want 1", len(instances))
	}
}

// TestSyncDelete_Idempotent tests deleting an id that was never synced
func TestSyncDelete_Idempotent(t *testing.T) {
	engine, adapter := newTestEngine(t)
	ctx := context.Background()

	collectionID := engine.Index().CollectionID("Drone")
	instancesBefore := collectionInstances(t, adapter, collectionID)
	membersBefore := collectionMembers(t, adapter, collectionID)

	outcome, err := engine.SyncDelete(ctx, testEntrypoint+"/Drone/404")
	if err != nil {
		t.Fatalf("SyncDelete() failed: %v", err)
	}
	if outcome.Status != Applied {
		t.Errorf("Status = %v, want Applied", outcome.Status)
	}

	if got := collectionInstances(t, adapter, collectionID); len(got) != len(instancesBefore) {
		t.Errorf("instances changed on no-op delete")
	}
	if got := collectionMembers(t, adapter, collectionID); len(got) != len(membersBefore) {
		t.Errorf("members changed on no-op delete")
	}
}

// TestSyncDelete_ExactMemberMatch tests that /Drone/1 never removes /Drone/12
func TestSyncDelete_ExactMemberMatch(t *testing.T) {
	engine, adapter := newTestEngine(t)
	ctx := context.Background()

	// Seed members via a collection sync and instances via member syncs
	collection := &resource.Document{ID: "/Drone", Type: "DroneCollection", Members: []resource.Ref{
		{ID: "/Drone/1", Type: "Drone"},
		{ID: "/Drone/12", Type: "Drone"},
	}}
	if _, err := engine.SyncRead(ctx, testEntrypoint+"/Drone", collection); err != nil {
		t.Fatalf("collection SyncRead() failed: %v", err)
	}
	for _, id := range []string{"1", "12"} {
		if _, err := engine.SyncRead(ctx, testEntrypoint+"/Drone/"+id, droneDoc("/Drone/"+id, nil)); err != nil {
			t.Fatalf("member SyncRead() failed: %v", err)
		}
	}

	if _, err := engine.SyncDelete(ctx, testEntrypoint+"/Drone/1"); err != nil {
		t.Fatalf("SyncDelete() failed: %v", err)
	}

	collectionID := engine.Index().CollectionID("Drone")
	members := collectionMembers(t, adapter, collectionID)
	if len(members) != 1 || members[0].ID != "/Drone/12" {
		t.Errorf("members = %+v, want only /Drone/12", members)
	}
	instances := collectionInstances(t, adapter, collectionID)
	if len(instances) != 1 || instances[0].ID != "/Drone/12" {
		t.Errorf("instances = %+v, want only /Drone/12", instances)
	}

	// The untouched member node survives
	result, err := engine.GetResource(ctx, Query{URL: testEntrypoint + "/Drone/12"})
	if err != nil {
		t.Fatalf("GetResource() failed: %v", err)
	}
	if !result.Hit {
		t.Error("/Drone/12 evicted by deleting /Drone/1")
	}
}

// TestSyncDelete_RemovesNodeAndEdges tests the cascading node removal
func TestSyncDelete_RemovesNodeAndEdges(t *testing.T) {
	engine, adapter := newTestEngine(t)
	ctx := context.Background()

	url := testEntrypoint + "/Drone/1"
	if _, err := engine.SyncRead(ctx, url, droneDoc("/Drone/1", nil)); err != nil {
		t.Fatalf("SyncRead() failed: %v", err)
	}
	if _, err := engine.SyncDelete(ctx, url); err != nil {
		t.Fatalf("SyncDelete() failed: %v", err)
	}

	result, err := engine.GetResource(ctx, Query{URL: url})
	if err != nil {
		t.Fatalf("GetResource() failed: %v", err)
	}
	if result.Hit {
		t.Error("deleted resource still cached")
	}

	exists, err := adapter.EdgeExists(ctx, "has_Drone",
		"classes", graph.ByProps(graph.Properties{"type": "Drone"}),
		"objectsDrone", graph.ByID("/Drone/1"))
	if err != nil {
		t.Fatalf("EdgeExists() failed: %v", err)
	}
	if exists {
		t.Error("class anchor edge survived the node delete")
	}
}

// TestBootstrap_Idempotent tests that re-bootstrapping creates nothing new
func TestBootstrap_Idempotent(t *testing.T) {
	engine, adapter := newTestEngine(t)
	ctx := context.Background()

	before, err := adapter.FindAll(ctx, "", nil)
	if err != nil {
		t.Fatalf("FindAll() failed: %v", err)
	}

	if err := engine.Bootstrap(ctx); err != nil {
		t.Fatalf("second Bootstrap() failed: %v", err)
	}

	after, err := adapter.FindAll(ctx, "", nil)
	if err != nil {
		t.Fatalf("FindAll() failed: %v", err)
	}
	if len(after) != len(before) {
		t.Errorf("node count %d -> %d after re-bootstrap, want unchanged", len(before), len(after))
	}
}
