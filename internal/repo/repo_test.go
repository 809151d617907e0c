package repo

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/vetlabs/pawsync/internal/model"
	"github.com/vetlabs/pawsync/internal/store"
)

// setupStore creates a temporary store for testing.
func setupStore(t *testing.T) *store.Store {
	t.Helper()

	s := store.New(filepath.Join(t.TempDir(), "test.db"))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testPet(id, owner string) *model.Pet {
	return &model.Pet{
		ID:      id,
		OwnerID: owner,
		Name:    "Rex",
		Species: "dog",
	}
}

func TestPetSaveBumpsRevision(t *testing.T) {
	r := NewPetRepo(setupStore(t))
	ctx := context.Background()

	pet := testPet("pet-1", "user-1")
	if err := r.Save(ctx, pet); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if pet.LocalRev != 1 {
		t.Errorf("LocalRev = %d after first save, want 1", pet.LocalRev)
	}

	pet.Name = "Rexford"
	if err := r.Save(ctx, pet); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	if pet.LocalRev != 2 {
		t.Errorf("LocalRev = %d after second save, want 2", pet.LocalRev)
	}

	got, err := r.Get(ctx, "pet-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "Rexford" || got.LocalRev != 2 {
		t.Errorf("Get returned name=%q rev=%d", got.Name, got.LocalRev)
	}
}

func TestPetApplyKeepsRevision(t *testing.T) {
	r := NewPetRepo(setupStore(t))
	ctx := context.Background()

	pet := testPet("pet-1", "user-1")
	if err := r.Save(ctx, pet); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// A server response applied over the local copy must not bump the
	// revision, otherwise every sync would look like a fresh local edit.
	server := testPet("pet-1", "user-1")
	server.Name = "Rex (canonical)"
	server.LocalRev = pet.LocalRev
	server.CreatedAt = time.Now().UTC()
	server.UpdatedAt = server.CreatedAt
	if err := r.Apply(ctx, server); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	got, err := r.Get(ctx, "pet-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.LocalRev != pet.LocalRev {
		t.Errorf("LocalRev = %d after Apply, want %d", got.LocalRev, pet.LocalRev)
	}
	if got.Name != "Rex (canonical)" {
		t.Errorf("Name = %q after Apply", got.Name)
	}
}

func TestPetListByOwner(t *testing.T) {
	r := NewPetRepo(setupStore(t))
	ctx := context.Background()

	for _, p := range []*model.Pet{
		testPet("pet-1", "user-1"),
		testPet("pet-2", "user-1"),
		testPet("pet-3", "user-2"),
	} {
		if err := r.Save(ctx, p); err != nil {
			t.Fatalf("Save %s failed: %v", p.ID, err)
		}
	}

	pets, err := r.ListByOwner(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListByOwner failed: %v", err)
	}
	if len(pets) != 2 {
		t.Errorf("ListByOwner returned %d pets, want 2", len(pets))
	}
}

func TestMedicationListByPetAndActive(t *testing.T) {
	r := NewMedicationRepo(setupStore(t))
	ctx := context.Background()

	meds := []*model.Medication{
		{ID: "med-1", PetID: "pet-1", Name: "Carprofen", Active: true},
		{ID: "med-2", PetID: "pet-1", Name: "Apoquel", Active: false},
		{ID: "med-3", PetID: "pet-2", Name: "Frontline", Active: true},
	}
	for _, m := range meds {
		if err := r.Save(ctx, m); err != nil {
			t.Fatalf("Save %s failed: %v", m.ID, err)
		}
	}

	byPet, err := r.ListByPet(ctx, "pet-1")
	if err != nil {
		t.Fatalf("ListByPet failed: %v", err)
	}
	if len(byPet) != 2 {
		t.Errorf("ListByPet returned %d, want 2", len(byPet))
	}

	active, err := r.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("ListActive returned %d, want 2", len(active))
	}
}

func TestFavoriteListByType(t *testing.T) {
	r := NewFavoriteRepo(setupStore(t))
	ctx := context.Background()

	favs := []*model.Favorite{
		{ID: "fav-1", Type: "drug", RefID: "carprofen"},
		{ID: "fav-2", Type: "drug", RefID: "apoquel"},
		{ID: "fav-3", Type: "article", RefID: "a-17"},
	}
	for _, f := range favs {
		if err := r.Save(ctx, f); err != nil {
			t.Fatalf("Save %s failed: %v", f.ID, err)
		}
	}

	drugs, err := r.ListByType(ctx, "drug")
	if err != nil {
		t.Fatalf("ListByType failed: %v", err)
	}
	if len(drugs) != 2 {
		t.Errorf("ListByType returned %d, want 2", len(drugs))
	}
}

func TestSearchCacheExpiry(t *testing.T) {
	s := setupStore(t)
	c := NewSearchCache(s)
	ctx := context.Background()

	payload := json.RawMessage(`{"results":["carprofen"]}`)
	if err := c.Put(ctx, "q:carprofen", payload, time.Hour); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Fresh entry is served.
	entry, err := c.Get(ctx, "q:carprofen")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(entry.Payload) != string(payload) {
		t.Errorf("payload = %s", entry.Payload)
	}

	// Advance the clock past expiry: the read reports a miss and evicts
	// the row.
	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := c.Get(ctx, "q:carprofen"); !store.IsNotFound(err) {
		t.Fatalf("expected not-found for expired entry, got %v", err)
	}

	count, err := s.Count(ctx, store.Searches)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expired entry was not evicted, count = %d", count)
	}
}

func TestSearchCachePurge(t *testing.T) {
	c := NewSearchCache(setupStore(t))
	ctx := context.Background()

	if err := c.Put(ctx, "fresh", json.RawMessage(`{}`), time.Hour); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := c.Put(ctx, "stale", json.RawMessage(`{}`), time.Millisecond); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	c.now = func() time.Time { return time.Now().Add(time.Minute) }
	evicted, err := c.Purge(ctx)
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if evicted != 1 {
		t.Errorf("Purge evicted %d entries, want 1", evicted)
	}
}
