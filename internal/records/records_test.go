package records

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vetlabs/pawsync/internal/model"
	"github.com/vetlabs/pawsync/internal/queue"
	"github.com/vetlabs/pawsync/internal/repo"
	"github.com/vetlabs/pawsync/internal/store"
)

func setupService(t *testing.T) (*Service, *queue.Queue) {
	t.Helper()

	s := store.New(filepath.Join(t.TempDir(), "test.db"))
	t.Cleanup(func() { _ = s.Close() })

	q := queue.New(s)
	svc := NewService(repo.NewPetRepo(s), repo.NewMedicationRepo(s), repo.NewFavoriteRepo(s), q)
	return svc, q
}

func TestSavePetAssignsIDAndQueuesCreate(t *testing.T) {
	svc, q := setupService(t)
	ctx := context.Background()

	pet := &model.Pet{OwnerID: "u-1", Name: "Rex", Species: "dog"}
	item, err := svc.SavePet(ctx, pet)
	if err != nil {
		t.Fatalf("SavePet failed: %v", err)
	}

	if pet.ID == "" {
		t.Fatal("new pet was not assigned an id")
	}
	if item.Op != model.OpCreate || item.EntityID != pet.ID {
		t.Errorf("queued item = %s %s", item.Op, item.EntityID)
	}
	if item.BaseRev != pet.LocalRev {
		t.Errorf("BaseRev = %d, want %d", item.BaseRev, pet.LocalRev)
	}

	pending, err := q.ListPending(ctx, time.Now())
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending = %d items, want 1", len(pending))
	}
}

func TestSavePetWithIDQueuesUpdate(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	pet := &model.Pet{ID: "pet-1", OwnerID: "u-1", Name: "Rex", Species: "dog"}
	item, err := svc.SavePet(ctx, pet)
	if err != nil {
		t.Fatalf("SavePet failed: %v", err)
	}
	if item.Op != model.OpUpdate {
		t.Errorf("Op = %s, want update", item.Op)
	}
}

func TestDeletePetQueuesDeleteWithoutPayload(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	if _, err := svc.SavePet(ctx, &model.Pet{ID: "pet-1", OwnerID: "u", Name: "Rex", Species: "dog"}); err != nil {
		t.Fatalf("SavePet failed: %v", err)
	}

	item, err := svc.DeletePet(ctx, "pet-1")
	if err != nil {
		t.Fatalf("DeletePet failed: %v", err)
	}
	if item.Op != model.OpDelete || item.Payload != nil {
		t.Errorf("delete item = %+v", item)
	}
}

func TestSaveMedicationAndFavorite(t *testing.T) {
	svc, q := setupService(t)
	ctx := context.Background()

	med := &model.Medication{PetID: "pet-1", Name: "Carprofen", Active: true}
	if _, err := svc.SaveMedication(ctx, med); err != nil {
		t.Fatalf("SaveMedication failed: %v", err)
	}
	if med.ID == "" {
		t.Error("medication was not assigned an id")
	}

	fav := &model.Favorite{Type: "drug", RefID: "carprofen"}
	if _, err := svc.SaveFavorite(ctx, fav); err != nil {
		t.Fatalf("SaveFavorite failed: %v", err)
	}
	if fav.ID == "" {
		t.Error("favorite was not assigned an id")
	}

	count, err := q.CountPending(ctx)
	if err != nil {
		t.Fatalf("CountPending failed: %v", err)
	}
	if count != 2 {
		t.Errorf("CountPending = %d, want 2", count)
	}
}
