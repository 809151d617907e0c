// Package repo provides typed repositories over the local object store,
// one per entity kind. Repositories only touch local state: they never
// enqueue sync items themselves, because some writes (applying a server
// response after a successful sync) must not re-enter the sync queue.
// Callers that represent a user mutation pair the repository write with
// a queue enqueue; see the records service.
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vetlabs/pawsync/internal/model"
	"github.com/vetlabs/pawsync/internal/store"
)

// PetRepo stores pet records.
type PetRepo struct {
	store *store.Store
}

// NewPetRepo creates a pet repository over the given store.
func NewPetRepo(s *store.Store) *PetRepo {
	return &PetRepo{store: s}
}

// Save writes a locally edited pet, bumping its revision counter past
// the currently stored one. UpdatedAt is refreshed.
func (r *PetRepo) Save(ctx context.Context, pet *model.Pet) error {
	if err := pet.Validate(); err != nil {
		return fmt.Errorf("invalid pet: %w", err)
	}

	current, err := r.Get(ctx, pet.ID)
	if err != nil && !store.IsNotFound(err) {
		return err
	}
	if current != nil {
		pet.LocalRev = current.LocalRev + 1
	} else {
		pet.LocalRev++
	}
	pet.UpdatedAt = time.Now().UTC()
	if pet.CreatedAt.IsZero() {
		pet.CreatedAt = pet.UpdatedAt
	}

	return r.put(ctx, pet)
}

// Apply overwrites the local copy with a canonical server record,
// keeping the caller-supplied revision. It must never enqueue a sync
// item.
func (r *PetRepo) Apply(ctx context.Context, pet *model.Pet) error {
	if err := pet.Validate(); err != nil {
		return fmt.Errorf("invalid pet: %w", err)
	}
	return r.put(ctx, pet)
}

func (r *PetRepo) put(ctx context.Context, pet *model.Pet) error {
	data, err := json.Marshal(pet)
	if err != nil {
		return fmt.Errorf("failed to marshal pet: %w", err)
	}
	return r.store.Put(ctx, store.Pets, pet.ID, data, map[string]any{
		"owner_id":   pet.OwnerID,
		"updated_at": pet.UpdatedAt.Format(time.RFC3339),
	})
}

// Get returns the pet with the given id, or a not-found storage error.
func (r *PetRepo) Get(ctx context.Context, id string) (*model.Pet, error) {
	data, err := r.store.Get(ctx, store.Pets, id)
	if err != nil {
		return nil, err
	}
	var pet model.Pet
	if err := json.Unmarshal(data, &pet); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pet %s: %w", id, err)
	}
	return &pet, nil
}

// ListByOwner returns all pets belonging to the given owner.
func (r *PetRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.Pet, error) {
	values, err := r.store.GetAllByIndex(ctx, store.Pets, "owner_id", ownerID)
	if err != nil {
		return nil, err
	}
	return decodePets(values)
}

// List returns all locally stored pets.
func (r *PetRepo) List(ctx context.Context) ([]*model.Pet, error) {
	values, err := r.store.GetAll(ctx, store.Pets)
	if err != nil {
		return nil, err
	}
	return decodePets(values)
}

// Delete removes the local copy of a pet. Absent ids are a no-op.
func (r *PetRepo) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, store.Pets, id)
}

func decodePets(values [][]byte) ([]*model.Pet, error) {
	pets := make([]*model.Pet, 0, len(values))
	for _, data := range values {
		var pet model.Pet
		if err := json.Unmarshal(data, &pet); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pet: %w", err)
		}
		pets = append(pets, &pet)
	}
	return pets, nil
}
