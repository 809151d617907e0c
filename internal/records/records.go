// Package records is the application write path. Each mutation is a
// pair: persist the entity locally, then append the matching item to
// the sync queue. The repositories themselves never enqueue, so server
// responses can be applied without echoing back into the queue.
//
// New entities get client-generated UUIDs immediately; there is no
// "temporary id" state to reconcile after the server confirms a create.
package records

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/vetlabs/pawsync/internal/model"
	"github.com/vetlabs/pawsync/internal/queue"
	"github.com/vetlabs/pawsync/internal/repo"
)

// Service coordinates repository writes with queue enqueues.
type Service struct {
	pets  *repo.PetRepo
	meds  *repo.MedicationRepo
	favs  *repo.FavoriteRepo
	queue *queue.Queue
}

// NewService creates the write-path service.
func NewService(pets *repo.PetRepo, meds *repo.MedicationRepo, favs *repo.FavoriteRepo, q *queue.Queue) *Service {
	return &Service{pets: pets, meds: meds, favs: favs, queue: q}
}

// SavePet persists a pet and queues the mutation. A pet without an id
// is treated as a create and assigned one.
func (s *Service) SavePet(ctx context.Context, pet *model.Pet) (*queue.Item, error) {
	op := model.OpUpdate
	if pet.ID == "" {
		pet.ID = uuid.NewString()
		op = model.OpCreate
	}

	if err := s.pets.Save(ctx, pet); err != nil {
		return nil, err
	}
	item, err := s.queue.Enqueue(ctx, op, model.KindPet, pet.ID, pet)
	if err != nil {
		return nil, fmt.Errorf("pet %s saved but not queued: %w", pet.ID, err)
	}
	return item, nil
}

// DeletePet removes the local copy and queues the delete.
func (s *Service) DeletePet(ctx context.Context, id string) (*queue.Item, error) {
	if err := s.pets.Delete(ctx, id); err != nil {
		return nil, err
	}
	item, err := s.queue.Enqueue(ctx, model.OpDelete, model.KindPet, id, nil)
	if err != nil {
		return nil, fmt.Errorf("pet %s deleted but not queued: %w", id, err)
	}
	return item, nil
}

// SaveMedication persists a medication and queues the mutation.
func (s *Service) SaveMedication(ctx context.Context, med *model.Medication) (*queue.Item, error) {
	op := model.OpUpdate
	if med.ID == "" {
		med.ID = uuid.NewString()
		op = model.OpCreate
	}

	if err := s.meds.Save(ctx, med); err != nil {
		return nil, err
	}
	item, err := s.queue.Enqueue(ctx, op, model.KindMedication, med.ID, med)
	if err != nil {
		return nil, fmt.Errorf("medication %s saved but not queued: %w", med.ID, err)
	}
	return item, nil
}

// DeleteMedication removes the local copy and queues the delete.
func (s *Service) DeleteMedication(ctx context.Context, id string) (*queue.Item, error) {
	if err := s.meds.Delete(ctx, id); err != nil {
		return nil, err
	}
	item, err := s.queue.Enqueue(ctx, model.OpDelete, model.KindMedication, id, nil)
	if err != nil {
		return nil, fmt.Errorf("medication %s deleted but not queued: %w", id, err)
	}
	return item, nil
}

// SaveFavorite persists a favorite and queues the mutation.
func (s *Service) SaveFavorite(ctx context.Context, fav *model.Favorite) (*queue.Item, error) {
	op := model.OpUpdate
	if fav.ID == "" {
		fav.ID = uuid.NewString()
		op = model.OpCreate
	}

	if err := s.favs.Save(ctx, fav); err != nil {
		return nil, err
	}
	item, err := s.queue.Enqueue(ctx, op, model.KindFavorite, fav.ID, fav)
	if err != nil {
		return nil, fmt.Errorf("favorite %s saved but not queued: %w", fav.ID, err)
	}
	return item, nil
}

// DeleteFavorite removes the local copy and queues the delete.
func (s *Service) DeleteFavorite(ctx context.Context, id string) (*queue.Item, error) {
	if err := s.favs.Delete(ctx, id); err != nil {
		return nil, err
	}
	item, err := s.queue.Enqueue(ctx, model.OpDelete, model.KindFavorite, id, nil)
	if err != nil {
		return nil, fmt.Errorf("favorite %s deleted but not queued: %w", id, err)
	}
	return item, nil
}
