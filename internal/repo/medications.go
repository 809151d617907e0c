package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vetlabs/pawsync/internal/model"
	"github.com/vetlabs/pawsync/internal/store"
)

// MedicationRepo stores medication records.
type MedicationRepo struct {
	store *store.Store
}

// NewMedicationRepo creates a medication repository over the given store.
func NewMedicationRepo(s *store.Store) *MedicationRepo {
	return &MedicationRepo{store: s}
}

// Save writes a locally edited medication, bumping its revision counter
// past the currently stored one.
func (r *MedicationRepo) Save(ctx context.Context, med *model.Medication) error {
	if err := med.Validate(); err != nil {
		return fmt.Errorf("invalid medication: %w", err)
	}

	current, err := r.Get(ctx, med.ID)
	if err != nil && !store.IsNotFound(err) {
		return err
	}
	if current != nil {
		med.LocalRev = current.LocalRev + 1
	} else {
		med.LocalRev++
	}
	med.UpdatedAt = time.Now().UTC()
	if med.CreatedAt.IsZero() {
		med.CreatedAt = med.UpdatedAt
	}

	return r.put(ctx, med)
}

// Apply overwrites the local copy with a canonical server record,
// keeping the caller-supplied revision. It must never enqueue a sync
// item.
func (r *MedicationRepo) Apply(ctx context.Context, med *model.Medication) error {
	if err := med.Validate(); err != nil {
		return fmt.Errorf("invalid medication: %w", err)
	}
	return r.put(ctx, med)
}

func (r *MedicationRepo) put(ctx context.Context, med *model.Medication) error {
	data, err := json.Marshal(med)
	if err != nil {
		return fmt.Errorf("failed to marshal medication: %w", err)
	}
	active := 0
	if med.Active {
		active = 1
	}
	return r.store.Put(ctx, store.Medications, med.ID, data, map[string]any{
		"pet_id": med.PetID,
		"active": active,
	})
}

// Get returns the medication with the given id.
func (r *MedicationRepo) Get(ctx context.Context, id string) (*model.Medication, error) {
	data, err := r.store.Get(ctx, store.Medications, id)
	if err != nil {
		return nil, err
	}
	var med model.Medication
	if err := json.Unmarshal(data, &med); err != nil {
		return nil, fmt.Errorf("failed to unmarshal medication %s: %w", id, err)
	}
	return &med, nil
}

// ListByPet returns all medications for the given pet.
func (r *MedicationRepo) ListByPet(ctx context.Context, petID string) ([]*model.Medication, error) {
	values, err := r.store.GetAllByIndex(ctx, store.Medications, "pet_id", petID)
	if err != nil {
		return nil, err
	}
	return decodeMedications(values)
}

// List returns all medications.
func (r *MedicationRepo) List(ctx context.Context) ([]*model.Medication, error) {
	values, err := r.store.GetAll(ctx, store.Medications)
	if err != nil {
		return nil, err
	}
	return decodeMedications(values)
}

// ListActive returns all medications currently marked active.
func (r *MedicationRepo) ListActive(ctx context.Context) ([]*model.Medication, error) {
	values, err := r.store.GetAllByIndex(ctx, store.Medications, "active", 1)
	if err != nil {
		return nil, err
	}
	return decodeMedications(values)
}

// Delete removes the local copy of a medication. Absent ids are a no-op.
func (r *MedicationRepo) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, store.Medications, id)
}

func decodeMedications(values [][]byte) ([]*model.Medication, error) {
	meds := make([]*model.Medication, 0, len(values))
	for _, data := range values {
		var med model.Medication
		if err := json.Unmarshal(data, &med); err != nil {
			return nil, fmt.Errorf("failed to unmarshal medication: %w", err)
		}
		meds = append(meds, &med)
	}
	return meds, nil
}
