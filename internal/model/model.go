// Package model provides the data structures shared across the pawsync
// client: the locally stored entities (pets, medications, favorites,
// cached searches) and the tagged payload variants carried by sync
// queue items.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntityKind identifies which entity type a sync queue item refers to.
type EntityKind string

const (
	// KindPet is a pet record.
	KindPet EntityKind = "pet"
	// KindMedication is a medication record attached to a pet.
	KindMedication EntityKind = "medication"
	// KindFavorite is a user favorite (drug, article, or pet).
	KindFavorite EntityKind = "favorite"
)

// Valid reports whether the kind is one of the known entity kinds.
func (k EntityKind) Valid() bool {
	switch k {
	case KindPet, KindMedication, KindFavorite:
		return true
	}
	return false
}

// Operation identifies the mutation a sync queue item replays remotely.
type Operation string

const (
	// OpCreate creates the entity on the server.
	OpCreate Operation = "create"
	// OpUpdate replaces the entity on the server.
	OpUpdate Operation = "update"
	// OpDelete removes the entity from the server.
	OpDelete Operation = "delete"
)

// Valid reports whether the operation is one of the known operations.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Pet represents a pet medical record.
//
// LocalRev is a client-side generation counter bumped on every local
// write. The sync engine compares it against the revision captured at
// enqueue time to detect edits made while a sync was in flight.
type Pet struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"owner_id"`
	Name      string     `json:"name"`
	Species   string     `json:"species"` // dog, cat, bird, ...
	Breed     string     `json:"breed,omitempty"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
	WeightKg  float64    `json:"weight_kg,omitempty"`
	Notes     string     `json:"notes,omitempty"`

	LocalRev  int64     `json:"local_rev"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks if the Pet has valid field values.
func (p *Pet) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(p.Name) > 200 {
		return fmt.Errorf("name must be 200 characters or less (got %d)", len(p.Name))
	}
	if p.Species == "" {
		return fmt.Errorf("species is required")
	}
	if p.WeightKg < 0 {
		return fmt.Errorf("weight_kg must not be negative (got %v)", p.WeightKg)
	}
	return nil
}

// Medication represents a medication prescribed to a pet.
type Medication struct {
	ID           string     `json:"id"`
	PetID        string     `json:"pet_id"`
	Name         string     `json:"name"`
	Dosage       string     `json:"dosage,omitempty"`    // e.g. "5mg"
	Frequency    string     `json:"frequency,omitempty"` // e.g. "twice daily"
	PrescribedBy string     `json:"prescribed_by,omitempty"`
	StartDate    *time.Time `json:"start_date,omitempty"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	Active       bool       `json:"active"`
	Notes        string     `json:"notes,omitempty"`

	LocalRev  int64     `json:"local_rev"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks if the Medication has valid field values.
func (m *Medication) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("id is required")
	}
	if m.PetID == "" {
		return fmt.Errorf("pet_id is required")
	}
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if m.StartDate != nil && m.EndDate != nil && m.EndDate.Before(*m.StartDate) {
		return fmt.Errorf("end_date must not precede start_date")
	}
	return nil
}

// Favorite represents a bookmarked drug, article, or pet.
type Favorite struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"` // drug, article, pet
	RefID   string    `json:"ref_id"`
	Label   string    `json:"label,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// Validate checks if the Favorite has valid field values.
func (f *Favorite) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("id is required")
	}
	if f.Type == "" {
		return fmt.Errorf("type is required")
	}
	if f.RefID == "" {
		return fmt.Errorf("ref_id is required")
	}
	return nil
}

// SearchResult is a cached remote search response.
//
// Readers must treat an entry whose ExpiresAt has passed as absent;
// the search cache repository evicts such entries on read.
type SearchResult struct {
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CachedAt  time.Time       `json:"cached_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Expired reports whether the entry has passed its expiry time.
func (s *SearchResult) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Payload is the tagged variant carried by a sync queue item. Each
// entity kind has exactly one concrete payload type; consumers resolve
// the concrete type with an exhaustive switch on Kind().
type Payload interface {
	Kind() EntityKind
	PayloadID() string
}

// Kind implements Payload.
func (p *Pet) Kind() EntityKind { return KindPet }

// PayloadID implements Payload.
func (p *Pet) PayloadID() string { return p.ID }

// Kind implements Payload.
func (m *Medication) Kind() EntityKind { return KindMedication }

// PayloadID implements Payload.
func (m *Medication) PayloadID() string { return m.ID }

// Kind implements Payload.
func (f *Favorite) Kind() EntityKind { return KindFavorite }

// PayloadID implements Payload.
func (f *Favorite) PayloadID() string { return f.ID }

// DecodePayload decodes raw JSON into the concrete payload type for the
// given entity kind.
func DecodePayload(kind EntityKind, raw []byte) (Payload, error) {
	switch kind {
	case KindPet:
		var p Pet
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode pet payload: %w", err)
		}
		return &p, nil
	case KindMedication:
		var m Medication
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("failed to decode medication payload: %w", err)
		}
		return &m, nil
	case KindFavorite:
		var f Favorite
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("failed to decode favorite payload: %w", err)
		}
		return &f, nil
	default:
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
}

// EncodePayload serializes a payload for storage on a queue item.
func EncodePayload(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", p.Kind(), err)
	}
	return data, nil
}

// PayloadRev returns the local revision counter of a payload, or zero
// for kinds that do not carry one (favorites).
func PayloadRev(p Payload) int64 {
	switch v := p.(type) {
	case *Pet:
		return v.LocalRev
	case *Medication:
		return v.LocalRev
	case *Favorite:
		return 0
	default:
		return 0
	}
}
