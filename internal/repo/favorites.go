package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vetlabs/pawsync/internal/model"
	"github.com/vetlabs/pawsync/internal/store"
)

// FavoriteRepo stores user favorites.
type FavoriteRepo struct {
	store *store.Store
}

// NewFavoriteRepo creates a favorite repository over the given store.
func NewFavoriteRepo(s *store.Store) *FavoriteRepo {
	return &FavoriteRepo{store: s}
}

// Save writes a favorite. Favorites carry no revision counter; the last
// write wins locally.
func (r *FavoriteRepo) Save(ctx context.Context, fav *model.Favorite) error {
	if err := fav.Validate(); err != nil {
		return fmt.Errorf("invalid favorite: %w", err)
	}
	if fav.AddedAt.IsZero() {
		fav.AddedAt = time.Now().UTC()
	}

	data, err := json.Marshal(fav)
	if err != nil {
		return fmt.Errorf("failed to marshal favorite: %w", err)
	}
	return r.store.Put(ctx, store.Favorites, fav.ID, data, map[string]any{
		"type":     fav.Type,
		"added_at": fav.AddedAt.Format(time.RFC3339),
	})
}

// Apply overwrites the local copy with a canonical server record.
func (r *FavoriteRepo) Apply(ctx context.Context, fav *model.Favorite) error {
	return r.Save(ctx, fav)
}

// Get returns the favorite with the given id.
func (r *FavoriteRepo) Get(ctx context.Context, id string) (*model.Favorite, error) {
	data, err := r.store.Get(ctx, store.Favorites, id)
	if err != nil {
		return nil, err
	}
	var fav model.Favorite
	if err := json.Unmarshal(data, &fav); err != nil {
		return nil, fmt.Errorf("failed to unmarshal favorite %s: %w", id, err)
	}
	return &fav, nil
}

// ListByType returns all favorites of the given type (drug, article,
// pet).
func (r *FavoriteRepo) ListByType(ctx context.Context, typ string) ([]*model.Favorite, error) {
	values, err := r.store.GetAllByIndex(ctx, store.Favorites, "type", typ)
	if err != nil {
		return nil, err
	}
	return decodeFavorites(values)
}

// List returns all favorites.
func (r *FavoriteRepo) List(ctx context.Context) ([]*model.Favorite, error) {
	values, err := r.store.GetAll(ctx, store.Favorites)
	if err != nil {
		return nil, err
	}
	return decodeFavorites(values)
}

// Delete removes the local copy of a favorite. Absent ids are a no-op.
func (r *FavoriteRepo) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, store.Favorites, id)
}

func decodeFavorites(values [][]byte) ([]*model.Favorite, error) {
	favs := make([]*model.Favorite, 0, len(values))
	for _, data := range values {
		var fav model.Favorite
		if err := json.Unmarshal(data, &fav); err != nil {
			return nil, fmt.Errorf("failed to unmarshal favorite: %w", err)
		}
		favs = append(favs, &fav)
	}
	return favs, nil
}
