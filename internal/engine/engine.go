// Package engine drains the sync queue against the remote records API.
//
// One ProcessQueue call is one sync cycle: it walks the due pending
// items in FIFO order, replays each mutation against the server, and
// reconciles the local store with the server's canonical response.
// Reconciliation is remote-wins: the server record replaces the local
// copy wholesale, except when the local entity was edited again while
// the item was in flight (detected via the local_rev counter), in which
// case the local copy is kept and a fresh update is queued.
//
// Failed attempts are never retried inside a cycle. The item is pushed
// back to pending with an exponential-backoff next-attempt time and a
// later cycle picks it up, so a struggling server never blocks the
// caller on a sleep.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/vetlabs/pawsync/internal/api"
	"github.com/vetlabs/pawsync/internal/connectivity"
	"github.com/vetlabs/pawsync/internal/model"
	"github.com/vetlabs/pawsync/internal/queue"
	"github.com/vetlabs/pawsync/internal/store"
)

// Remote is the subset of the API client the engine dispatches to.
type Remote interface {
	CreatePet(ctx context.Context, pet *model.Pet, idempotencyKey string) (*model.Pet, error)
	UpdatePet(ctx context.Context, pet *model.Pet, idempotencyKey string) (*model.Pet, error)
	DeletePet(ctx context.Context, id, idempotencyKey string) error
	CreateMedication(ctx context.Context, med *model.Medication, idempotencyKey string) (*model.Medication, error)
	UpdateMedication(ctx context.Context, med *model.Medication, idempotencyKey string) (*model.Medication, error)
	DeleteMedication(ctx context.Context, id, idempotencyKey string) error
	CreateFavorite(ctx context.Context, fav *model.Favorite, idempotencyKey string) (*model.Favorite, error)
	UpdateFavorite(ctx context.Context, fav *model.Favorite, idempotencyKey string) (*model.Favorite, error)
	DeleteFavorite(ctx context.Context, id, idempotencyKey string) error
}

// PetStore is the pet repository surface the engine reconciles through.
type PetStore interface {
	Get(ctx context.Context, id string) (*model.Pet, error)
	Apply(ctx context.Context, pet *model.Pet) error
	Delete(ctx context.Context, id string) error
}

// MedicationStore is the medication repository surface.
type MedicationStore interface {
	Get(ctx context.Context, id string) (*model.Medication, error)
	Apply(ctx context.Context, med *model.Medication) error
	Delete(ctx context.Context, id string) error
}

// FavoriteStore is the favorite repository surface. Favorites carry no
// revision counter, so there is no Get.
type FavoriteStore interface {
	Apply(ctx context.Context, fav *model.Favorite) error
	Delete(ctx context.Context, id string) error
}

// Stores bundles the repositories the engine writes server responses
// into.
type Stores struct {
	Pets        PetStore
	Medications MedicationStore
	Favorites   FavoriteStore
}

// Config controls the retry policy.
type Config struct {
	// MaxRetryAttempts is the retry budget per item; an item that fails
	// this many times is parked as failed until manually retried.
	MaxRetryAttempts int
	// BackoffBase is the delay before the first retry; each subsequent
	// retry doubles it.
	BackoffBase time.Duration
	// BackoffMax caps the exponential growth.
	BackoffMax time.Duration
}

// DefaultConfig returns the retry policy used when the caller does not
// override it.
func DefaultConfig() Config {
	return Config{
		MaxRetryAttempts: 5,
		BackoffBase:      2 * time.Second,
		BackoffMax:       5 * time.Minute,
	}
}

// ItemError describes one item that failed during a cycle.
type ItemError struct {
	ItemID   int64
	EntityID string
	Message  string
}

// Result summarizes one sync cycle.
type Result struct {
	// Success is true when every processed item synced and the cycle
	// was not aborted.
	Success bool
	// SyncedCount is the number of items confirmed by the server and
	// removed from the queue.
	SyncedCount int
	// FailedCount is the number of items that failed this cycle,
	// whether rescheduled or parked as failed.
	FailedCount int
	// Errors carries one entry per failed item.
	Errors []ItemError
	// Message is set when the cycle never ran (offline, already in
	// progress).
	Message string
}

// Options are per-cycle callbacks.
type Options struct {
	// OnStart is called once before any items are processed, with the
	// number of items due this cycle. Not called when the queue is
	// empty or the device is offline.
	OnStart func(total int)
	// OnProgress is called after each item with (processed, total).
	OnProgress func(processed, total int)
	// OnItemSync is called after each item with the outcome; err is nil
	// on success.
	OnItemSync func(item *queue.Item, err error)
}

// Engine replays queued mutations against the remote API.
type Engine struct {
	queue   *queue.Queue
	remote  Remote
	stores  Stores
	monitor connectivity.Monitor
	cfg     Config
	logger  *log.Logger

	now    func() time.Time
	jitter func(max time.Duration) time.Duration
}

// New creates an engine. A zero-valued cfg falls back to
// DefaultConfig.
func New(q *queue.Queue, remote Remote, stores Stores, monitor connectivity.Monitor, cfg Config) *Engine {
	if cfg.MaxRetryAttempts <= 0 {
		cfg = DefaultConfig()
	}
	return &Engine{
		queue:   q,
		remote:  remote,
		stores:  stores,
		monitor: monitor,
		cfg:     cfg,
		logger:  log.New(os.Stderr, "[sync] ", log.LstdFlags),
		now:     time.Now,
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max)))
		},
	}
}

// SetLogger replaces the engine's logger.
func (e *Engine) SetLogger(l *log.Logger) { e.logger = l }

// ProcessQueue runs one sync cycle. It never returns an error: all
// failures are reported inside the Result so a partially failed cycle
// still surfaces what it did manage to sync.
func (e *Engine) ProcessQueue(ctx context.Context, opts Options) *Result {
	if !e.monitor.Online() {
		return &Result{Success: false, Message: "device is offline"}
	}

	now := e.now()
	items, err := e.queue.ListPending(ctx, now)
	if err != nil {
		return &Result{Success: false, Message: fmt.Sprintf("failed to list pending items: %v", err)}
	}
	if len(items) == 0 {
		return &Result{Success: true}
	}

	e.logger.Printf("processing %d pending items", len(items))
	if opts.OnStart != nil {
		opts.OnStart(len(items))
	}

	result := &Result{}
	aborted := false
	for i, item := range items {
		if ctx.Err() != nil {
			// Cooperative abort: processed items keep their final
			// status, the rest stay pending for the next cycle.
			e.logger.Printf("sync aborted after %d/%d items", i, len(items))
			aborted = true
			break
		}

		if err := e.processItem(ctx, item); err != nil {
			result.FailedCount++
			result.Errors = append(result.Errors, ItemError{
				ItemID:   item.ID,
				EntityID: item.EntityID,
				Message:  err.Error(),
			})
			if opts.OnItemSync != nil {
				opts.OnItemSync(item, err)
			}
		} else {
			result.SyncedCount++
			if opts.OnItemSync != nil {
				opts.OnItemSync(item, nil)
			}
		}

		if opts.OnProgress != nil {
			opts.OnProgress(i+1, len(items))
		}
	}

	result.Success = result.FailedCount == 0 && !aborted
	e.logger.Printf("cycle complete: %d synced, %d failed", result.SyncedCount, result.FailedCount)
	return result
}

// processItem replays a single mutation. On success the item is
// removed from the queue; on failure it is either rescheduled with
// backoff or parked as failed.
func (e *Engine) processItem(ctx context.Context, item *queue.Item) error {
	// Items can outlive a config change that lowered the budget; park
	// them without burning a network call.
	if item.RetryCount >= e.cfg.MaxRetryAttempts {
		msg := "max retry attempts exceeded"
		if err := e.queue.MarkFailed(ctx, item, msg); err != nil {
			return err
		}
		return errors.New(msg)
	}

	if err := e.queue.MarkProcessing(ctx, item); err != nil {
		return err
	}

	syncErr := e.dispatch(ctx, item)
	if syncErr == nil {
		if err := e.queue.Remove(ctx, item.ID); err != nil {
			return err
		}
		return nil
	}

	e.logger.Printf("item %d (%s %s %s) failed: %v", item.ID, item.Op, item.EntityKind, item.EntityID, syncErr)

	if retriable(syncErr) && item.RetryCount+1 < e.cfg.MaxRetryAttempts {
		next := e.now().Add(e.backoff(item.RetryCount))
		if err := e.queue.Reschedule(ctx, item, next); err != nil {
			return err
		}
		item.LastError = syncErr.Error()
		return syncErr
	}

	if err := e.queue.MarkFailed(ctx, item, syncErr.Error()); err != nil {
		return err
	}
	return syncErr
}

// backoff returns the delay before the next attempt: exponential in the
// retry count, capped, plus up to 50% jitter so parked items do not
// stampede the server in lockstep.
func (e *Engine) backoff(retryCount int) time.Duration {
	delay := e.cfg.BackoffBase
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= e.cfg.BackoffMax {
			delay = e.cfg.BackoffMax
			break
		}
	}
	return delay + e.jitter(delay/2)
}

// retriable reports whether the sync failure may succeed on a later
// attempt. Storage failures and rejected payloads are not retried.
func retriable(err error) bool {
	var netErr *api.NetworkError
	if errors.As(err, &netErr) {
		return netErr.Retriable()
	}
	return false
}

// dispatch routes the item to the right remote call and reconciles the
// local store with the response.
func (e *Engine) dispatch(ctx context.Context, item *queue.Item) error {
	switch item.EntityKind {
	case model.KindPet:
		return e.syncPet(ctx, item)
	case model.KindMedication:
		return e.syncMedication(ctx, item)
	case model.KindFavorite:
		return e.syncFavorite(ctx, item)
	default:
		return fmt.Errorf("unknown entity kind %q", item.EntityKind)
	}
}

func (e *Engine) syncPet(ctx context.Context, item *queue.Item) error {
	if item.Op == model.OpDelete {
		if err := e.remote.DeletePet(ctx, item.EntityID, item.IdempotencyKey); err != nil {
			return err
		}
		return e.stores.Pets.Delete(ctx, item.EntityID)
	}

	payload, err := item.DecodedPayload()
	if err != nil {
		return err
	}
	pet, ok := payload.(*model.Pet)
	if !ok {
		return fmt.Errorf("item %d payload is %T, want pet", item.ID, payload)
	}

	var server *model.Pet
	if item.Op == model.OpCreate {
		server, err = e.remote.CreatePet(ctx, pet, item.IdempotencyKey)
	} else {
		server, err = e.remote.UpdatePet(ctx, pet, item.IdempotencyKey)
	}
	if err != nil {
		return err
	}

	current, err := e.stores.Pets.Get(ctx, item.EntityID)
	if err != nil && !store.IsNotFound(err) {
		return err
	}
	if current != nil && current.LocalRev > item.BaseRev {
		// The user edited the pet while this item was in flight.
		// Overwriting with the server response would silently drop that
		// edit, so keep the local copy and queue a fresh update.
		e.logger.Printf("pet %s edited during sync (rev %d > base %d), queueing fresh update",
			item.EntityID, current.LocalRev, item.BaseRev)
		_, err := e.queue.Enqueue(ctx, model.OpUpdate, model.KindPet, item.EntityID, current)
		return err
	}

	// The applied record keeps the revision the item was based on, so
	// it does not look like a new local edit.
	server.LocalRev = item.BaseRev
	return e.stores.Pets.Apply(ctx, server)
}

func (e *Engine) syncMedication(ctx context.Context, item *queue.Item) error {
	if item.Op == model.OpDelete {
		if err := e.remote.DeleteMedication(ctx, item.EntityID, item.IdempotencyKey); err != nil {
			return err
		}
		return e.stores.Medications.Delete(ctx, item.EntityID)
	}

	payload, err := item.DecodedPayload()
	if err != nil {
		return err
	}
	med, ok := payload.(*model.Medication)
	if !ok {
		return fmt.Errorf("item %d payload is %T, want medication", item.ID, payload)
	}

	var server *model.Medication
	if item.Op == model.OpCreate {
		server, err = e.remote.CreateMedication(ctx, med, item.IdempotencyKey)
	} else {
		server, err = e.remote.UpdateMedication(ctx, med, item.IdempotencyKey)
	}
	if err != nil {
		return err
	}

	current, err := e.stores.Medications.Get(ctx, item.EntityID)
	if err != nil && !store.IsNotFound(err) {
		return err
	}
	if current != nil && current.LocalRev > item.BaseRev {
		e.logger.Printf("medication %s edited during sync (rev %d > base %d), queueing fresh update",
			item.EntityID, current.LocalRev, item.BaseRev)
		_, err := e.queue.Enqueue(ctx, model.OpUpdate, model.KindMedication, item.EntityID, current)
		return err
	}

	server.LocalRev = item.BaseRev
	return e.stores.Medications.Apply(ctx, server)
}

func (e *Engine) syncFavorite(ctx context.Context, item *queue.Item) error {
	if item.Op == model.OpDelete {
		if err := e.remote.DeleteFavorite(ctx, item.EntityID, item.IdempotencyKey); err != nil {
			return err
		}
		return e.stores.Favorites.Delete(ctx, item.EntityID)
	}

	payload, err := item.DecodedPayload()
	if err != nil {
		return err
	}
	fav, ok := payload.(*model.Favorite)
	if !ok {
		return fmt.Errorf("item %d payload is %T, want favorite", item.ID, payload)
	}

	var server *model.Favorite
	if item.Op == model.OpCreate {
		server, err = e.remote.CreateFavorite(ctx, fav, item.IdempotencyKey)
	} else {
		server, err = e.remote.UpdateFavorite(ctx, fav, item.IdempotencyKey)
	}
	if err != nil {
		return err
	}
	return e.stores.Favorites.Apply(ctx, server)
}
