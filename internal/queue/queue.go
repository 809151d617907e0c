// Package queue provides the durable sync queue: an ordered list of
// pending local mutations awaiting reconciliation with the remote API.
//
// Items are stored in the pending_sync object store and drained in FIFO
// order by enqueue time. Multiple edits to the same entity are NOT
// coalesced: a later update to a still-pending create becomes a second,
// independent item. This keeps the queue semantics trivial at the cost
// of occasionally replaying redundant writes.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vetlabs/pawsync/internal/model"
	"github.com/vetlabs/pawsync/internal/store"
)

// Status is the lifecycle state of a queue item.
//
// State machine: pending -> processing -> removed on success,
// back to pending (retry+1) on a retriable failure, or failed once
// retries are exhausted. Failed items stay until manually retried or
// cleared.
type Status string

const (
	// StatusPending marks an item awaiting sync.
	StatusPending Status = "pending"
	// StatusProcessing marks the single item currently in flight.
	StatusProcessing Status = "processing"
	// StatusFailed marks an item whose sync failed; items that have
	// exhausted their retries stay failed until manual intervention.
	StatusFailed Status = "failed"
)

// Item is one pending mutation.
type Item struct {
	// ID is the store-assigned sequential id. It is always set on items
	// returned by the queue; a zero ID marks an item that was never
	// persisted and is rejected by Remove.
	ID             int64
	Op             model.Operation
	EntityKind     model.EntityKind
	EntityID       string
	Payload        json.RawMessage
	EnqueuedAt     time.Time
	RetryCount     int
	Status         Status
	LastError      string
	// NextAttemptAt is when the item becomes eligible for the next
	// cycle; backoff after a failure is expressed by pushing this
	// forward rather than sleeping inside the sync loop.
	NextAttemptAt  time.Time
	// IdempotencyKey is a client-generated key sent with every attempt
	// so the server can deduplicate retried creates.
	IdempotencyKey string
	// BaseRev is the entity revision captured at enqueue time, used by
	// the engine to detect local edits made while the item was in
	// flight.
	BaseRev int64
}

// DecodedPayload resolves the item's payload into its concrete entity
// type.
func (it *Item) DecodedPayload() (model.Payload, error) {
	if len(it.Payload) == 0 {
		return nil, fmt.Errorf("queue item %d has no payload", it.ID)
	}
	return model.DecodePayload(it.EntityKind, it.Payload)
}

// Queue is the durable sync queue over the local store.
type Queue struct {
	store *store.Store
	now   func() time.Time
}

// New creates a queue over the given store.
func New(s *store.Store) *Queue {
	return &Queue{store: s, now: time.Now}
}

const itemColumns = `id, op, entity_type, entity_id, payload, enqueued_at,
	retry_count, status, last_error, next_attempt_at, idempotency_key, base_rev`

// Enqueue appends a new pending item and returns it with its assigned
// id. Payload is required for create and update and must be nil for
// delete.
func (q *Queue) Enqueue(ctx context.Context, op model.Operation, kind model.EntityKind, entityID string, payload model.Payload) (*Item, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("invalid operation %q", op)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid entity kind %q", kind)
	}
	if entityID == "" {
		return nil, fmt.Errorf("entity id is required")
	}

	var raw []byte
	var baseRev int64
	switch op {
	case model.OpCreate, model.OpUpdate:
		if payload == nil {
			return nil, fmt.Errorf("%s requires a payload", op)
		}
		var err error
		raw, err = model.EncodePayload(payload)
		if err != nil {
			return nil, err
		}
		baseRev = model.PayloadRev(payload)
	case model.OpDelete:
		// No payload: the entity id is all the server needs.
	}

	now := q.now().UTC().Truncate(time.Millisecond)
	item := &Item{
		Op:             op,
		EntityKind:     kind,
		EntityID:       entityID,
		Payload:        raw,
		EnqueuedAt:     now,
		Status:         StatusPending,
		NextAttemptAt:  now,
		IdempotencyKey: uuid.NewString(),
		BaseRev:        baseRev,
	}

	res, err := q.store.Exec(ctx, `
		INSERT INTO pending_sync (op, entity_type, entity_id, payload, enqueued_at,
			retry_count, status, last_error, next_attempt_at, idempotency_key, base_rev)
		VALUES (?, ?, ?, ?, ?, 0, ?, '', ?, ?, ?)`,
		string(op), string(kind), entityID, nullableText(raw),
		now.UnixMilli(), string(StatusPending),
		now.UnixMilli(), item.IdempotencyKey, baseRev)
	if err != nil {
		return nil, &store.StorageError{Op: "enqueue", Store: store.PendingSync, Err: err}
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, &store.StorageError{Op: "enqueue", Store: store.PendingSync, Err: err}
	}
	item.ID = id
	return item, nil
}

// ListPending returns all pending items that are due at now, in FIFO
// enqueue order. Items pushed into the future by a retry backoff are
// excluded until their time comes.
func (q *Queue) ListPending(ctx context.Context, now time.Time) ([]*Item, error) {
	return q.list(ctx, `
		SELECT `+itemColumns+` FROM pending_sync
		WHERE status = ? AND next_attempt_at <= ?
		ORDER BY id ASC`,
		string(StatusPending), now.UnixMilli())
}

// ListAll returns every queue item, including failed ones, in enqueue
// order.
func (q *Queue) ListAll(ctx context.Context) ([]*Item, error) {
	return q.list(ctx, `SELECT `+itemColumns+` FROM pending_sync ORDER BY id ASC`)
}

// ListFailed returns items that require manual intervention.
func (q *Queue) ListFailed(ctx context.Context) ([]*Item, error) {
	return q.list(ctx, `
		SELECT `+itemColumns+` FROM pending_sync
		WHERE status = ? ORDER BY id ASC`, string(StatusFailed))
}

func (q *Queue) list(ctx context.Context, query string, args ...any) ([]*Item, error) {
	var items []*Item
	err := q.store.Query(ctx, query, func(rows *sql.Rows) error {
		items = items[:0]
		for rows.Next() {
			item, err := scanItem(rows)
			if err != nil {
				return err
			}
			items = append(items, item)
		}
		return nil
	}, args...)
	if err != nil {
		return nil, &store.StorageError{Op: "list", Store: store.PendingSync, Err: err}
	}
	return items, nil
}

func scanItem(rows *sql.Rows) (*Item, error) {
	var (
		item       Item
		op, kind   string
		status     string
		payload    sql.NullString
		lastError  sql.NullString
		enqueuedAt int64
		nextAt     int64
	)
	if err := rows.Scan(&item.ID, &op, &kind, &item.EntityID, &payload, &enqueuedAt,
		&item.RetryCount, &status, &lastError, &nextAt, &item.IdempotencyKey, &item.BaseRev); err != nil {
		return nil, fmt.Errorf("failed to scan queue item: %w", err)
	}

	item.Op = model.Operation(op)
	item.EntityKind = model.EntityKind(kind)
	item.Status = Status(status)
	if payload.Valid {
		item.Payload = json.RawMessage(payload.String)
	}
	item.LastError = lastError.String
	item.EnqueuedAt = time.UnixMilli(enqueuedAt).UTC()
	item.NextAttemptAt = time.UnixMilli(nextAt).UTC()
	return &item, nil
}

// MarkProcessing transitions the item to processing.
func (q *Queue) MarkProcessing(ctx context.Context, item *Item) error {
	return q.setStatus(ctx, item, StatusProcessing, item.LastError)
}

// MarkFailed transitions the item to failed, recording the error
// message for the status surfaces.
func (q *Queue) MarkFailed(ctx context.Context, item *Item, message string) error {
	return q.setStatus(ctx, item, StatusFailed, message)
}

func (q *Queue) setStatus(ctx context.Context, item *Item, status Status, message string) error {
	if item.ID == 0 {
		return fmt.Errorf("queue item was never persisted (zero id)")
	}
	_, err := q.store.Exec(ctx,
		`UPDATE pending_sync SET status = ?, last_error = ? WHERE id = ?`,
		string(status), message, item.ID)
	if err != nil {
		return &store.StorageError{Op: "updateStatus", Store: store.PendingSync, Err: err}
	}
	item.Status = status
	item.LastError = message
	return nil
}

// Reschedule puts a failed attempt back to pending with an incremented
// retry count, eligible again at nextAttempt. The retry count is
// monotonically non-decreasing.
func (q *Queue) Reschedule(ctx context.Context, item *Item, nextAttempt time.Time) error {
	if item.ID == 0 {
		return fmt.Errorf("queue item was never persisted (zero id)")
	}
	_, err := q.store.Exec(ctx, `
		UPDATE pending_sync
		SET status = ?, retry_count = retry_count + 1, next_attempt_at = ?
		WHERE id = ?`,
		string(StatusPending), nextAttempt.UnixMilli(), item.ID)
	if err != nil {
		return &store.StorageError{Op: "reschedule", Store: store.PendingSync, Err: err}
	}
	item.Status = StatusPending
	item.RetryCount++
	item.NextAttemptAt = nextAttempt.UTC()
	return nil
}

// Remove deletes the given items, normally after a successful sync.
// Zero ids are rejected explicitly rather than silently matching
// nothing.
func (q *Queue) Remove(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		if id == 0 {
			return fmt.Errorf("refusing to remove queue item with zero id")
		}
	}

	for _, id := range ids {
		if _, err := q.store.Exec(ctx, `DELETE FROM pending_sync WHERE id = ?`, id); err != nil {
			return &store.StorageError{Op: "remove", Store: store.PendingSync, Err: err}
		}
	}
	return nil
}

// Retry manually resets a failed item to pending with a fresh retry
// budget, making it immediately eligible.
func (q *Queue) Retry(ctx context.Context, id int64) error {
	res, err := q.store.Exec(ctx, `
		UPDATE pending_sync
		SET status = ?, retry_count = 0, last_error = '', next_attempt_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusPending), q.now().UnixMilli(),
		id, string(StatusFailed))
	if err != nil {
		return &store.StorageError{Op: "retry", Store: store.PendingSync, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &store.StorageError{Op: "retry", Store: store.PendingSync, Err: err}
	}
	if n == 0 {
		return fmt.Errorf("queue item %d is not in failed state", id)
	}
	return nil
}

// ClearFailed removes all failed items and returns how many were
// dropped.
func (q *Queue) ClearFailed(ctx context.Context) (int, error) {
	res, err := q.store.Exec(ctx,
		`DELETE FROM pending_sync WHERE status = ?`, string(StatusFailed))
	if err != nil {
		return 0, &store.StorageError{Op: "clearFailed", Store: store.PendingSync, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &store.StorageError{Op: "clearFailed", Store: store.PendingSync, Err: err}
	}
	return int(n), nil
}

// CountPending returns the number of items awaiting sync, due or not.
func (q *Queue) CountPending(ctx context.Context) (int, error) {
	return q.countByStatus(ctx, StatusPending)
}

// CountFailed returns the number of items requiring manual intervention.
func (q *Queue) CountFailed(ctx context.Context) (int, error) {
	return q.countByStatus(ctx, StatusFailed)
}

func (q *Queue) countByStatus(ctx context.Context, status Status) (int, error) {
	var count int
	err := q.store.QueryRow(ctx,
		`SELECT COUNT(*) FROM pending_sync WHERE status = ?`,
		[]any{&count}, string(status))
	if err != nil {
		return 0, &store.StorageError{Op: "count", Store: store.PendingSync, Err: err}
	}
	return count, nil
}

func nullableText(data []byte) any {
	if data == nil {
		return nil
	}
	return string(data)
}
