package syncer

import (
	"context"
	"fmt"
	"sort"

	"github.com/notesafe/notesafe/internal/models"
	"github.com/notesafe/notesafe/internal/store"
)

// queueTable is the logical store table holding outgoing sync records.
const queueTable = "sync_outgoing"

// Queue persists the outgoing sync queue in the object store so queued and
// frozen records survive restarts. Records drain in creation order, ties
// broken by record id.
type Queue struct {
	st *store.Store
}

func NewQueue(st *store.Store) *Queue {
	return &Queue{st: st}
}

func frozenKey(frozen bool) string {
	if frozen {
		return "1"
	}
	return "0"
}

// Enqueue upserts a record. Enqueueing the same record id twice is a no-op
// update, which is what makes crash recovery between persist and enqueue
// idempotent.
func (q *Queue) Enqueue(ctx context.Context, rec *models.SyncRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid sync record: %w", err)
	}
	data, err := rec.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling sync record: %w", err)
	}
	return q.st.Put(ctx, queueTable, rec.ID, data,
		[]store.IndexEntry{{Name: "frozen", Key: frozenKey(rec.Frozen)}})
}

// Update rewrites a record in place (freeze state, attempts, error).
func (q *Queue) Update(ctx context.Context, rec *models.SyncRecord) error {
	return q.Enqueue(ctx, rec)
}

// Remove deletes a record from the queue.
func (q *Queue) Remove(ctx context.Context, id string) error {
	return q.st.Delete(ctx, queueTable, id)
}

// Get returns one record by id.
func (q *Queue) Get(ctx context.Context, id string) (*models.SyncRecord, error) {
	data, err := q.st.Get(ctx, queueTable, id)
	if err != nil {
		return nil, err
	}
	return models.UnmarshalSyncRecord(data)
}

// Pending returns the non-frozen records in FIFO order.
func (q *Queue) Pending(ctx context.Context) ([]*models.SyncRecord, error) {
	blobs, err := q.st.GetByIndex(ctx, queueTable, "frozen", frozenKey(false))
	if err != nil {
		return nil, err
	}
	return sortRecords(blobs)
}

// All returns every queued record, frozen ones included, in FIFO order.
func (q *Queue) All(ctx context.Context) ([]*models.SyncRecord, error) {
	blobs, err := q.st.List(ctx, queueTable)
	if err != nil {
		return nil, err
	}
	return sortRecords(blobs)
}

func sortRecords(blobs map[string][]byte) ([]*models.SyncRecord, error) {
	records := make([]*models.SyncRecord, 0, len(blobs))
	for id, data := range blobs {
		rec, err := models.UnmarshalSyncRecord(data)
		if err != nil {
			return nil, fmt.Errorf("queue row %s: %w", id, err)
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}
