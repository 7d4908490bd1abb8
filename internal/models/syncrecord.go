package models

import (
	"crypto/sha256"
	"encoding/json"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

// SyncRecord is the container for one queued mutation: either a local change
// awaiting delivery or a remote change being applied. Payload is always
// sealed bytes (nil for a delete); the record itself carries only public
// metadata and is safe to persist and transmit as-is.
type SyncRecord struct {
	ID       string     `json:"id"`
	Action   SyncAction `json:"action"`
	ItemType ItemType   `json:"type"`
	ItemID   string     `json:"item_id"`
	UserID   string     `json:"user_id,omitempty"`
	Payload  []byte     `json:"payload,omitempty"`

	// ServerSequence is zero until the server assigns one (incoming records
	// always carry it).
	ServerSequence int64 `json:"sequence,omitempty"`

	// Frozen marks a record whose delivery permanently failed. Frozen
	// records are skipped by automatic retry until explicitly unfrozen or
	// deleted by the caller.
	Frozen   bool   `json:"frozen,omitempty"`
	Error    string `json:"error,omitempty"`
	Attempts int    `json:"attempts,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewSyncRecord builds a record for a local mutation. The id is derived
// deterministically from the mutation content (item type, item id, action
// and the item's canonical plaintext JSON) so that replaying the same
// mutation after a crash between persist and enqueue upserts the same queue
// row instead of duplicating it. The sealed payload cannot feed the hash;
// sealing is nonce-randomized, so identical content would hash differently.
func NewSyncRecord(action SyncAction, item Syncable, payload []byte) *SyncRecord {
	meta := item.GetMeta()

	canonical, _ := json.Marshal(item)

	h := sha256.New()
	h.Write([]byte(item.ObjectType()))
	h.Write([]byte(meta.ID))
	h.Write([]byte(action))
	h.Write(canonical)

	return &SyncRecord{
		ID:        uuid.NewSHA1(uuid.NameSpaceOID, h.Sum(nil)).String(),
		Action:    action,
		ItemType:  item.ObjectType(),
		ItemID:    meta.ID,
		UserID:    meta.UserID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

func (r *SyncRecord) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ID, validation.Required),
		validation.Field(&r.Action, validation.Required,
			validation.In(SyncActionAdd, SyncActionEdit, SyncActionDelete)),
		validation.Field(&r.ItemType, validation.Required),
		validation.Field(&r.ItemID, validation.Required),
	)
}

// Marshal returns the record's JSON form for queue persistence.
func (r *SyncRecord) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalSyncRecord restores a record from its queue row.
func UnmarshalSyncRecord(data []byte) (*SyncRecord, error) {
	var r SyncRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
