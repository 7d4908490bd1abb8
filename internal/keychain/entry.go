package keychain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/notesafe/notesafe/internal/cryptox"
	"github.com/notesafe/notesafe/internal/models"
)

// Entry returns the persistable form of a single mapping: the entry with its
// key sealed under the master key. The entry id is stable across calls.
func (k *Keychain) Entry(itemType models.ItemType, itemID string) (*models.KeychainEntry, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	id := keyID{itemType, itemID}
	key, ok := k.keys[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrKeyNotFound, itemType, itemID)
	}

	sealed, err := cryptox.Seal(k.masterKey, key)
	if err != nil {
		return nil, fmt.Errorf("sealing key for %s %s: %w", itemType, itemID, err)
	}

	entryID, ok := k.entryIDs[id]
	if !ok {
		entryID = uuid.NewString()
		k.entryIDs[id] = entryID
	}

	e := &models.KeychainEntry{
		ItemID:       itemID,
		ItemType:     itemType,
		EncryptedKey: sealed,
	}
	e.ID = entryID
	e.Touch()
	return e, nil
}

// SealEntry produces the storage/wire blob of a keychain entry: the entry's
// JSON encrypted under the master key. The keychain is the bottom of the
// protected-model recursion, so it seals its own rows instead of going
// through the generic sealer.
func (k *Keychain) SealEntry(e *models.KeychainEntry) ([]byte, error) {
	plaintext, err := json.Marshal(struct {
		ID           string          `json:"id"`
		ItemID       string          `json:"item_id"`
		ItemType     models.ItemType `json:"item_type"`
		EncryptedKey []byte          `json:"k"`
	}{e.ID, e.ItemID, e.ItemType, e.EncryptedKey})
	if err != nil {
		return nil, err
	}
	return cryptox.Seal(k.masterKey, plaintext)
}

// OpenEntry decrypts a blob produced by SealEntry.
func (k *Keychain) OpenEntry(blob []byte) (*models.KeychainEntry, error) {
	plaintext, err := cryptox.Open(k.masterKey, blob)
	if err != nil {
		return nil, fmt.Errorf("opening keychain entry: %w", err)
	}

	var raw struct {
		ID           string          `json:"id"`
		ItemID       string          `json:"item_id"`
		ItemType     models.ItemType `json:"item_type"`
		EncryptedKey []byte          `json:"k"`
	}
	if err := json.Unmarshal(plaintext, &raw); err != nil {
		return nil, fmt.Errorf("decoding keychain entry: %w", err)
	}

	e := &models.KeychainEntry{
		ItemID:       raw.ItemID,
		ItemType:     raw.ItemType,
		EncryptedKey: raw.EncryptedKey,
	}
	e.ID = raw.ID
	return e, nil
}
