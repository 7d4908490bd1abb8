// Package keychain maps entity identifiers to the symmetric keys protecting
// them. Keys are held decrypted in memory for the lifetime of a session and
// persisted only as KeychainEntry objects encrypted under the master key.
//
// Losing a keychain mapping for a stored object makes that data permanently
// unrecoverable, which is why a miss is a loud, distinct error and entries
// are never removed except by explicit caller action.
package keychain

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/notesafe/notesafe/internal/cryptox"
	"github.com/notesafe/notesafe/internal/models"
)

// ErrKeyNotFound signals a missing key mapping. Callers must treat it as a
// data-loss risk and surface it, never retry around it.
var ErrKeyNotFound = errors.New("key not found")

type keyID struct {
	itemType models.ItemType
	itemID   string
}

type Keychain struct {
	mu        sync.RWMutex
	masterKey []byte
	keys      map[keyID][]byte
	// entryIDs remembers the persisted KeychainEntry id for each mapping so
	// re-sealing an existing entry does not mint a new object.
	entryIDs map[keyID]string
}

func New(masterKey []byte) *Keychain {
	return &Keychain{
		masterKey: masterKey,
		keys:      make(map[keyID][]byte),
		entryIDs:  make(map[keyID]string),
	}
}

// KeyFor returns the symmetric key for an entity, or ErrKeyNotFound.
func (k *Keychain) KeyFor(itemType models.ItemType, itemID string) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	key, ok := k.keys[keyID{itemType, itemID}]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrKeyNotFound, itemType, itemID)
	}
	return key, nil
}

// SetKey registers (or replaces) the key for an entity.
func (k *Keychain) SetKey(itemType models.ItemType, itemID string, key []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[keyID{itemType, itemID}] = key
}

// GenerateKey creates, registers and returns a fresh key for an entity.
func (k *Keychain) GenerateKey(itemType models.ItemType, itemID string) ([]byte, error) {
	key, err := cryptox.GenerateKey()
	if err != nil {
		return nil, err
	}
	k.SetKey(itemType, itemID, key)
	return key, nil
}

// RemoveKey drops a mapping. This is an explicit user action; nothing in the
// sync or storage paths calls it.
func (k *Keychain) RemoveKey(itemType models.ItemType, itemID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	id := keyID{itemType, itemID}
	delete(k.keys, id)
	delete(k.entryIDs, id)
}

// LoadEntry decrypts a persisted KeychainEntry and registers its mapping.
func (k *Keychain) LoadEntry(e *models.KeychainEntry) error {
	key, err := cryptox.Open(k.masterKey, e.EncryptedKey)
	if err != nil {
		return fmt.Errorf("keychain entry %s: %w", e.ID, err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	id := keyID{e.ItemType, e.ItemID}
	k.keys[id] = key
	k.entryIDs[id] = e.ID
	return nil
}

// Entries returns the persistable form of every mapping, each key sealed
// under the master key. Entry ids are stable across calls for a mapping that
// was loaded or exported before.
func (k *Keychain) Entries() ([]*models.KeychainEntry, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	entries := make([]*models.KeychainEntry, 0, len(k.keys))
	for id, key := range k.keys {
		sealed, err := cryptox.Seal(k.masterKey, key)
		if err != nil {
			return nil, fmt.Errorf("sealing key for %s %s: %w", id.itemType, id.itemID, err)
		}

		entryID, ok := k.entryIDs[id]
		if !ok {
			entryID = uuid.NewString()
			k.entryIDs[id] = entryID
		}

		e := &models.KeychainEntry{
			ItemID:       id.itemID,
			ItemType:     id.itemType,
			EncryptedKey: sealed,
		}
		e.ID = entryID
		entries = append(entries, e)
	}
	return entries, nil
}
