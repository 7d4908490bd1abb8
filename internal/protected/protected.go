// Package protected is the crypto boundary around syncable entities. Every
// entity exists in exactly one of two states: open (plaintext, safe only in
// the profile) or sealed (ciphertext plus public metadata, safe to persist
// and transmit). Conversion always goes through a Sealer, which is the only
// code allowed to see both states of the same value.
//
// Instead of per-type crypto code, Seal and Open are implemented once
// against the models.Syncable capability interface.
package protected

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/notesafe/notesafe/internal/cryptox"
	"github.com/notesafe/notesafe/internal/keychain"
	"github.com/notesafe/notesafe/internal/models"
)

// SchemaVersion tags every sealed blob. Open fails closed on any mismatch
// rather than attempting a lossy decode.
const SchemaVersion = 1

var (
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrSchemaMismatch   = errors.New("schema version mismatch")
)

// Sealed is the ciphertext-only representation of an entity. Everything
// outside Body is public by design: id, type, owner and timestamps.
type Sealed struct {
	ID        string          `json:"id"`
	Type      models.ItemType `json:"type"`
	Schema    uint8           `json:"v"`
	UserID    string          `json:"user_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`

	// Body is the AEAD blob (nonce || ciphertext) of the entity's canonical
	// JSON.
	Body []byte `json:"body"`
}

// Encode returns the persistable/transmittable form of a sealed entity.
func (s *Sealed) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// Decode restores a Sealed from its encoded form.
func Decode(data []byte) (*Sealed, error) {
	var s Sealed
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding sealed blob: %w", err)
	}
	return &s, nil
}

// Sealer converts entities between their open and sealed states using keys
// from the keychain.
type Sealer struct {
	kc *keychain.Keychain
}

func NewSealer(kc *keychain.Keychain) *Sealer {
	return &Sealer{kc: kc}
}

// Seal serializes the entity's secret fields to canonical JSON, encrypts
// them under the entity's key and tags the result with the schema version.
// The key must already exist in the keychain; a miss propagates
// keychain.ErrKeyNotFound.
func (s *Sealer) Seal(m models.Syncable) (*Sealed, error) {
	meta := m.GetMeta()

	key, err := s.kc.KeyFor(m.ObjectType(), meta.ID)
	if err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("serializing %s %s: %w", m.ObjectType(), meta.ID, err)
	}

	body, err := cryptox.Seal(key, plaintext)
	if err != nil {
		return nil, fmt.Errorf("sealing %s %s: %w", m.ObjectType(), meta.ID, err)
	}

	return &Sealed{
		ID:        meta.ID,
		Type:      m.ObjectType(),
		Schema:    SchemaVersion,
		UserID:    meta.UserID,
		CreatedAt: meta.CreatedAt,
		UpdatedAt: meta.UpdatedAt,
		Body:      body,
	}, nil
}

// Open decrypts a sealed entity into the given model and restores its public
// metadata from the sealed header.
func (s *Sealer) Open(sd *Sealed, into models.Syncable) error {
	if sd.Schema != SchemaVersion {
		return fmt.Errorf("%w: blob v%d, core v%d", ErrSchemaMismatch, sd.Schema, SchemaVersion)
	}
	if sd.Type != into.ObjectType() {
		return fmt.Errorf("%w: blob type %s, target type %s", ErrSchemaMismatch, sd.Type, into.ObjectType())
	}

	key, err := s.kc.KeyFor(sd.Type, sd.ID)
	if err != nil {
		return err
	}

	plaintext, err := cryptox.Open(key, sd.Body)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrDecryptionFailed, sd.Type, sd.ID, err)
	}

	if err := json.Unmarshal(plaintext, into); err != nil {
		return fmt.Errorf("%w: %s %s: bad canonical form: %v", ErrDecryptionFailed, sd.Type, sd.ID, err)
	}

	*into.GetMeta() = models.Meta{
		ID:        sd.ID,
		UserID:    sd.UserID,
		CreatedAt: sd.CreatedAt,
		UpdatedAt: sd.UpdatedAt,
	}
	return nil
}

// OpenBytes decodes an encoded sealed blob and opens it.
func (s *Sealer) OpenBytes(data []byte, into models.Syncable) error {
	sd, err := Decode(data)
	if err != nil {
		return err
	}
	return s.Open(sd, into)
}
