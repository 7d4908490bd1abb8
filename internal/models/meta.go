package models

import "time"

// Meta holds the public fields of a syncable entity: id, owner and
// timestamps. These are the only fields ever stored or transmitted outside
// the ciphertext, which is why every field here carries `json:"-"`: the
// canonical (encrypted) serialization of a model must not duplicate them.
type Meta struct {
	ID        string    `json:"-"`
	UserID    string    `json:"-"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

func (m *Meta) GetMeta() *Meta { return m }

// Touch stamps UpdatedAt (and CreatedAt when unset) with the current UTC
// time.
func (m *Meta) Touch() {
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
}
