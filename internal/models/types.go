// Package models defines the syncable entity types of the notesafe core and
// the sync record container that moves them between the local store and the
// server.
package models

// ItemType classifies a syncable entity.
type ItemType string

const (
	ItemTypeUser     ItemType = "user"
	ItemTypeSpace    ItemType = "space"
	ItemTypeBoard    ItemType = "board"
	ItemTypeNote     ItemType = "note"
	ItemTypeFile     ItemType = "file"
	ItemTypeKeychain ItemType = "keychain"
)

// Table returns the logical store table holding objects of this type.
func (t ItemType) Table() string {
	return string(t) + "s"
}

// SyncAction is the kind of mutation a sync record carries.
type SyncAction string

const (
	SyncActionAdd    SyncAction = "add"
	SyncActionEdit   SyncAction = "edit"
	SyncActionDelete SyncAction = "delete"
)

// Syncable is the capability every protected entity implements so the
// generic seal/open layer can handle it without per-type crypto code.
type Syncable interface {
	ObjectType() ItemType
	// GetMeta exposes the public (never encrypted) fields.
	GetMeta() *Meta
}
