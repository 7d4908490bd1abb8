package models

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// User is the account-level entity. Secret settings live inside the
// ciphertext; the id doubles as the owner id of everything else.
type User struct {
	Meta
	Username string            `json:"username"`
	Settings map[string]string `json:"settings,omitempty"`
}

func (u *User) ObjectType() ItemType { return ItemTypeUser }

func (u *User) Validate() error {
	return validation.ValidateStruct(u,
		validation.Field(&u.Username, validation.Required, validation.Length(1, 128)),
	)
}

// Space is the top-level container. A space owns boards and notes.
type Space struct {
	Meta
	Title string `json:"title"`
	Color string `json:"color,omitempty"`
}

func (s *Space) ObjectType() ItemType { return ItemTypeSpace }

func (s *Space) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Title, validation.Required, validation.Length(1, 256)),
	)
}

// Board groups notes inside a space.
type Board struct {
	Meta
	SpaceID string `json:"space_id"`
	Title   string `json:"title"`
}

func (b *Board) ObjectType() ItemType { return ItemTypeBoard }

func (b *Board) Validate() error {
	return validation.ValidateStruct(b,
		validation.Field(&b.SpaceID, validation.Required),
		validation.Field(&b.Title, validation.Required, validation.Length(1, 256)),
	)
}

// Note is a note or bookmark. BoardID may be empty (a note belongs to at
// most one board). FileID is set when an attachment exists.
type Note struct {
	Meta
	SpaceID string   `json:"space_id"`
	BoardID string   `json:"board_id,omitempty"`
	Title   string   `json:"title"`
	Body    string   `json:"body,omitempty"`
	URL     string   `json:"url,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	FileID  string   `json:"file_id,omitempty"`
}

func (n *Note) ObjectType() ItemType { return ItemTypeNote }

func (n *Note) Validate() error {
	return validation.ValidateStruct(n,
		validation.Field(&n.SpaceID, validation.Required),
		validation.Field(&n.Title, validation.Length(0, 1024)),
	)
}

// HasFile reports whether the note carries an attachment.
func (n *Note) HasFile() bool { return n.FileID != "" }

// FileMeta describes an encrypted file attachment. The bytes themselves live
// on the filesystem, not in the object store; exactly one note owns a file.
type FileMeta struct {
	Meta
	NoteID string `json:"note_id"`
	Name   string `json:"name,omitempty"`
	Size   int64  `json:"size"`
}

func (f *FileMeta) ObjectType() ItemType { return ItemTypeFile }

func (f *FileMeta) Validate() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.NoteID, validation.Required),
		validation.Field(&f.Size, validation.Min(0)),
	)
}

// KeychainEntry maps an entity to the symmetric key protecting it. The key
// here is already encrypted under the master key; the plaintext key never
// leaves the keychain.
type KeychainEntry struct {
	Meta
	ItemID       string   `json:"item_id"`
	ItemType     ItemType `json:"item_type"`
	EncryptedKey []byte   `json:"k"`
}

func (e *KeychainEntry) ObjectType() ItemType { return ItemTypeKeychain }

func (e *KeychainEntry) Validate() error {
	return validation.ValidateStruct(e,
		validation.Field(&e.ItemID, validation.Required),
		validation.Field(&e.ItemType, validation.Required),
		validation.Field(&e.EncryptedKey, validation.Required),
	)
}
