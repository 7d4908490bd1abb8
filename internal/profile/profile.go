// Package profile is the in-memory working set: decrypted, live copies of
// the logged-in user's spaces, boards and notes, kept consistent with the
// local store and the sync engine's effects.
//
// A Profile is not safe for concurrent use by itself; every caller goes
// through the session lock, which guards the store and the profile as one
// unit (every sync mutation must update both consistently).
package profile

import (
	"context"
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/notesafe/notesafe/internal/files"
	"github.com/notesafe/notesafe/internal/keychain"
	"github.com/notesafe/notesafe/internal/models"
	"github.com/notesafe/notesafe/internal/protected"
	"github.com/notesafe/notesafe/internal/store"
)

// Mutation is one local change to apply.
type Mutation struct {
	Action models.SyncAction
	Item   models.Syncable
}

// ReindexFunc receives the decrypted body of a note whose content changed.
// The search index is an external collaborator; sync never depends on it.
type ReindexFunc func(noteID, title, body string)

type Profile struct {
	UserID string

	Spaces map[string]*models.Space
	Boards map[string]*models.Board
	Notes  map[string]*models.Note
	Files  map[string]*models.FileMeta

	st      *store.Store
	kc      *keychain.Keychain
	sealer  *protected.Sealer
	reindex ReindexFunc

	// seqs tracks the last applied server sequence per item for the
	// whole-record newer-sequence-wins policy. Rebuilt empty at login;
	// batch re-application after a crash is idempotent because re-applying
	// the same sealed payload produces the same state.
	seqs map[string]int64
}

func New(userID string, st *store.Store, kc *keychain.Keychain, reindex ReindexFunc) *Profile {
	if reindex == nil {
		reindex = func(string, string, string) {}
	}
	return &Profile{
		UserID:  userID,
		Spaces:  make(map[string]*models.Space),
		Boards:  make(map[string]*models.Board),
		Notes:   make(map[string]*models.Note),
		Files:   make(map[string]*models.FileMeta),
		st:      st,
		kc:      kc,
		sealer:  protected.NewSealer(kc),
		reindex: reindex,
		seqs:    make(map[string]int64),
	}
}

// Load rebuilds the whole working set from the store: keychain entries
// first, then every entity type. It is all-or-nothing: either the full
// graph decrypts or the error propagates and the profile stays empty, since
// a partially initialized profile would silently hide user data.
func (p *Profile) Load(ctx context.Context) error {
	blobs, err := p.st.List(ctx, models.ItemTypeKeychain.Table())
	if err != nil {
		return fmt.Errorf("loading keychain: %w", err)
	}
	for id, blob := range blobs {
		entry, err := p.kc.OpenEntry(blob)
		if err != nil {
			return fmt.Errorf("keychain entry %s: %w", id, err)
		}
		if err := p.kc.LoadEntry(entry); err != nil {
			return err
		}
	}

	spaces := make(map[string]*models.Space)
	boards := make(map[string]*models.Board)
	notes := make(map[string]*models.Note)
	fileMetas := make(map[string]*models.FileMeta)

	if err := loadTable(ctx, p, models.ItemTypeSpace, spaces, func() *models.Space { return &models.Space{} }); err != nil {
		return err
	}
	if err := loadTable(ctx, p, models.ItemTypeBoard, boards, func() *models.Board { return &models.Board{} }); err != nil {
		return err
	}
	if err := loadTable(ctx, p, models.ItemTypeNote, notes, func() *models.Note { return &models.Note{} }); err != nil {
		return err
	}
	if err := loadTable(ctx, p, models.ItemTypeFile, fileMetas, func() *models.FileMeta { return &models.FileMeta{} }); err != nil {
		return err
	}

	p.Spaces = spaces
	p.Boards = boards
	p.Notes = notes
	p.Files = fileMetas
	return nil
}

func loadTable[M models.Syncable](ctx context.Context, p *Profile, t models.ItemType, into map[string]M, newModel func() M) error {
	blobs, err := p.st.List(ctx, t.Table())
	if err != nil {
		return fmt.Errorf("loading %s: %w", t.Table(), err)
	}
	for id, blob := range blobs {
		m := newModel()
		if err := p.sealer.OpenBytes(blob, m); err != nil {
			return fmt.Errorf("opening %s %s: %w", t, id, err)
		}
		into[id] = m
	}
	return nil
}

// ApplyLocal applies a local mutation: updates the in-memory graph, persists
// the sealed form into the store and returns the sync records to enqueue.
// The first record always covers the mutated item; when the mutation minted
// a fresh entity key, a second record carries the new keychain entry.
func (p *Profile) ApplyLocal(ctx context.Context, m Mutation) ([]*models.SyncRecord, error) {
	item := m.Item
	meta := item.GetMeta()

	switch m.Action {
	case models.SyncActionAdd, models.SyncActionEdit:
		return p.applyLocalUpsert(ctx, m.Action, item)
	case models.SyncActionDelete:
		if err := p.st.Delete(ctx, item.ObjectType().Table(), meta.ID); err != nil {
			return nil, err
		}
		p.drop(item.ObjectType(), meta.ID)
		if item.ObjectType() == models.ItemTypeNote {
			p.reindex(meta.ID, "", "")
		}
		rec := models.NewSyncRecord(models.SyncActionDelete, item, nil)
		return []*models.SyncRecord{rec}, nil
	default:
		return nil, fmt.Errorf("unknown sync action %q", m.Action)
	}
}

func (p *Profile) applyLocalUpsert(ctx context.Context, action models.SyncAction, item models.Syncable) ([]*models.SyncRecord, error) {
	meta := item.GetMeta()
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	if meta.UserID == "" {
		meta.UserID = p.UserID
	}
	meta.Touch()

	if v, ok := item.(validation.Validatable); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", item.ObjectType(), err)
		}
	}

	// mint a key for a brand-new entity; edits must find one
	var keyRecord *models.SyncRecord
	if _, err := p.kc.KeyFor(item.ObjectType(), meta.ID); err != nil {
		if !errors.Is(err, keychain.ErrKeyNotFound) || action != models.SyncActionAdd {
			return nil, err
		}
		if _, err := p.kc.GenerateKey(item.ObjectType(), meta.ID); err != nil {
			return nil, err
		}
		entry, err := p.kc.Entry(item.ObjectType(), meta.ID)
		if err != nil {
			return nil, err
		}
		blob, err := p.kc.SealEntry(entry)
		if err != nil {
			return nil, err
		}
		err = p.st.Put(ctx, models.ItemTypeKeychain.Table(), entry.ID, blob,
			[]store.IndexEntry{{Name: "item_id", Key: entry.ItemID}})
		if err != nil {
			return nil, err
		}
		keyRecord = models.NewSyncRecord(models.SyncActionAdd, entry, blob)
	}

	sealed, err := p.sealer.Seal(item)
	if err != nil {
		return nil, err
	}
	blob, err := sealed.Encode()
	if err != nil {
		return nil, err
	}

	if err := p.st.Put(ctx, item.ObjectType().Table(), meta.ID, blob, indexesFor(item)); err != nil {
		return nil, err
	}

	p.hold(item)
	if n, ok := item.(*models.Note); ok {
		p.reindex(n.ID, n.Title, n.Body)
	}

	records := []*models.SyncRecord{models.NewSyncRecord(action, item, blob)}
	if keyRecord != nil {
		records = append(records, keyRecord)
	}
	return records, nil
}

// ApplyRemote applies one incoming sync record. Conflict policy is
// whole-record: a record whose server sequence is not strictly newer than
// the one currently held for the same item is skipped entirely; there is no
// field-level merge.
func (p *Profile) ApplyRemote(ctx context.Context, rec *models.SyncRecord) error {
	if rec.ServerSequence <= p.seqs[rec.ItemID] {
		return nil
	}

	switch rec.Action {
	case models.SyncActionAdd, models.SyncActionEdit:
		if err := p.applyRemoteUpsert(ctx, rec); err != nil {
			return err
		}
	case models.SyncActionDelete:
		if err := p.st.Delete(ctx, rec.ItemType.Table(), rec.ItemID); err != nil {
			return err
		}
		p.drop(rec.ItemType, rec.ItemID)
		if rec.ItemType == models.ItemTypeNote {
			p.reindex(rec.ItemID, "", "")
		}
	default:
		return fmt.Errorf("unknown sync action %q", rec.Action)
	}

	p.seqs[rec.ItemID] = rec.ServerSequence
	return nil
}

func (p *Profile) applyRemoteUpsert(ctx context.Context, rec *models.SyncRecord) error {
	if rec.ItemType == models.ItemTypeKeychain {
		entry, err := p.kc.OpenEntry(rec.Payload)
		if err != nil {
			return err
		}
		if err := p.kc.LoadEntry(entry); err != nil {
			return err
		}
		return p.st.Put(ctx, models.ItemTypeKeychain.Table(), entry.ID, rec.Payload,
			[]store.IndexEntry{{Name: "item_id", Key: entry.ItemID}})
	}

	item, err := newModel(rec.ItemType)
	if err != nil {
		return err
	}
	if err := p.sealer.OpenBytes(rec.Payload, item); err != nil {
		return err
	}

	if err := p.st.Put(ctx, rec.ItemType.Table(), rec.ItemID, rec.Payload, indexesFor(item)); err != nil {
		return err
	}

	p.hold(item)
	if n, ok := item.(*models.Note); ok {
		p.reindex(n.ID, n.Title, n.Body)
	}
	return nil
}

// AttachmentRefs lists the attachments referenced by notes in the working
// set; input to the outgoing file diff.
func (p *Profile) AttachmentRefs() []files.Ref {
	var refs []files.Ref
	for _, n := range p.Notes {
		if n.HasFile() {
			refs = append(refs, files.Ref{NoteID: n.ID, FileID: n.FileID})
		}
	}
	return refs
}

// NoteIDs returns the ids of every note in the working set.
func (p *Profile) NoteIDs() []string {
	ids := make([]string, 0, len(p.Notes))
	for id := range p.Notes {
		ids = append(ids, id)
	}
	return ids
}

func (p *Profile) hold(item models.Syncable) {
	switch m := item.(type) {
	case *models.Space:
		p.Spaces[m.ID] = m
	case *models.Board:
		p.Boards[m.ID] = m
	case *models.Note:
		p.Notes[m.ID] = m
	case *models.FileMeta:
		p.Files[m.ID] = m
	}
}

func (p *Profile) drop(t models.ItemType, id string) {
	switch t {
	case models.ItemTypeSpace:
		delete(p.Spaces, id)
	case models.ItemTypeBoard:
		delete(p.Boards, id)
	case models.ItemTypeNote:
		delete(p.Notes, id)
	case models.ItemTypeFile:
		delete(p.Files, id)
	}
}

func newModel(t models.ItemType) (models.Syncable, error) {
	switch t {
	case models.ItemTypeUser:
		return &models.User{}, nil
	case models.ItemTypeSpace:
		return &models.Space{}, nil
	case models.ItemTypeBoard:
		return &models.Board{}, nil
	case models.ItemTypeNote:
		return &models.Note{}, nil
	case models.ItemTypeFile:
		return &models.FileMeta{}, nil
	default:
		return nil, fmt.Errorf("unknown item type %q", t)
	}
}

// indexesFor derives the secondary-index entries persisted with an object.
// Index keys hold only relationship ids, never secret content.
func indexesFor(item models.Syncable) []store.IndexEntry {
	switch m := item.(type) {
	case *models.Board:
		return []store.IndexEntry{{Name: "space_id", Key: m.SpaceID}}
	case *models.Note:
		entries := []store.IndexEntry{{Name: "space_id", Key: m.SpaceID}}
		if m.BoardID != "" {
			entries = append(entries, store.IndexEntry{Name: "board_id", Key: m.BoardID})
		}
		if m.FileID != "" {
			entries = append(entries, store.IndexEntry{Name: "file_id", Key: m.FileID})
		}
		return entries
	case *models.FileMeta:
		return []store.IndexEntry{{Name: "note_id", Key: m.NoteID}}
	case *models.KeychainEntry:
		return []store.IndexEntry{{Name: "item_id", Key: m.ItemID}}
	}
	return nil
}
