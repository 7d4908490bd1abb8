package profile

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/notesafe/notesafe/internal/keychain"
	"github.com/notesafe/notesafe/internal/models"
	"github.com/notesafe/notesafe/internal/protected"
	"github.com/notesafe/notesafe/internal/store"
)

func setupProfile(t *testing.T, reindex ReindexFunc) (*Profile, *store.Store, *keychain.Keychain) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE objects (
  table_id  TEXT NOT NULL,
  object_id TEXT NOT NULL,
  data      BLOB NOT NULL,
  PRIMARY KEY (table_id, object_id)
);
CREATE TABLE object_index (
  table_id   TEXT NOT NULL,
  index_name TEXT NOT NULL,
  index_key  TEXT NOT NULL,
  object_id  TEXT NOT NULL
);
CREATE TABLE kv (
  namespace TEXT NOT NULL,
  key       TEXT NOT NULL,
  value     BLOB NOT NULL,
  PRIMARY KEY (namespace, key)
);
`)
	require.NoError(t, err)

	st := store.New(db)
	kc := keychain.New(testMasterKey())
	return New("u1", st, kc, reindex), st, kc
}

func testMasterKey() []byte {
	master := make([]byte, 32)
	for i := range master {
		master[i] = byte(i + 1)
	}
	return master
}

func TestApplyLocal_AddNote(t *testing.T) {
	p, st, kc := setupProfile(t, nil)
	ctx := context.Background()

	n := &models.Note{SpaceID: "s1", Title: "groceries", Body: "milk"}
	records, err := p.ApplyLocal(ctx, Mutation{Action: models.SyncActionAdd, Item: n})
	require.NoError(t, err)

	// a fresh entity produces its own record plus the minted keychain entry
	require.Len(t, records, 2)
	assert.Equal(t, models.ItemTypeNote, records[0].ItemType)
	assert.Equal(t, models.SyncActionAdd, records[0].Action)
	assert.Equal(t, n.ID, records[0].ItemID)
	assert.Equal(t, "u1", records[0].UserID)
	assert.Equal(t, models.ItemTypeKeychain, records[1].ItemType)

	// id and ownership were assigned
	assert.NotEmpty(t, n.ID)
	assert.False(t, n.UpdatedAt.IsZero())

	// the working set holds the note, the store holds its sealed form
	assert.Same(t, n, p.Notes[n.ID])
	blob, err := st.Get(ctx, models.ItemTypeNote.Table(), n.ID)
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "milk")

	// the minted key round-trips through the sealed blob
	sealer := protected.NewSealer(kc)
	var got models.Note
	require.NoError(t, sealer.OpenBytes(blob, &got))
	assert.Equal(t, "milk", got.Body)
}

func TestApplyLocal_EditReusesKey(t *testing.T) {
	p, _, _ := setupProfile(t, nil)
	ctx := context.Background()

	n := &models.Note{SpaceID: "s1", Title: "v1"}
	_, err := p.ApplyLocal(ctx, Mutation{Action: models.SyncActionAdd, Item: n})
	require.NoError(t, err)

	n.Title = "v2"
	records, err := p.ApplyLocal(ctx, Mutation{Action: models.SyncActionEdit, Item: n})
	require.NoError(t, err)

	// no new keychain record on edit
	require.Len(t, records, 1)
	assert.Equal(t, models.SyncActionEdit, records[0].Action)
}

func TestApplyLocal_EditWithoutKeyFails(t *testing.T) {
	p, _, _ := setupProfile(t, nil)

	n := &models.Note{SpaceID: "s1", Title: "orphan"}
	n.ID = "n-unknown"
	_, err := p.ApplyLocal(context.Background(), Mutation{Action: models.SyncActionEdit, Item: n})
	assert.ErrorIs(t, err, keychain.ErrKeyNotFound)
}

func TestApplyLocal_ReplayProducesSameRecordID(t *testing.T) {
	p, _, _ := setupProfile(t, nil)
	ctx := context.Background()

	n := &models.Note{SpaceID: "s1", Title: "stable"}
	first, err := p.ApplyLocal(ctx, Mutation{Action: models.SyncActionAdd, Item: n})
	require.NoError(t, err)
	second, err := p.ApplyLocal(ctx, Mutation{Action: models.SyncActionAdd, Item: n})
	require.NoError(t, err)

	// replaying the same mutation upserts the same queue row
	assert.Equal(t, first[0].ID, second[0].ID)
}

func TestApplyLocal_Delete(t *testing.T) {
	reindexed := map[string]string{}
	p, st, _ := setupProfile(t, func(noteID, title, body string) {
		reindexed[noteID] = title + "|" + body
	})
	ctx := context.Background()

	n := &models.Note{SpaceID: "s1", Title: "doomed", Body: "soon gone"}
	_, err := p.ApplyLocal(ctx, Mutation{Action: models.SyncActionAdd, Item: n})
	require.NoError(t, err)
	assert.Equal(t, "doomed|soon gone", reindexed[n.ID])

	records, err := p.ApplyLocal(ctx, Mutation{Action: models.SyncActionDelete, Item: n})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.SyncActionDelete, records[0].Action)
	assert.Nil(t, records[0].Payload)

	assert.NotContains(t, p.Notes, n.ID)
	_, err = st.Get(ctx, models.ItemTypeNote.Table(), n.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// the deletion cleared the search index entry
	assert.Equal(t, "|", reindexed[n.ID])
}

func TestApplyLocal_RejectsInvalid(t *testing.T) {
	p, _, _ := setupProfile(t, nil)

	n := &models.Note{Title: "no space"}
	_, err := p.ApplyLocal(context.Background(), Mutation{Action: models.SyncActionAdd, Item: n})
	assert.Error(t, err)
}

func TestLoad_RebuildsWorkingSet(t *testing.T) {
	p, st, _ := setupProfile(t, nil)
	ctx := context.Background()

	sp := &models.Space{Title: "personal"}
	_, err := p.ApplyLocal(ctx, Mutation{Action: models.SyncActionAdd, Item: sp})
	require.NoError(t, err)
	n := &models.Note{SpaceID: sp.ID, Title: "groceries"}
	_, err = p.ApplyLocal(ctx, Mutation{Action: models.SyncActionAdd, Item: n})
	require.NoError(t, err)

	// fresh profile over the same store and master key
	p2 := New("u1", st, keychain.New(testMasterKey()), nil)
	require.NoError(t, p2.Load(ctx))

	require.Contains(t, p2.Spaces, sp.ID)
	assert.Equal(t, "personal", p2.Spaces[sp.ID].Title)
	require.Contains(t, p2.Notes, n.ID)
	assert.Equal(t, "groceries", p2.Notes[n.ID].Title)
}

func TestLoad_AllOrNothing(t *testing.T) {
	p, st, _ := setupProfile(t, nil)
	ctx := context.Background()

	n := &models.Note{SpaceID: "s1", Title: "fine"}
	_, err := p.ApplyLocal(ctx, Mutation{Action: models.SyncActionAdd, Item: n})
	require.NoError(t, err)

	// corrupt one stored blob
	require.NoError(t, st.Put(ctx, models.ItemTypeNote.Table(), "broken", []byte("not a sealed blob"), nil))

	p2 := New("u1", st, keychain.New(testMasterKey()), nil)
	err = p2.Load(ctx)
	require.Error(t, err)

	// nothing partial leaks into the working set
	assert.Empty(t, p2.Notes)
	assert.Empty(t, p2.Spaces)
}

func TestApplyRemote_SequencePolicy(t *testing.T) {
	p, _, kc := setupProfile(t, nil)
	ctx := context.Background()
	sealer := protected.NewSealer(kc)

	seal := func(title string) []byte {
		n := &models.Note{SpaceID: "s1", Title: title}
		n.ID = "n1"
		if _, err := kc.KeyFor(models.ItemTypeNote, "n1"); err != nil {
			_, err = kc.GenerateKey(models.ItemTypeNote, "n1")
			require.NoError(t, err)
		}
		sealed, err := sealer.Seal(n)
		require.NoError(t, err)
		blob, err := sealed.Encode()
		require.NoError(t, err)
		return blob
	}

	require.NoError(t, p.ApplyRemote(ctx, &models.SyncRecord{
		ID: "r5", Action: models.SyncActionAdd, ItemType: models.ItemTypeNote,
		ItemID: "n1", ServerSequence: 5, Payload: seal("five"),
	}))
	assert.Equal(t, "five", p.Notes["n1"].Title)

	// a newer sequence replaces the whole record
	require.NoError(t, p.ApplyRemote(ctx, &models.SyncRecord{
		ID: "r7", Action: models.SyncActionEdit, ItemType: models.ItemTypeNote,
		ItemID: "n1", ServerSequence: 7, Payload: seal("seven"),
	}))
	assert.Equal(t, "seven", p.Notes["n1"].Title)

	// an equal or older one is skipped entirely
	require.NoError(t, p.ApplyRemote(ctx, &models.SyncRecord{
		ID: "r6", Action: models.SyncActionEdit, ItemType: models.ItemTypeNote,
		ItemID: "n1", ServerSequence: 6, Payload: seal("six"),
	}))
	assert.Equal(t, "seven", p.Notes["n1"].Title)
	require.NoError(t, p.ApplyRemote(ctx, &models.SyncRecord{
		ID: "r7b", Action: models.SyncActionEdit, ItemType: models.ItemTypeNote,
		ItemID: "n1", ServerSequence: 7, Payload: seal("seven again"),
	}))
	assert.Equal(t, "seven", p.Notes["n1"].Title)
}

func TestApplyRemote_KeychainEntry(t *testing.T) {
	p, st, kc := setupProfile(t, nil)
	ctx := context.Background()

	// a second device minted a key and shipped its sealed entry
	other := keychain.New(testMasterKey())
	_, err := other.GenerateKey(models.ItemTypeNote, "n-remote")
	require.NoError(t, err)
	entries, err := other.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	blob, err := other.SealEntry(entries[0])
	require.NoError(t, err)

	require.NoError(t, p.ApplyRemote(ctx, &models.SyncRecord{
		ID: "r1", Action: models.SyncActionAdd, ItemType: models.ItemTypeKeychain,
		ItemID: entries[0].ID, ServerSequence: 1, Payload: blob,
	}))

	// the mapping is live and the entry persisted
	_, err = kc.KeyFor(models.ItemTypeNote, "n-remote")
	require.NoError(t, err)
	_, err = st.Get(ctx, models.ItemTypeKeychain.Table(), entries[0].ID)
	require.NoError(t, err)
}

func TestAttachmentRefs(t *testing.T) {
	p, _, _ := setupProfile(t, nil)
	ctx := context.Background()

	plain := &models.Note{SpaceID: "s1", Title: "plain"}
	_, err := p.ApplyLocal(ctx, Mutation{Action: models.SyncActionAdd, Item: plain})
	require.NoError(t, err)

	attached := &models.Note{SpaceID: "s1", Title: "attached", FileID: "f1"}
	_, err = p.ApplyLocal(ctx, Mutation{Action: models.SyncActionAdd, Item: attached})
	require.NoError(t, err)

	refs := p.AttachmentRefs()
	require.Len(t, refs, 1)
	assert.Equal(t, attached.ID, refs[0].NoteID)
	assert.Equal(t, "f1", refs[0].FileID)

	assert.ElementsMatch(t, []string{plain.ID, attached.ID}, p.NoteIDs())
}
