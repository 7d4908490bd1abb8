// Package session ties one logged-in user's core state together: the open
// store, the decrypted keychain and profile, the outgoing queue and the
// event bus. A Session is constructed at login, passed explicitly to
// everything that needs it, and torn down at logout; there is no ambient
// global state.
package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/notesafe/notesafe/internal/bus"
	"github.com/notesafe/notesafe/internal/cryptox"
	"github.com/notesafe/notesafe/internal/files"
	"github.com/notesafe/notesafe/internal/keychain"
	"github.com/notesafe/notesafe/internal/logging"
	"github.com/notesafe/notesafe/internal/models"
	"github.com/notesafe/notesafe/internal/profile"
	"github.com/notesafe/notesafe/internal/remote"
	"github.com/notesafe/notesafe/internal/store"
	"github.com/notesafe/notesafe/internal/syncer"
)

var (
	// ErrWrongPassphrase means the derived master key does not match the
	// stored verifier.
	ErrWrongPassphrase = errors.New("wrong passphrase")
	// ErrAlreadyRunning means another core instance holds the data
	// directory lock.
	ErrAlreadyRunning = errors.New("data directory is locked by another instance")
)

const (
	kvSalt      = "salt"
	kvVerifier  = "verifier"
	kvLastLogin = "last_login"
)

// Options configures Open.
type Options struct {
	DataDir string
	// Reindex receives decrypted note bodies on content changes; nil
	// disables search notifications.
	Reindex profile.ReindexFunc
	Log     logging.Logger
}

type Session struct {
	UserID string

	Store    *store.Store
	Keychain *keychain.Keychain
	Profile  *profile.Profile
	Queue    *syncer.Queue
	Bus      *bus.Bus
	Log      logging.Logger

	// Lock is the single-writer lock guarding the store and profile as one
	// unit.
	Lock sync.Mutex

	DataDir  string
	FilesDir string

	flk *flock.Flock
}

// Open builds a session: acquires the single-instance lock, opens the store,
// derives and verifies the master key, loads the keychain and rebuilds the
// full profile. Login is all-or-nothing; any failure tears down what was
// opened and returns the error.
func Open(ctx context.Context, userID string, passphrase []byte, opts Options) (*Session, error) {
	if opts.Log == nil {
		opts.Log = logging.NewNop()
	}
	if err := os.MkdirAll(opts.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	flk := flock.New(filepath.Join(opts.DataDir, ".lock"))
	locked, err := flk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking data dir: %w", err)
	}
	if !locked {
		return nil, ErrAlreadyRunning
	}

	st, err := store.Open(ctx, filepath.Join(opts.DataDir, "notesafe.db"))
	if err != nil {
		_ = flk.Unlock()
		return nil, err
	}

	fail := func(err error) (*Session, error) {
		_ = st.Close()
		_ = flk.Unlock()
		return nil, err
	}

	masterKey, err := deriveAndVerify(ctx, st, passphrase)
	if err != nil {
		return fail(err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if err := st.KVSet(ctx, store.NSAuth, kvLastLogin, []byte(now)); err != nil {
		return fail(err)
	}

	kc := keychain.New(masterKey)
	prof := profile.New(userID, st, kc, opts.Reindex)
	if err := prof.Load(ctx); err != nil {
		return fail(fmt.Errorf("loading profile: %w", err))
	}

	filesDir, err := files.EnsureDir(opts.DataDir)
	if err != nil {
		return fail(err)
	}

	return &Session{
		UserID:   userID,
		Store:    st,
		Keychain: kc,
		Profile:  prof,
		Queue:    syncer.NewQueue(st),
		Bus:      bus.New(256),
		Log:      opts.Log,
		DataDir:  opts.DataDir,
		FilesDir: filesDir,
		flk:      flk,
	}, nil
}

func deriveAndVerify(ctx context.Context, st *store.Store, passphrase []byte) ([]byte, error) {
	salt, err := st.KVGet(ctx, store.NSAuth, kvSalt)
	if err != nil {
		return nil, err
	}
	if salt == nil {
		salt, err = cryptox.GenerateSalt()
		if err != nil {
			return nil, err
		}
		if err := st.KVSet(ctx, store.NSAuth, kvSalt, salt); err != nil {
			return nil, err
		}
	}

	masterKey := cryptox.DeriveMasterKey(passphrase, salt)

	verifier, err := st.KVGet(ctx, store.NSAuth, kvVerifier)
	if err != nil {
		return nil, err
	}
	if verifier == nil {
		return masterKey, st.KVSet(ctx, store.NSAuth, kvVerifier, cryptox.MakeVerifier(masterKey))
	}
	if subtle.ConstantTimeCompare(verifier, cryptox.MakeVerifier(masterKey)) != 1 {
		return nil, ErrWrongPassphrase
	}
	return masterKey, nil
}

// Mutate applies a local mutation under the session lock and enqueues the
// resulting sync records. It returns the record covering the mutated item.
func (s *Session) Mutate(ctx context.Context, action models.SyncAction, item models.Syncable) (*models.SyncRecord, error) {
	s.Lock.Lock()
	defer s.Lock.Unlock()

	records, err := s.Profile.ApplyLocal(ctx, profile.Mutation{Action: action, Item: item})
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if err := s.Queue.Enqueue(ctx, rec); err != nil {
			return nil, err
		}
	}
	return records[0], nil
}

// AttachFile encrypts plaintext under a fresh per-file key and stores it as
// the note's attachment: the FileMeta and the updated note both go through
// the normal mutation path, the encrypted bytes land in the files directory
// for the file channel to pick up.
func (s *Session) AttachFile(ctx context.Context, note *models.Note, name string, plaintext []byte) (*models.FileMeta, error) {
	fm := &models.FileMeta{NoteID: note.ID, Name: name, Size: int64(len(plaintext))}
	if _, err := s.Mutate(ctx, models.SyncActionAdd, fm); err != nil {
		return nil, err
	}

	key, err := s.Keychain.KeyFor(models.ItemTypeFile, fm.ID)
	if err != nil {
		return nil, err
	}
	blob, err := cryptox.Seal(key, plaintext)
	if err != nil {
		return nil, err
	}
	if _, err := files.Write(s.FilesDir, note.ID, fm.ID, blob); err != nil {
		return nil, err
	}

	note.FileID = fm.ID
	if _, err := s.Mutate(ctx, models.SyncActionEdit, note); err != nil {
		return nil, err
	}
	return fm, nil
}

// OpenFile decrypts the note's locally held attachment.
func (s *Session) OpenFile(_ context.Context, note *models.Note) ([]byte, error) {
	if !note.HasFile() {
		return nil, fmt.Errorf("note %s has no attachment", note.ID)
	}
	blob, err := files.Read(s.FilesDir, note.ID, note.FileID)
	if err != nil {
		return nil, err
	}
	key, err := s.Keychain.KeyFor(models.ItemTypeFile, note.FileID)
	if err != nil {
		return nil, err
	}
	return cryptox.Open(key, blob)
}

// NewEngine builds the sync engine for this session against a remote client.
// The sequence cursor is keyed per user and endpoint so switching servers
// restarts polling from scratch.
func (s *Session) NewEngine(rc remote.Client, endpoint string, pollInterval time.Duration, retryBound int) *syncer.Engine {
	return syncer.New(syncer.Params{
		Store:        s.Store,
		Queue:        s.Queue,
		Profile:      s.Profile,
		Remote:       rc,
		Bus:          s.Bus,
		Log:          s.Log,
		Lock:         &s.Lock,
		FilesDir:     s.FilesDir,
		CursorKey:    fmt.Sprintf("%s:%s", s.UserID, endpoint),
		PollInterval: pollInterval,
		RetryBound:   retryBound,
	})
}

// Close releases the instance lock and closes the store. The decrypted
// working set is simply dropped with the session.
func (s *Session) Close() error {
	err := s.Store.Close()
	if uerr := s.flk.Unlock(); uerr != nil && err == nil {
		err = uerr
	}
	return err
}
