// Package syncer is the synchronization engine: it drains locally queued
// mutations to the server, polls for remote changes and applies them to the
// store and profile, and tracks connectivity as first-class, user-visible
// state.
//
// All data passing through the engine is either public metadata or sealed
// ciphertext; the engine itself never touches plaintext secrets.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/notesafe/notesafe/internal/bus"
	"github.com/notesafe/notesafe/internal/cryptox"
	"github.com/notesafe/notesafe/internal/keychain"
	"github.com/notesafe/notesafe/internal/logging"
	"github.com/notesafe/notesafe/internal/models"
	"github.com/notesafe/notesafe/internal/profile"
	"github.com/notesafe/notesafe/internal/protected"
	"github.com/notesafe/notesafe/internal/remote"
	"github.com/notesafe/notesafe/internal/store"
)

// Params wires an Engine to the session it serves. Lock is the session's
// single-writer lock guarding the store and profile together.
type Params struct {
	Store   *store.Store
	Queue   *Queue
	Profile *profile.Profile
	Remote  remote.Client
	Bus     *bus.Bus
	Log     logging.Logger

	Lock *sync.Mutex

	// FilesDir is where encrypted attachments live.
	FilesDir string
	// CursorKey namespaces the incoming sequence cursor per user+endpoint.
	CursorKey string

	PollInterval time.Duration
	RetryBound   int
}

type Engine struct {
	st      *store.Store
	queue   *Queue
	profile *profile.Profile
	remote  remote.Client
	bus     *bus.Bus
	log     logging.Logger

	lock *sync.Mutex

	filesDir     string
	cursorKey    string
	pollInterval time.Duration
	retryBound   int

	// transferClient moves file bodies over direct-transfer URLs.
	transferClient *http.Client

	stateMu sync.Mutex
	state   State
	paused  bool
	conn    connState
}

func New(p Params) *Engine {
	if p.PollInterval <= 0 {
		p.PollInterval = 3 * time.Second
	}
	if p.RetryBound <= 0 {
		p.RetryBound = 3
	}
	if p.CursorKey == "" {
		p.CursorKey = "cursor"
	}
	return &Engine{
		st:             p.Store,
		queue:          p.Queue,
		profile:        p.Profile,
		remote:         p.Remote,
		bus:            p.Bus,
		log:            p.Log,
		lock:           p.Lock,
		filesDir:       p.FilesDir,
		cursorKey:      p.CursorKey,
		pollInterval:   p.PollInterval,
		retryBound:     p.RetryBound,
		transferClient: &http.Client{Timeout: 60 * time.Second},
		state:          StateIdle,
	}
}

// Run drives the engine until ctx is cancelled: the outgoing drain, the
// incoming poll and the two file channels, each on its own ticker. Pause is
// cooperative (checked between batches, never mid-call) and shutdown lets an
// in-flight remote call finish or time out before the loop exits.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.loop(ctx, "outgoing", e.outgoingBatch) })
	g.Go(func() error { return e.loop(ctx, "incoming", e.incomingBatch) })
	g.Go(func() error { return e.loop(ctx, "files-outgoing", e.filesOutgoingBatch) })
	g.Go(func() error { return e.loop(ctx, "files-incoming", e.filesIncomingBatch) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (e *Engine) loop(ctx context.Context, name string, batch func(ctx context.Context) error) error {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if e.isPaused() {
				continue
			}
			// batches run on a context that survives shutdown so an
			// in-flight call completes or times out instead of being
			// cancelled while the session lock is held
			if err := batch(context.WithoutCancel(ctx)); err != nil {
				e.log.Error(ctx, "sync batch failed", "runner", name, "error", err)
			}
		}
	}
}

// outgoingBatch drains non-frozen records in FIFO order, one request per
// record. Permanent rejections freeze the record and the batch moves on; a
// record that exhausts its transient retries freezes too, flips the engine
// to disconnected and ends the batch (remaining records stay queued for the
// next successful exchange).
func (e *Engine) outgoingBatch(ctx context.Context) error {
	// during a known outage the queue holds as-is; the incoming poll is the
	// probe whose success flips connectivity back
	if e.isDisconnected() {
		return nil
	}

	records, err := e.queue.Pending(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	e.setState(StateSending)
	defer e.setState(StateIdle)

	for _, rec := range records {
		if e.isPaused() {
			return nil
		}

		err := e.send(ctx, rec)
		switch {
		case err == nil:
			if err := e.queue.Remove(ctx, rec.ID); err != nil {
				return err
			}
			e.markConnected(ctx)
		case remote.IsPermanent(err):
			if err := e.freeze(ctx, rec, err); err != nil {
				return err
			}
		default:
			// transient retries exhausted
			if ferr := e.freeze(ctx, rec, err); ferr != nil {
				return ferr
			}
			e.markDisconnected(ctx)
			return nil
		}
	}
	return nil
}

// send pushes one record with bounded exponential backoff. Permanent
// rejections abort immediately; only transport-class failures retry.
func (e *Engine) send(ctx context.Context, rec *models.SyncRecord) error {
	backoff := retry.NewExponential(500 * time.Millisecond)
	backoff = retry.WithJitter(100*time.Millisecond, backoff)
	backoff = retry.WithMaxRetries(uint64(e.retryBound-1), backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		rec.Attempts++
		seq, err := e.remote.Push(ctx, rec)
		if err != nil {
			if remote.IsPermanent(err) {
				return err
			}
			return retry.RetryableError(err)
		}
		rec.ServerSequence = seq
		return nil
	})
}

func (e *Engine) freeze(ctx context.Context, rec *models.SyncRecord, cause error) error {
	rec.Frozen = true
	rec.Error = cause.Error()
	if err := e.queue.Update(ctx, rec); err != nil {
		return err
	}
	e.log.Warn(ctx, "sync record frozen",
		"record", rec.ID, "item", rec.ItemID, "attempts", rec.Attempts, "error", rec.Error)
	e.bus.Emit(bus.EventFrozenItem, rec.ID)
	return nil
}

// incomingBatch polls for changes past the sequence cursor and applies them
// in ascending sequence order under the session lock. The cursor advances in
// one durable step per batch, so a crash mid-batch re-applies idempotently
// instead of skipping items.
func (e *Engine) incomingBatch(ctx context.Context) error {
	since, err := e.cursor(ctx)
	if err != nil {
		return err
	}

	e.setState(StateReceiving)
	defer e.setState(StateIdle)

	incoming, err := e.remote.Poll(ctx, since)
	if err != nil {
		e.markDisconnected(ctx)
		return err
	}
	e.markConnected(ctx)

	if len(incoming) == 0 {
		return nil
	}

	// sequence order is the sole ordering guarantee; sort defensively in
	// case the server interleaves
	sort.Slice(incoming, func(i, j int) bool {
		return incoming[i].ServerSequence < incoming[j].ServerSequence
	})

	e.lock.Lock()
	defer e.lock.Unlock()

	applied := 0
	last := since
	for _, in := range incoming {
		rec := &models.SyncRecord{
			ID:             in.ID,
			Action:         in.Action,
			ItemType:       in.ItemType,
			ItemID:         in.ItemID,
			ServerSequence: in.ServerSequence,
			Payload:        in.Payload,
		}
		if err := e.profile.ApplyRemote(ctx, rec); err != nil {
			// stop before advancing past the failed record; the next poll
			// resumes here
			if cerr := e.setCursor(ctx, last); cerr != nil {
				return cerr
			}
			// a record we cannot decrypt will never apply on retry; it has
			// to reach the host, not just the log
			if errors.Is(err, keychain.ErrKeyNotFound) ||
				errors.Is(err, protected.ErrDecryptionFailed) ||
				errors.Is(err, cryptox.ErrAuthenticationFailed) {
				e.log.Error(ctx, "incoming record blocked, cannot decrypt",
					"record", in.ID, "item", in.ItemID, "sequence", in.ServerSequence, "error", err)
				e.bus.Emit(bus.EventIncomingBlocked, in.ID)
			}
			return fmt.Errorf("applying incoming record %s (seq %d): %w", in.ID, in.ServerSequence, err)
		}
		if in.ServerSequence > last {
			last = in.ServerSequence
		}
		applied++
	}

	if err := e.setCursor(ctx, last); err != nil {
		return err
	}

	e.log.Info(ctx, "incoming batch applied", "records", applied, "cursor", last)
	e.bus.Emit(bus.EventIncomingApplied, applied)
	return nil
}

func (e *Engine) cursor(ctx context.Context) (int64, error) {
	v, err := e.st.KVGet(ctx, store.NSSync, e.cursorKey)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, nil
	}
	seq, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt sequence cursor %q: %w", v, err)
	}
	return seq, nil
}

func (e *Engine) setCursor(ctx context.Context, seq int64) error {
	return e.st.KVSet(ctx, store.NSSync, e.cursorKey, []byte(strconv.FormatInt(seq, 10)))
}

// Pause suspends syncing. The current batch completes first; pause is
// honored at the next batch boundary.
func (e *Engine) Pause() {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	e.paused = true
	e.state = StatePaused
}

// Resume re-enables syncing.
func (e *Engine) Resume() {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	e.paused = false
	e.state = StateIdle
}

func (e *Engine) isPaused() bool {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.paused
}

// State returns the engine's current state. Disconnected is reported only
// after a failed exchange; before any exchange the engine is simply idle.
func (e *Engine) State() State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.paused {
		return StatePaused
	}
	if e.conn == connDown && e.state == StateIdle {
		return StateDisconnected
	}
	return e.state
}

func (e *Engine) setState(s State) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if !e.paused {
		e.state = s
	}
}

func (e *Engine) isDisconnected() bool {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.conn == connDown
}

func (e *Engine) markConnected(ctx context.Context) {
	e.stateMu.Lock()
	changed := e.conn != connUp
	e.conn = connUp
	e.stateMu.Unlock()
	if changed {
		e.log.Info(ctx, "sync connected")
		e.bus.Emit(bus.EventConnected, true)
	}
}

func (e *Engine) markDisconnected(ctx context.Context) {
	e.stateMu.Lock()
	changed := e.conn != connDown
	e.conn = connDown
	e.stateMu.Unlock()
	if changed {
		e.log.Warn(ctx, "sync disconnected")
		e.bus.Emit(bus.EventDisconnected, false)
	}
}

// Pending returns every queued record, frozen ones included.
func (e *Engine) Pending(ctx context.Context) ([]*models.SyncRecord, error) {
	return e.queue.All(ctx)
}

// Unfreeze clears a record's frozen state so the next outgoing batch picks
// it up again.
func (e *Engine) Unfreeze(ctx context.Context, id string) error {
	rec, err := e.queue.Get(ctx, id)
	if err != nil {
		return err
	}
	rec.Frozen = false
	rec.Error = ""
	rec.Attempts = 0
	return e.queue.Update(ctx, rec)
}

// DeleteItem removes a record from the queue entirely. Frozen records are
// never auto-deleted; this is the explicit operator action.
func (e *Engine) DeleteItem(ctx context.Context, id string) error {
	return e.queue.Remove(ctx, id)
}

// HandleCommand dispatches a host control message. The reply payload is
// command-specific; unknown commands error.
func (e *Engine) HandleCommand(ctx context.Context, cmd bus.Command) (any, error) {
	switch cmd.Name {
	case bus.CmdPause:
		e.Pause()
		return nil, nil
	case bus.CmdResume:
		e.Resume()
		return nil, nil
	case bus.CmdGetPending:
		records, err := e.Pending(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(records)
	case bus.CmdUnfreezeItem:
		return nil, e.Unfreeze(ctx, cmd.ItemID)
	case bus.CmdDeleteItem:
		return nil, e.DeleteItem(ctx, cmd.ItemID)
	default:
		return nil, fmt.Errorf("unknown command %q", cmd.Name)
	}
}
