package syncer

import (
	"context"

	"github.com/notesafe/notesafe/internal/files"
)

// filesOutgoingBatch uploads encrypted attachments the server is missing.
// Uploads are derived by diffing locally held attachments against what the
// server reports for the same notes; they are never ordinary queue records.
func (e *Engine) filesOutgoingBatch(ctx context.Context) error {
	e.lock.Lock()
	refs := e.profile.AttachmentRefs()
	noteIDs := e.profile.NoteIDs()
	e.lock.Unlock()

	if len(refs) == 0 {
		return nil
	}

	held := refs[:0]
	for _, ref := range refs {
		if files.Held(e.filesDir, ref.NoteID, ref.FileID) {
			held = append(held, ref)
		}
	}
	if len(held) == 0 {
		return nil
	}

	serverFiles, err := e.remote.NoteFiles(ctx, noteIDs)
	if err != nil {
		e.markDisconnected(ctx)
		return err
	}
	e.markConnected(ctx)

	for _, ref := range files.DiffOutgoing(held, serverFiles) {
		if e.isPaused() {
			return nil
		}

		data, err := files.Read(e.filesDir, ref.NoteID, ref.FileID)
		if err != nil {
			return err
		}
		url, err := e.remote.UploadURL(ctx, ref.NoteID, ref.FileID)
		if err != nil {
			return err
		}
		if err := files.Upload(ctx, e.transferClient, url, data); err != nil {
			return err
		}
		e.log.Info(ctx, "attachment uploaded", "note", ref.NoteID, "file", ref.FileID)
	}
	return nil
}

// filesIncomingBatch downloads encrypted attachments the server holds that
// we do not, writing them to the attachment directory.
func (e *Engine) filesIncomingBatch(ctx context.Context) error {
	e.lock.Lock()
	noteIDs := e.profile.NoteIDs()
	e.lock.Unlock()

	if len(noteIDs) == 0 {
		return nil
	}

	serverFiles, err := e.remote.NoteFiles(ctx, noteIDs)
	if err != nil {
		e.markDisconnected(ctx)
		return err
	}
	e.markConnected(ctx)

	for _, ref := range files.DiffIncoming(e.filesDir, serverFiles) {
		if e.isPaused() {
			return nil
		}

		url, err := e.remote.DownloadURL(ctx, ref.NoteID, ref.FileID)
		if err != nil {
			return err
		}
		data, err := files.Download(ctx, e.transferClient, url)
		if err != nil {
			return err
		}
		if _, err := files.Write(e.filesDir, ref.NoteID, ref.FileID, data); err != nil {
			return err
		}
		e.log.Info(ctx, "attachment downloaded", "note", ref.NoteID, "file", ref.FileID)
	}
	return nil
}
