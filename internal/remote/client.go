// Package remote contains the client-side contract with the sync server and
// its HTTP implementation. The server only ever sees sealed payloads and
// public fields.
package remote

import (
	"context"

	"github.com/notesafe/notesafe/internal/models"
)

// Record is the wire form of a remote change returned by Poll.
type Record struct {
	ID             string            `json:"id"`
	Action         models.SyncAction `json:"action"`
	ItemType       models.ItemType   `json:"type"`
	ItemID         string            `json:"item_id"`
	ServerSequence int64             `json:"sequence"`
	Payload        []byte            `json:"payload,omitempty"`
}

// Client is the transport-agnostic contract with the sync server.
type Client interface {
	// Push submits one sync record and returns the server-assigned
	// sequence.
	Push(ctx context.Context, rec *models.SyncRecord) (int64, error)

	// Poll returns all remote changes with sequence > since, ordered by
	// ascending sequence.
	Poll(ctx context.Context, since int64) ([]Record, error)

	// NoteFiles reports, for each given note id, the file ids the server
	// holds for it. Used to diff the coarse file channel.
	NoteFiles(ctx context.Context, noteIDs []string) (map[string][]string, error)

	// UploadURL and DownloadURL negotiate short-lived direct-transfer URLs
	// for encrypted file bodies.
	UploadURL(ctx context.Context, noteID, fileID string) (string, error)
	DownloadURL(ctx context.Context, noteID, fileID string) (string, error)

	Close() error
}
