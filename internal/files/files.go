// Package files handles the coarse file-sync channel: encrypted attachment
// bodies live on the filesystem, not in the object store, and move over
// direct-transfer URLs negotiated with the server.
package files

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Path returns the on-disk location of an encrypted attachment.
func Path(dir, noteID, fileID string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.enc", noteID, fileID))
}

// EnsureDir creates the attachment directory if needed and returns it.
func EnsureDir(dataDir string) (string, error) {
	dir := filepath.Join(dataDir, "files")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return dir, nil
}

// Write stores downloaded encrypted bytes for an attachment.
func Write(dir, noteID, fileID string, data []byte) (string, error) {
	path := Path(dir, noteID, fileID)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

// Read loads the encrypted bytes of a locally held attachment.
func Read(dir, noteID, fileID string) ([]byte, error) {
	path := Path(dir, noteID, fileID)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// Held reports whether the encrypted attachment exists locally.
func Held(dir, noteID, fileID string) bool {
	_, err := os.Stat(Path(dir, noteID, fileID))
	return err == nil
}

// Ref identifies one attachment within the file channel.
type Ref struct {
	NoteID string
	FileID string
}

// DiffOutgoing returns the attachments we hold locally that the server does
// not report for the same notes, in stable (note id, file id) order. This is
// how outgoing file uploads are derived; they are never queued as ordinary
// sync records.
func DiffOutgoing(local []Ref, serverFiles map[string][]string) []Ref {
	remote := make(map[Ref]struct{})
	for noteID, fileIDs := range serverFiles {
		for _, fileID := range fileIDs {
			remote[Ref{NoteID: noteID, FileID: fileID}] = struct{}{}
		}
	}

	var missing []Ref
	for _, ref := range local {
		if _, ok := remote[ref]; !ok {
			missing = append(missing, ref)
		}
	}
	sort.Slice(missing, func(i, j int) bool {
		if missing[i].NoteID != missing[j].NoteID {
			return missing[i].NoteID < missing[j].NoteID
		}
		return missing[i].FileID < missing[j].FileID
	})
	return missing
}

// DiffIncoming returns the attachments the server reports that we do not
// hold locally yet.
func DiffIncoming(dir string, serverFiles map[string][]string) []Ref {
	var missing []Ref
	for noteID, fileIDs := range serverFiles {
		for _, fileID := range fileIDs {
			if !Held(dir, noteID, fileID) {
				missing = append(missing, Ref{NoteID: noteID, FileID: fileID})
			}
		}
	}
	sort.Slice(missing, func(i, j int) bool {
		if missing[i].NoteID != missing[j].NoteID {
			return missing[i].NoteID < missing[j].NoteID
		}
		return missing[i].FileID < missing[j].FileID
	})
	return missing
}
