// internal/state/media.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/user/conserje/internal/types"
)

var mimeExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"image/heic": ".heic",
}

func extensionFor(mimeType string) string {
	if ext, ok := mimeExtensions[strings.ToLower(strings.TrimSpace(mimeType))]; ok {
		return ext
	}
	return ".bin"
}

// MediaStore writes incident photos as individual files.
// Files are located at incidents/<incidentID>/media/<mediaID>.<ext>, with a
// sibling <mediaID>.json holding the metadata.
type MediaStore struct {
	root string
	now  func() time.Time
}

// NewMediaStore creates a new file-backed MediaStore rooted at the given directory.
func NewMediaStore(root string) *MediaStore {
	return &MediaStore{root: root, now: time.Now}
}

func (m *MediaStore) mediaDir(incident types.IncidentID) string {
	return filepath.Join(m.root, "incidents", string(incident), "media")
}

// writeAtomic writes via temp file + rename.
func writeAtomic(target string, data []byte) error {
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Put stores the image bytes and returns where they landed.
func (m *MediaStore) Put(_ context.Context, incident types.IncidentID, media types.PendingMedia) (types.MediaMeta, error) {
	if incident == "" {
		return types.MediaMeta{}, fmt.Errorf("put media: empty incident id")
	}
	if len(media.Data) == 0 {
		return types.MediaMeta{}, fmt.Errorf("put media %s: no data", media.ID)
	}
	id := media.ID
	if id == "" {
		id = types.NewMediaID()
	}

	dir := m.mediaDir(incident)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.MediaMeta{}, fmt.Errorf("create media dir: %w", err)
	}

	path := filepath.Join(dir, string(id)+extensionFor(media.MimeType))
	if err := writeAtomic(path, media.Data); err != nil {
		return types.MediaMeta{}, fmt.Errorf("store media %s: %w", id, err)
	}

	created := media.ReceivedAt
	if created.IsZero() {
		created = m.now()
	}
	meta := types.MediaMeta{
		ID:        id,
		Incident:  incident,
		MimeType:  media.MimeType,
		Path:      path,
		Size:      len(media.Data),
		CreatedAt: created,
	}

	content, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return types.MediaMeta{}, fmt.Errorf("marshal media meta: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, string(id)+".json"), content); err != nil {
		return types.MediaMeta{}, fmt.Errorf("store media meta %s: %w", id, err)
	}
	return meta, nil
}

// List returns metadata for every photo stored under the incident.
func (m *MediaStore) List(_ context.Context, incident types.IncidentID) ([]types.MediaMeta, error) {
	matches, err := filepath.Glob(filepath.Join(m.mediaDir(incident), "*.json"))
	if err != nil {
		return nil, fmt.Errorf("glob media: %w", err)
	}
	out := make([]types.MediaMeta, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read media meta: %w", err)
		}
		var meta types.MediaMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			return nil, fmt.Errorf("unmarshal media meta: %w", err)
		}
		out = append(out, meta)
	}
	return out, nil
}
