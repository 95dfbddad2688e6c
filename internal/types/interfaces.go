// internal/types/interfaces.go
package types

import "context"

// SessionStore holds intake sessions keyed by conversation.
// Exactly one lane owns a key at a time; stores need not coordinate writers
// of the same key.
type SessionStore interface {
	// Load returns the stored session or a fresh neutral one when none exists.
	Load(ctx context.Context, key SessionKey) (*Session, error)
	Save(ctx context.Context, session *Session) error
	Clear(ctx context.Context, key SessionKey) error
	List(ctx context.Context) ([]*Session, error)
}

// IncidentStore persists finalized drafts.
type IncidentStore interface {
	PersistIncident(ctx context.Context, draft Draft, meta IncidentMeta) (IncidentRef, error)
	AppendAttachments(ctx context.Context, id IncidentID, metas []MediaMeta) error
	AppendDispatchEvent(ctx context.Context, id IncidentID, targets []DispatchTarget) error
}

// MediaStore writes image bytes to durable storage.
type MediaStore interface {
	Put(ctx context.Context, incident IncidentID, media PendingMedia) (MediaMeta, error)
}

// EventLog reads back the dispatch trace of an incident.
type EventLog interface {
	Append(ctx context.Context, event *Event) error
	Tail(ctx context.Context, incident IncidentID, limit int) ([]*Event, error)
}
