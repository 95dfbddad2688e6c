// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

// SessionKey identifies one conversation (e.g. "telegram:<chat_id>").
type SessionKey string
type RunID string
type IncidentID string
type MediaID string
type EventID string

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

func NewIncidentID() IncidentID {
	return IncidentID(uuid.New().String())
}

func NewMediaID() MediaID {
	return MediaID(uuid.New().String())
}

func NewEventID() EventID {
	return EventID(uuid.New().String())
}

func NewSessionKey(parts ...string) SessionKey {
	return SessionKey(strings.Join(parts, ":"))
}

// Channel returns the prefix of the key up to the first colon.
func (k SessionKey) Channel() string {
	if i := strings.IndexByte(string(k), ':'); i >= 0 {
		return string(k)[:i]
	}
	return string(k)
}
