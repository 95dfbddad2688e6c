// Package state provides session, incident, media and trace storage
// implementations: filesystem, in-memory, Redis, PostgreSQL and an
// Elasticsearch search mirror.
package state

import (
	"errors"

	"github.com/user/conserje/internal/types"
)

// ErrNotFound is returned when a stored record does not exist.
var ErrNotFound = errors.New("not found")

// Compile-time interface compliance checks.
var _ types.SessionStore = (*SessionStore)(nil)
var _ types.SessionStore = (*MemorySessionStore)(nil)
var _ types.SessionStore = (*RedisSessionStore)(nil)
var _ types.IncidentStore = (*IncidentStore)(nil)
var _ types.IncidentStore = (*PostgresIncidentStore)(nil)
var _ types.IncidentStore = (*IndexedIncidentStore)(nil)
var _ types.MediaStore = (*MediaStore)(nil)
var _ types.EventLog = (*EventStore)(nil)
var _ types.EventLog = (*PostgresIncidentStore)(nil)
