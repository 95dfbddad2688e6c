package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/user/conserje/internal/types"
)

// PostgresSchema creates the tables used by PostgresIncidentStore.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS area_counters (
	area TEXT PRIMARY KEY,
	seq  BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS incidents (
	id          TEXT PRIMARY KEY,
	folio       TEXT NOT NULL UNIQUE,
	area        TEXT NOT NULL,
	lugar       TEXT NOT NULL,
	draft       JSONB NOT NULL,
	session_key TEXT NOT NULL,
	reporter_id TEXT,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS incident_attachments (
	media_id    TEXT PRIMARY KEY,
	incident_id TEXT NOT NULL REFERENCES incidents(id),
	mime_type   TEXT NOT NULL,
	path        TEXT NOT NULL,
	size        INTEGER NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS incident_events (
	id          TEXT PRIMARY KEY,
	incident_id TEXT NOT NULL,
	seq         BIGINT NOT NULL,
	type        TEXT NOT NULL,
	at          TIMESTAMPTZ NOT NULL,
	targets     JSONB,
	payload     JSONB,
	UNIQUE (incident_id, seq)
);
`

// PostgresIncidentStore persists incidents, folio counters, attachments and
// the dispatch trace in PostgreSQL.
type PostgresIncidentStore struct {
	db    *sql.DB
	folio FolioFunc
	now   func() time.Time
}

// NewPostgresIncidentStore wraps an open database handle.
func NewPostgresIncidentStore(db *sql.DB, folio FolioFunc) *PostgresIncidentStore {
	if folio == nil {
		folio = DefaultFolio
	}
	return &PostgresIncidentStore{db: db, folio: folio, now: time.Now}
}

// Migrate creates the schema when missing.
func (p *PostgresIncidentStore) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("migrate incidents schema: %w", err)
	}
	return nil
}

// PersistIncident bumps the area counter and inserts the incident in one transaction.
func (p *PostgresIncidentStore) PersistIncident(ctx context.Context, draft types.Draft, meta types.IncidentMeta) (types.IncidentRef, error) {
	draftJSON, err := json.Marshal(draft)
	if err != nil {
		return types.IncidentRef{}, fmt.Errorf("marshal draft: %w", err)
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = p.now()
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return types.IncidentRef{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO area_counters (area, seq) VALUES ($1, 1)
		ON CONFLICT (area) DO UPDATE SET seq = area_counters.seq + 1
		RETURNING seq`, draft.AreaDestino).Scan(&seq)
	if err != nil {
		return types.IncidentRef{}, fmt.Errorf("next folio sequence: %w", err)
	}

	ref := types.IncidentRef{ID: types.NewIncidentID(), Folio: p.folio(draft.AreaDestino, seq)}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO incidents (id, folio, area, lugar, draft, session_key, reporter_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(ref.ID), ref.Folio, draft.AreaDestino, draft.Lugar, draftJSON,
		string(meta.SessionKey), meta.ReporterID, meta.CreatedAt,
	)
	if err != nil {
		return types.IncidentRef{}, fmt.Errorf("insert incident: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return types.IncidentRef{}, fmt.Errorf("commit incident: %w", err)
	}
	return ref, nil
}

// AppendAttachments links stored media to the incident.
func (p *PostgresIncidentStore) AppendAttachments(ctx context.Context, id types.IncidentID, metas []types.MediaMeta) error {
	if len(metas) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, m := range metas {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO incident_attachments (media_id, incident_id, mime_type, path, size, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			string(m.ID), string(id), m.MimeType, m.Path, m.Size, m.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert attachment %s: %w", m.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit attachments: %w", err)
	}
	return nil
}

// AppendDispatchEvent records delivery outcomes as the next trace entry.
func (p *PostgresIncidentStore) AppendDispatchEvent(ctx context.Context, id types.IncidentID, targets []types.DispatchTarget) error {
	return p.Append(ctx, &types.Event{
		Incident: id,
		Type:     EventDispatch,
		At:       p.now(),
		Targets:  targets,
	})
}

// Append writes an event with the next per-incident sequence number.
func (p *PostgresIncidentStore) Append(ctx context.Context, event *types.Event) error {
	if event.ID == "" {
		event.ID = types.NewEventID()
	}
	targets, err := json.Marshal(event.Targets)
	if err != nil {
		return fmt.Errorf("marshal targets: %w", err)
	}
	var payload []byte
	if len(event.Payload) > 0 {
		payload = event.Payload
	}

	err = p.db.QueryRowContext(ctx, `
		INSERT INTO incident_events (id, incident_id, seq, type, at, targets, payload)
		VALUES ($1, $2,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM incident_events WHERE incident_id = $2),
			$3, $4, $5, $6)
		RETURNING seq`,
		string(event.ID), string(event.Incident), event.Type, event.At, targets, payload,
	).Scan(&event.Seq)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Tail returns the last limit events of the incident in sequence order.
// A non-positive limit returns every event.
func (p *PostgresIncidentStore) Tail(ctx context.Context, id types.IncidentID, limit int) ([]*types.Event, error) {
	query := `
		SELECT id, seq, type, at, targets, payload FROM incident_events
		WHERE incident_id = $1 ORDER BY seq DESC`
	args := []any{string(id)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*types.Event
	for rows.Next() {
		var (
			ev      types.Event
			evID    string
			targets []byte
			payload []byte
		)
		if err := rows.Scan(&evID, &ev.Seq, &ev.Type, &ev.At, &targets, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.ID = types.EventID(evID)
		ev.Incident = id
		if len(targets) > 0 {
			if err := json.Unmarshal(targets, &ev.Targets); err != nil {
				return nil, fmt.Errorf("unmarshal targets: %w", err)
			}
		}
		if len(payload) > 0 {
			ev.Payload = json.RawMessage(payload)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}
