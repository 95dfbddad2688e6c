// internal/state/incident.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/user/conserje/internal/types"
)

// Event types written to an incident's trace.
const (
	EventPersisted   = "incident_persisted"
	EventAttachments = "attachments_stored"
	EventDispatch    = "dispatch"
)

// FolioFunc formats the folio for the seq-th incident routed to area.
type FolioFunc func(area string, seq int64) string

// DefaultFolio is used when no FolioFunc is configured.
func DefaultFolio(area string, seq int64) string {
	if area == "" {
		area = "GEN"
	}
	return fmt.Sprintf("%s-%05d", area, seq)
}

// IncidentStore is a JSON-file-backed incident store.
// Each incident lives at incidents/<id>/incident.json; per-area folio
// sequences live in incidents/counters.json.
type IncidentStore struct {
	root   string
	folio  FolioFunc
	events *EventStore
	now    func() time.Time
	mu     sync.Mutex
}

// NewIncidentStore creates a store rooted at root. events receives the
// incident trace and may be shared with other readers.
func NewIncidentStore(root string, events *EventStore, folio FolioFunc) *IncidentStore {
	if folio == nil {
		folio = DefaultFolio
	}
	if events == nil {
		events = NewEventStore(root)
	}
	return &IncidentStore{root: root, folio: folio, events: events, now: time.Now}
}

func (s *IncidentStore) incidentPath(id types.IncidentID) string {
	return filepath.Join(s.root, "incidents", string(id), "incident.json")
}

func (s *IncidentStore) countersPath() string {
	return filepath.Join(s.root, "incidents", "counters.json")
}

// nextSeq bumps and returns the area's counter. Caller must hold s.mu.
func (s *IncidentStore) nextSeq(area string) (int64, error) {
	counters := make(map[string]int64)
	data, err := os.ReadFile(s.countersPath())
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &counters); err != nil {
			return 0, fmt.Errorf("unmarshal counters: %w", err)
		}
	case !os.IsNotExist(err):
		return 0, fmt.Errorf("read counters: %w", err)
	}

	counters[area]++
	out, err := json.MarshalIndent(counters, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("marshal counters: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.countersPath()), 0o755); err != nil {
		return 0, fmt.Errorf("create incidents dir: %w", err)
	}
	if err := writeAtomic(s.countersPath(), out); err != nil {
		return 0, fmt.Errorf("write counters: %w", err)
	}
	return counters[area], nil
}

func (s *IncidentStore) write(inc *types.Incident) error {
	data, err := json.MarshalIndent(inc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal incident: %w", err)
	}
	path := s.incidentPath(inc.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create incident dir: %w", err)
	}
	return writeAtomic(path, data)
}

func (s *IncidentStore) read(id types.IncidentID) (*types.Incident, error) {
	data, err := os.ReadFile(s.incidentPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("incident %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("read incident: %w", err)
	}
	var inc types.Incident
	if err := json.Unmarshal(data, &inc); err != nil {
		return nil, fmt.Errorf("unmarshal incident: %w", err)
	}
	return &inc, nil
}

// PersistIncident assigns an ID and a per-area folio and writes the draft.
func (s *IncidentStore) PersistIncident(ctx context.Context, draft types.Draft, meta types.IncidentMeta) (types.IncidentRef, error) {
	s.mu.Lock()
	seq, err := s.nextSeq(draft.AreaDestino)
	if err != nil {
		s.mu.Unlock()
		return types.IncidentRef{}, err
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = s.now()
	}
	inc := &types.Incident{
		ID:    types.NewIncidentID(),
		Folio: s.folio(draft.AreaDestino, seq),
		Draft: draft,
		Meta:  meta,
	}
	err = s.write(inc)
	s.mu.Unlock()
	if err != nil {
		return types.IncidentRef{}, err
	}

	payload, _ := json.Marshal(map[string]string{"folio": inc.Folio, "area": draft.AreaDestino})
	if err := s.events.Append(ctx, &types.Event{
		Incident: inc.ID,
		Type:     EventPersisted,
		At:       meta.CreatedAt,
		Payload:  payload,
	}); err != nil {
		return types.IncidentRef{}, fmt.Errorf("trace persisted incident: %w", err)
	}
	return types.IncidentRef{ID: inc.ID, Folio: inc.Folio}, nil
}

// AppendAttachments records stored media on the incident.
func (s *IncidentStore) AppendAttachments(ctx context.Context, id types.IncidentID, metas []types.MediaMeta) error {
	if len(metas) == 0 {
		return nil
	}
	s.mu.Lock()
	inc, err := s.read(id)
	if err == nil {
		inc.Attachments = append(inc.Attachments, metas...)
		err = s.write(inc)
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]int{"count": len(metas)})
	return s.events.Append(ctx, &types.Event{
		Incident: id,
		Type:     EventAttachments,
		At:       s.now(),
		Payload:  payload,
	})
}

// AppendDispatchEvent writes the per-destination delivery outcome to the trace.
func (s *IncidentStore) AppendDispatchEvent(ctx context.Context, id types.IncidentID, targets []types.DispatchTarget) error {
	return s.events.Append(ctx, &types.Event{
		Incident: id,
		Type:     EventDispatch,
		At:       s.now(),
		Targets:  targets,
	})
}

// Get returns a stored incident.
func (s *IncidentStore) Get(_ context.Context, id types.IncidentID) (*types.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(id)
}

// List returns all stored incidents, newest first.
func (s *IncidentStore) List(_ context.Context) ([]*types.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(s.root, "incidents", "*", "incident.json"))
	if err != nil {
		return nil, fmt.Errorf("glob incidents: %w", err)
	}
	out := make([]*types.Incident, 0, len(matches))
	for _, path := range matches {
		id := types.IncidentID(filepath.Base(filepath.Dir(path)))
		inc, err := s.read(id)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Meta.CreatedAt.After(out[j].Meta.CreatedAt) })
	return out, nil
}

// Events returns the incident's trace.
func (s *IncidentStore) Events() *EventStore { return s.events }
