package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/conserje/internal/types"
)

// maxEventLine bounds one serialized event in a trace file.
const maxEventLine = 4 << 20

// EventStore appends incident trace events to
// <root>/incidents/<id>/events.jsonl, one JSON object per line.
type EventStore struct {
	root string

	mu       sync.Mutex
	journals map[types.IncidentID]*journal
}

// journal serializes writers of one incident and caches its last sequence
// number once the file has been read.
type journal struct {
	mu     sync.Mutex
	seq    int64
	loaded bool
}

func NewEventStore(root string) *EventStore {
	return &EventStore{root: root, journals: make(map[types.IncidentID]*journal)}
}

func (e *EventStore) journalFor(id types.IncidentID) *journal {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.journals[id]
	if !ok {
		j = &journal{}
		e.journals[id] = j
	}
	return j
}

func (e *EventStore) path(id types.IncidentID) string {
	return filepath.Join(e.root, "incidents", string(id), "events.jsonl")
}

// scan calls fn for every stored line of the incident's trace.
func (e *EventStore) scan(id types.IncidentID, fn func(line []byte) error) error {
	f, err := os.Open(e.path(id))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open trace %s: %w", id, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), maxEventLine)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		if err := fn(sc.Bytes()); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read trace %s: %w", id, err)
	}
	return nil
}

// lastSeq returns the journal's sequence, counting lines on first use.
// Caller holds j.mu.
func (e *EventStore) lastSeq(id types.IncidentID, j *journal) (int64, error) {
	if j.loaded {
		return j.seq, nil
	}
	var n int64
	if err := e.scan(id, func([]byte) error { n++; return nil }); err != nil {
		return 0, err
	}
	j.seq, j.loaded = n, true
	return n, nil
}

// Append assigns the next sequence number (and an ID when missing) and
// writes the event.
func (e *EventStore) Append(_ context.Context, event *types.Event) error {
	j := e.journalFor(event.Incident)
	j.mu.Lock()
	defer j.mu.Unlock()

	seq, err := e.lastSeq(event.Incident, j)
	if err != nil {
		return err
	}
	event.Seq = seq + 1
	if event.ID == "" {
		event.ID = types.NewEventID()
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	path := e.path(event.Incident)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create incident dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open trace %s: %w", event.Incident, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	j.seq = event.Seq
	return nil
}

// Tail returns the newest limit events in order; limit <= 0 means all.
func (e *EventStore) Tail(_ context.Context, id types.IncidentID, limit int) ([]*types.Event, error) {
	j := e.journalFor(id)
	j.mu.Lock()
	defer j.mu.Unlock()

	var events []*types.Event
	err := e.scan(id, func(line []byte) error {
		var ev types.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		events = append(events, &ev)
		if limit > 0 && len(events) > limit {
			events = events[1:]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Count is the number of events recorded for the incident.
func (e *EventStore) Count(_ context.Context, id types.IncidentID) (int64, error) {
	j := e.journalFor(id)
	j.mu.Lock()
	defer j.mu.Unlock()
	return e.lastSeq(id, j)
}
