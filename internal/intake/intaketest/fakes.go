// Package intaketest provides deterministic stand-ins for the intake
// engine's external collaborators.
package intaketest

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/user/conserje/internal/intake"
	"github.com/user/conserje/internal/resolve"
	"github.com/user/conserje/internal/textnorm"
	"github.com/user/conserje/internal/types"
)

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at t.
func NewClock(t time.Time) *Clock { return &Clock{now: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Interpreter returns scripted interpretations keyed by the simplified turn
// text. Unscripted turns get Default, or an empty interpretation.
type Interpreter struct {
	mu      sync.Mutex
	Script  map[string]intake.Interpretation
	Default func(in intake.TurnInput) intake.Interpretation
	Err     error
	Calls   []intake.TurnInput
}

// NewInterpreter creates an interpreter with an empty script.
func NewInterpreter() *Interpreter {
	return &Interpreter{Script: make(map[string]intake.Interpretation)}
}

// On scripts the interpretation for text.
func (f *Interpreter) On(text string, interp intake.Interpretation) *Interpreter {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Script[textnorm.Simplify(text)] = interp
	return f
}

func (f *Interpreter) Interpret(_ context.Context, in intake.TurnInput) (intake.Interpretation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, in)
	if f.Err != nil {
		return intake.Interpretation{}, f.Err
	}
	if interp, ok := f.Script[textnorm.Simplify(in.Text)]; ok {
		return interp, nil
	}
	if f.Default != nil {
		return f.Default(in), nil
	}
	return intake.Interpretation{}, nil
}

// CallCount returns how many times Interpret ran.
func (f *Interpreter) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

// Vision returns Result for every image.
type Vision struct {
	mu     sync.Mutex
	Result intake.VisionResult
	Err    error
	Calls  []intake.VisionInput
}

func (f *Vision) AnalyzeImage(_ context.Context, in intake.VisionInput) (intake.VisionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, in)
	if f.Err != nil {
		return intake.VisionResult{}, f.Err
	}
	return f.Result, nil
}

// AreaDetector maps keywords found in the text to area values.
type AreaDetector struct {
	Rules map[string]string
	Err   error
}

func (f *AreaDetector) DetectArea(_ context.Context, text string) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	simple := textnorm.Simplify(text)
	keys := make([]string, 0, len(f.Rules))
	for k := range f.Rules {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if textnorm.ContainsPhrase(simple, textnorm.Simplify(k)) {
			return f.Rules[k], nil
		}
	}
	return "", nil
}

// InformalClassifier returns Result for every call.
type InformalClassifier struct {
	Result resolve.InformalResult
	Err    error
	Calls  int
}

func (f *InformalClassifier) ClassifyPlace(context.Context, string, []string) (resolve.InformalResult, error) {
	f.Calls++
	return f.Result, f.Err
}

// Replier records every reply.
type Replier struct {
	mu      sync.Mutex
	Replies []string
	Err     error
}

func (r *Replier) Reply(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Replies = append(r.Replies, text)
	return r.Err
}

// Last returns the most recent reply, or "".
func (r *Replier) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Replies) == 0 {
		return ""
	}
	return r.Replies[len(r.Replies)-1]
}

// Count returns the number of replies sent.
func (r *Replier) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Replies)
}

// Reset forgets recorded replies.
func (r *Replier) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Replies = nil
}

// Dispatcher routes areas to a fixed destination map and records sends.
type Dispatcher struct {
	mu           sync.Mutex
	Destinations map[string][]string
	Fail         map[string]bool
	Sent         []types.OutboundMessage
}

func (d *Dispatcher) ResolveTargetGroups(primary string, areas []string) types.TargetGroups {
	var groups types.TargetGroups
	if dests := d.Destinations[primary]; len(dests) > 0 {
		groups.Primary = types.AreaTarget{Area: primary, Destinations: dests}
	} else {
		groups.Primary = types.AreaTarget{Area: primary}
		groups.UnknownAreas = append(groups.UnknownAreas, primary)
	}
	for _, a := range areas {
		if a == primary {
			continue
		}
		if dests := d.Destinations[a]; len(dests) > 0 {
			groups.Secondary = append(groups.Secondary, types.AreaTarget{Area: a, Destinations: dests})
		} else {
			groups.UnknownAreas = append(groups.UnknownAreas, a)
		}
	}
	return groups
}

func (d *Dispatcher) SendToDestinations(_ context.Context, groups types.TargetGroups, msg types.OutboundMessage) []types.DispatchTarget {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Sent = append(d.Sent, msg)
	var out []types.DispatchTarget
	add := func(t types.AreaTarget, primary bool) {
		for _, dest := range t.Destinations {
			res := types.DispatchTarget{Area: t.Area, Destination: dest, Primary: primary, Delivered: true}
			if d.Fail[dest] {
				res.Delivered = false
				res.Error = "unreachable"
			}
			out = append(out, res)
		}
	}
	add(groups.Primary, true)
	for _, s := range groups.Secondary {
		add(s, false)
	}
	return out
}

// Incidents is an in-memory incident store with per-area folio sequences.
type Incidents struct {
	mu          sync.Mutex
	Folio       func(area string, seq int64) string
	Err         error
	Incidents   []types.Incident
	Attachments map[types.IncidentID][]types.MediaMeta
	Dispatches  map[types.IncidentID][][]types.DispatchTarget
	seq         map[string]int64
}

// NewIncidents creates an empty store. folio may be nil.
func NewIncidents(folio func(area string, seq int64) string) *Incidents {
	if folio == nil {
		folio = func(area string, seq int64) string {
			return fmt.Sprintf("%s-%05d", strings.ToUpper(area), seq)
		}
	}
	return &Incidents{
		Folio:       folio,
		Attachments: make(map[types.IncidentID][]types.MediaMeta),
		Dispatches:  make(map[types.IncidentID][][]types.DispatchTarget),
		seq:         make(map[string]int64),
	}
}

func (s *Incidents) PersistIncident(_ context.Context, draft types.Draft, meta types.IncidentMeta) (types.IncidentRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return types.IncidentRef{}, s.Err
	}
	s.seq[draft.AreaDestino]++
	ref := types.IncidentRef{ID: types.NewIncidentID(), Folio: s.Folio(draft.AreaDestino, s.seq[draft.AreaDestino])}
	s.Incidents = append(s.Incidents, types.Incident{ID: ref.ID, Folio: ref.Folio, Draft: draft, Meta: meta})
	return ref, nil
}

func (s *Incidents) AppendAttachments(_ context.Context, id types.IncidentID, metas []types.MediaMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Attachments[id] = append(s.Attachments[id], metas...)
	return nil
}

func (s *Incidents) AppendDispatchEvent(_ context.Context, id types.IncidentID, targets []types.DispatchTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Dispatches[id] = append(s.Dispatches[id], targets)
	return nil
}

// Media records stored images without touching the filesystem.
type Media struct {
	mu     sync.Mutex
	Stored []types.MediaMeta
	Err    error
}

func (m *Media) Put(_ context.Context, incident types.IncidentID, media types.PendingMedia) (types.MediaMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return types.MediaMeta{}, m.Err
	}
	meta := types.MediaMeta{
		ID:        media.ID,
		Incident:  incident,
		MimeType:  media.MimeType,
		Path:      "mem://" + string(media.ID),
		Size:      len(media.Data),
		CreatedAt: media.ReceivedAt,
	}
	m.Stored = append(m.Stored, meta)
	return meta, nil
}

var (
	_ intake.Interpreter         = (*Interpreter)(nil)
	_ intake.VisionAnalyzer      = (*Vision)(nil)
	_ intake.Replier             = (*Replier)(nil)
	_ intake.Clock               = (*Clock)(nil)
	_ resolve.AreaDetector       = (*AreaDetector)(nil)
	_ resolve.InformalClassifier = (*InformalClassifier)(nil)
	_ types.Dispatcher           = (*Dispatcher)(nil)
	_ types.IncidentStore        = (*Incidents)(nil)
	_ types.MediaStore           = (*Media)(nil)
)
