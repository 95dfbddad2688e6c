// internal/types/models.go
package types

import (
	"encoding/json"
	"slices"
	"strings"
	"time"
)

// Mode is the intake state of a conversation.
type Mode string

const (
	ModeNeutral               Mode = "neutral"
	ModeAskPlace              Mode = "ask_place"
	ModeAskArea               Mode = "ask_area"
	ModeConfirmAreaSuggestion Mode = "confirm_area_suggestion"
	ModeChooseIncidentVersion Mode = "choose_incident_version"
	ModeConfirm               Mode = "confirm"
)

// Draft is the incident record under construction. Empty strings mean "not set".
type Draft struct {
	Descripcion         string   `json:"descripcion"`
	DescripcionOriginal string   `json:"descripcion_original"`
	Interpretacion      string   `json:"interpretacion,omitempty"`
	Lugar               string   `json:"lugar,omitempty"`
	Building            string   `json:"building,omitempty"`
	Floor               string   `json:"floor,omitempty"`
	Room                string   `json:"room,omitempty"`
	AreaDestino         string   `json:"area_destino,omitempty"`
	Areas               []string `json:"areas,omitempty"`
	Details             []string `json:"details,omitempty"`
	Tags                []string `json:"tags,omitempty"`
	Safety              []string `json:"safety,omitempty"`
	Notes               []string `json:"notes,omitempty"`
}

// Ready reports whether both required slots are filled.
func (d *Draft) Ready() bool {
	return d.Lugar != "" && d.AreaDestino != ""
}

// HasAreaCode reports whether code is already part of the area set.
func (d *Draft) HasAreaCode(code string) bool {
	return slices.Contains(d.Areas, code)
}

// AddArea appends code to the area set if absent.
func (d *Draft) AddArea(code string) {
	if code == "" || d.HasAreaCode(code) {
		return
	}
	d.Areas = append(d.Areas, code)
}

// SetPrimaryArea commits code as the primary area and makes sure it is in the set.
func (d *Draft) SetPrimaryArea(code string) {
	d.AreaDestino = code
	if code == "" {
		return
	}
	if !d.HasAreaCode(code) {
		d.Areas = append([]string{code}, d.Areas...)
	}
}

// ClearPlace unsets the place and its metadata.
func (d *Draft) ClearPlace() {
	d.Lugar, d.Building, d.Floor, d.Room = "", "", "", ""
}

// AddNote appends an audit entry.
func (d *Draft) AddNote(note string) {
	d.Notes = append(d.Notes, note)
}

// Summary returns the best one-line description of the draft.
func (d *Draft) Summary() string {
	switch {
	case d.Descripcion != "":
		return d.Descripcion
	case d.Interpretacion != "":
		return d.Interpretacion
	case len(d.Details) > 0:
		return d.Details[0]
	}
	return ""
}

// Image is one photo attached to an inbound turn.
type Image struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mime_type"`
}

// PendingMedia is an image received during the conversation that has not been
// written to durable storage yet.
type PendingMedia struct {
	ID         MediaID   `json:"id"`
	MimeType   string    `json:"mime_type"`
	Data       []byte    `json:"data"`
	ReceivedAt time.Time `json:"received_at"`
}

// HistoryEntry is one turn kept for audit/debugging.
type HistoryEntry struct {
	At     time.Time `json:"at"`
	Text   string    `json:"text"`
	Images int       `json:"images,omitempty"`
	Mode   Mode      `json:"mode"`
}

// Session is the per-conversation intake state. It is owned by the lane
// processing that conversation and is never shared across conversations.
type Session struct {
	Key                 SessionKey     `json:"key"`
	Mode                Mode           `json:"mode"`
	Draft               Draft          `json:"draft"`
	History             []HistoryEntry `json:"history,omitempty"`
	PendingMedia        []PendingMedia `json:"pending_media,omitempty"`
	VisionAreaHints     []string       `json:"vision_area_hints,omitempty"`
	SuggestedArea       string         `json:"suggested_area,omitempty"`
	// SuggestedAreaSource is where SuggestedArea came from: name, detector or vision.
	SuggestedAreaSource string         `json:"suggested_area_source,omitempty"`
	DeclinedAreas       []string       `json:"declined_areas,omitempty"`

	CandidateText string `json:"candidate_text,omitempty"`
	CandidateArea string `json:"candidate_area,omitempty"`

	LastPlacePromptAt time.Time `json:"last_place_prompt_at"`
	LastMediaAt       time.Time `json:"last_media_at"`
	MediaPromptSent   bool      `json:"media_prompt_sent,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession returns an empty session in neutral mode.
func NewSession(key SessionKey, now time.Time) *Session {
	return &Session{
		Key:       key,
		Mode:      ModeNeutral,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasStructuredContent reports whether the session holds anything worth
// protecting from the smalltalk guard.
func (s *Session) HasStructuredContent() bool {
	d := &s.Draft
	return d.Lugar != "" || d.AreaDestino != "" || len(d.Areas) > 0 ||
		len(d.Details) > 0 || len(s.PendingMedia) > 0 || len(s.VisionAreaHints) > 0
}

// HasIncident reports whether the draft already describes something.
func (s *Session) HasIncident() bool {
	return s.Draft.Descripcion != "" || s.Draft.Interpretacion != "" || s.HasStructuredContent()
}

// ClearCandidate drops the transient disambiguation state.
func (s *Session) ClearCandidate() {
	s.CandidateText, s.CandidateArea = "", ""
}

// Record appends a history entry, keeping at most limit entries.
func (s *Session) Record(entry HistoryEntry, limit int) {
	s.History = append(s.History, entry)
	if limit > 0 && len(s.History) > limit {
		s.History = s.History[len(s.History)-limit:]
	}
}

// AddVisionHints merges hints preserving first-seen order.
func (s *Session) AddVisionHints(hints []string) {
	for _, h := range hints {
		h = strings.TrimSpace(strings.ToLower(h))
		if h == "" || slices.Contains(s.VisionAreaHints, h) {
			continue
		}
		s.VisionAreaHints = append(s.VisionAreaHints, h)
	}
}

// SuggestArea records an unconfirmed area proposal and where it came from.
func (s *Session) SuggestArea(code, source string) {
	s.SuggestedArea, s.SuggestedAreaSource = code, source
}

// ClearSuggestedArea drops the pending area proposal.
func (s *Session) ClearSuggestedArea() {
	s.SuggestedArea, s.SuggestedAreaSource = "", ""
}

// EventKind distinguishes guest turns from system events routed through a lane.
type EventKind string

const (
	EventKindTurn   EventKind = "turn"
	EventKindReset  EventKind = "reset"
	EventKindExpire EventKind = "expire"
)

// InboundEvent is one message arriving from a channel.
type InboundEvent struct {
	Kind       EventKind       `json:"kind"`
	Source     string          `json:"source"`
	SessionKey SessionKey      `json:"session_key"`
	UserID     string          `json:"user_id"`
	Text       string          `json:"text"`
	Images     []Image         `json:"images,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// IncidentMeta carries who/when data persisted alongside the draft.
type IncidentMeta struct {
	SessionKey SessionKey `json:"session_key"`
	ReporterID string     `json:"reporter_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IncidentRef is what persistence hands back.
type IncidentRef struct {
	ID    IncidentID `json:"id"`
	Folio string     `json:"folio"`
}

// Incident is a persisted draft.
type Incident struct {
	ID          IncidentID   `json:"id"`
	Folio       string       `json:"folio"`
	Draft       Draft        `json:"draft"`
	Meta        IncidentMeta `json:"meta"`
	Attachments []MediaMeta  `json:"attachments,omitempty"`
}

// MediaMeta describes an image written to durable storage.
type MediaMeta struct {
	ID        MediaID    `json:"id"`
	Incident  IncidentID `json:"incident_id"`
	MimeType  string     `json:"mime_type"`
	Path      string     `json:"path"`
	Size      int        `json:"size"`
	CreatedAt time.Time  `json:"created_at"`
}

// DispatchTarget records the outcome of delivering to one destination.
type DispatchTarget struct {
	Area        string `json:"area"`
	Destination string `json:"destination"`
	Primary     bool   `json:"primary"`
	Delivered   bool   `json:"delivered"`
	Error       string `json:"error,omitempty"`
}

// Event is one entry of an incident's dispatch trace.
type Event struct {
	ID       EventID          `json:"id"`
	Incident IncidentID       `json:"incident_id"`
	Seq      int64            `json:"seq"`
	Type     string           `json:"type"`
	At       time.Time        `json:"at"`
	Targets  []DispatchTarget `json:"targets,omitempty"`
	Payload  json.RawMessage  `json:"payload,omitempty"`
}
