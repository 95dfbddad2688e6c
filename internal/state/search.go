package state

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"github.com/user/conserje/internal/types"
)

// DefaultIncidentIndex is the index persisted incidents are mirrored into.
const DefaultIncidentIndex = "conserje-incidents"

// IncidentDocument is the searchable projection of an incident.
type IncidentDocument struct {
	ID          string    `json:"id"`
	Folio       string    `json:"folio"`
	Area        string    `json:"area"`
	Areas       []string  `json:"areas,omitempty"`
	Lugar       string    `json:"lugar"`
	Descripcion string    `json:"descripcion"`
	Details     []string  `json:"details,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	SessionKey  string    `json:"session_key"`
	CreatedAt   time.Time `json:"created_at"`
	Delivered   int       `json:"delivered"`
	Failed      int       `json:"failed"`
}

// IndexedIncidentStore mirrors persisted incidents into Elasticsearch.
// The wrapped store stays authoritative; indexing failures are logged only.
type IndexedIncidentStore struct {
	types.IncidentStore
	es     *elasticsearch.Client
	index  string
	logger *zap.Logger
}

// NewIndexedIncidentStore decorates inner with a search mirror.
func NewIndexedIncidentStore(inner types.IncidentStore, es *elasticsearch.Client, index string, logger *zap.Logger) *IndexedIncidentStore {
	if index == "" {
		index = DefaultIncidentIndex
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IndexedIncidentStore{IncidentStore: inner, es: es, index: index, logger: logger.Named("search")}
}

func (s *IndexedIncidentStore) PersistIncident(ctx context.Context, draft types.Draft, meta types.IncidentMeta) (types.IncidentRef, error) {
	ref, err := s.IncidentStore.PersistIncident(ctx, draft, meta)
	if err != nil {
		return ref, err
	}
	doc := IncidentDocument{
		ID:          string(ref.ID),
		Folio:       ref.Folio,
		Area:        draft.AreaDestino,
		Areas:       draft.Areas,
		Lugar:       draft.Lugar,
		Descripcion: draft.Descripcion,
		Details:     draft.Details,
		Tags:        draft.Tags,
		SessionKey:  string(meta.SessionKey),
		CreatedAt:   meta.CreatedAt,
	}
	if err := s.indexDocument(ctx, doc); err != nil {
		s.logger.Warn("index incident failed", zap.String("incident_id", string(ref.ID)), zap.Error(err))
	}
	return ref, nil
}

func (s *IndexedIncidentStore) AppendDispatchEvent(ctx context.Context, id types.IncidentID, targets []types.DispatchTarget) error {
	if err := s.IncidentStore.AppendDispatchEvent(ctx, id, targets); err != nil {
		return err
	}
	var delivered, failed int
	for _, t := range targets {
		if t.Delivered {
			delivered++
		} else {
			failed++
		}
	}
	if err := s.updateCounts(ctx, id, delivered, failed); err != nil {
		s.logger.Warn("update incident index failed", zap.String("incident_id", string(id)), zap.Error(err))
	}
	return nil
}

func (s *IndexedIncidentStore) indexDocument(ctx context.Context, doc IncidentDocument) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	req := esapi.IndexRequest{
		Index:      s.index,
		DocumentID: doc.ID,
		Body:       bytes.NewReader(body),
		Refresh:    "false",
	}
	res, err := req.Do(ctx, s.es)
	if err != nil {
		return fmt.Errorf("index request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index error: %s", res.Status())
	}
	return nil
}

func (s *IndexedIncidentStore) updateCounts(ctx context.Context, id types.IncidentID, delivered, failed int) error {
	body, err := json.Marshal(map[string]any{
		"doc": map[string]int{"delivered": delivered, "failed": failed},
	})
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	req := esapi.UpdateRequest{
		Index:      s.index,
		DocumentID: string(id),
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, s.es)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("update error: %s", res.Status())
	}
	return nil
}

// Search runs a full-text query over place, description and details.
func (s *IndexedIncidentStore) Search(ctx context.Context, text string, limit int) ([]IncidentDocument, error) {
	if limit <= 0 {
		limit = 10
	}
	query, err := json.Marshal(map[string]any{
		"size": limit,
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":  text,
				"fields": []string{"lugar^2", "descripcion", "details", "folio", "area"},
			},
		},
		"sort": []any{map[string]string{"created_at": "desc"}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	res, err := s.es.Search(
		s.es.Search.WithContext(ctx),
		s.es.Search.WithIndex(s.index),
		s.es.Search.WithBody(strings.NewReader(string(query))),
	)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		msg, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search error: %s: %s", res.Status(), strings.TrimSpace(string(msg)))
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source IncidentDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	out := make([]IncidentDocument, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}
