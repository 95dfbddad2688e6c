package state

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/conserje/internal/types"
)

type fakeES struct {
	mu       sync.Mutex
	requests []string
	bodies   []string
	status   int
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.bodies = append(f.bodies, string(body))
	status := f.status
	f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
		w.Write([]byte(`{"error":"boom"}`))
		return
	}
	if strings.HasSuffix(r.URL.Path, "/_search") {
		w.Write([]byte(`{"hits":{"hits":[{"_source":{"id":"i1","folio":"MAN-00001","lugar":"Villa 6","area":"man"}}]}}`))
		return
	}
	w.Write([]byte(`{"result":"created"}`))
}

func newTestES(t *testing.T, handler http.Handler) *elasticsearch.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return es
}

func TestIndexedIncidentStoreMirrors(t *testing.T) {
	fake := &fakeES{}
	es := newTestES(t, fake)
	inner := NewIncidentStore(t.TempDir(), nil, nil)
	store := NewIndexedIncidentStore(inner, es, "", zap.NewNop())
	ctx := context.Background()

	ref, err := store.PersistIncident(ctx, types.Draft{Lugar: "Villa 6", AreaDestino: "man", Descripcion: "fuga"}, types.IncidentMeta{SessionKey: "telegram:1"})
	require.NoError(t, err)

	targets := []types.DispatchTarget{
		{Area: "man", Destination: "a", Delivered: true},
		{Area: "it", Destination: "b", Delivered: false},
	}
	require.NoError(t, store.AppendDispatchEvent(ctx, ref.ID, targets))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.requests, 2)
	assert.Equal(t, "PUT /"+DefaultIncidentIndex+"/_doc/"+string(ref.ID), fake.requests[0])
	assert.Equal(t, "POST /"+DefaultIncidentIndex+"/_update/"+string(ref.ID), fake.requests[1])

	var doc IncidentDocument
	require.NoError(t, json.Unmarshal([]byte(fake.bodies[0]), &doc))
	assert.Equal(t, ref.Folio, doc.Folio)
	assert.Equal(t, "Villa 6", doc.Lugar)
	assert.JSONEq(t, `{"doc":{"delivered":1,"failed":1}}`, fake.bodies[1])
}

func TestIndexedIncidentStoreIndexFailureIsNotFatal(t *testing.T) {
	es := newTestES(t, &fakeES{status: http.StatusInternalServerError})
	inner := NewIncidentStore(t.TempDir(), nil, nil)
	store := NewIndexedIncidentStore(inner, es, "incidents-test", zap.NewNop())

	ref, err := store.PersistIncident(context.Background(), types.Draft{Lugar: "Lobby", AreaDestino: "hk"}, types.IncidentMeta{})
	require.NoError(t, err)

	inc, err := inner.Get(context.Background(), ref.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lobby", inc.Draft.Lugar)
}

func TestIndexedIncidentStoreSearch(t *testing.T) {
	fake := &fakeES{}
	es := newTestES(t, fake)
	store := NewIndexedIncidentStore(NewIncidentStore(t.TempDir(), nil, nil), es, "", nil)

	docs, err := store.Search(context.Background(), "villa", 5)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "MAN-00001", docs[0].Folio)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Contains(t, fake.bodies[0], `"multi_match"`)
	assert.Contains(t, fake.bodies[0], `"size":5`)
}
