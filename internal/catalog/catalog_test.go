package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testEntries() []Entry {
	return []Entry{
		{Label: "Habitación 1311", RoomNumber: "1311", Building: "Torre A", Floor: "13"},
		{Label: "Habitación 1312", RoomNumber: "1312", Building: "Torre A", Floor: "13"},
		{Label: "Villa 6", Building: "Villas"},
		{Label: "Lobby Principal", Aliases: []string{"lobby", "recepción"}},
		{Label: "Alberca Principal", Aliases: []string{"alberca", "piscina"}},
		{Label: "Restaurante Mar", Aliases: []string{"mar"}},
		{Label: "Spa"},
	}
}

func TestIndexRoomLookup(t *testing.T) {
	ix := NewIndex(testEntries())

	e, ok := ix.Room("1311")
	require.True(t, ok)
	assert.Equal(t, "Habitación 1311", e.Label)
	assert.Equal(t, "13", e.Floor)

	e, ok = ix.Room("villa 6")
	require.True(t, ok)
	assert.Equal(t, "Villa 6", e.Label)

	_, ok = ix.Room("9999")
	assert.False(t, ok)
}

func TestStrongSignal(t *testing.T) {
	key, verbatim, ok := StrongSignal("1311 no prende el aire")
	require.True(t, ok)
	assert.Equal(t, "1311", key)
	assert.Equal(t, "1311", verbatim)

	key, verbatim, ok = StrongSignal("se cayó el internet en la Villa 06")
	require.True(t, ok)
	assert.Equal(t, "villa 6", key)
	assert.Equal(t, "Villa 6", verbatim)

	_, _, ok = StrongSignal("llamen al 13110")
	assert.False(t, ok, "five digits is not a room token")
	_, _, ok = StrongSignal("habitación 15")
	assert.False(t, ok)
}

func TestIndexExactAndPhrase(t *testing.T) {
	ix := NewIndex(testEntries())

	e, ok := ix.Exact("Recepcion")
	require.True(t, ok)
	assert.Equal(t, "Lobby Principal", e.Label)

	e, ok = ix.FindPhrase("hay una fuga en el lobby principal cerca de la puerta")
	require.True(t, ok)
	assert.Equal(t, "Lobby Principal", e.Label)

	_, ok = ix.FindPhrase("el marco de la puerta está roto")
	assert.False(t, ok, "short alias must not match inside another word")

	e, ok = ix.FindPhrase("en el restaurante mar no hay luz")
	require.True(t, ok)
	assert.Equal(t, "Restaurante Mar", e.Label)
}

func TestIndexFuzzy(t *testing.T) {
	ix := NewIndex(testEntries())
	matches := ix.Fuzzy("alverca", 3)
	require.NotEmpty(t, matches)
	assert.Equal(t, "Alberca Principal", matches[0].Entry.Label)
	assert.InDelta(t, 1-1.0/7, matches[0].Score, 1e-9)
	assert.LessOrEqual(t, len(matches), 3)
}

func TestIndexDuplicates(t *testing.T) {
	ix := NewIndex([]Entry{
		{Label: "Bar Playa", Aliases: []string{"bar"}},
		{Label: "Bar Lobby", Aliases: []string{"bar"}},
		{Label: ""},
	})
	assert.Equal(t, 2, ix.Len())
	assert.Equal(t, []string{"bar"}, ix.Duplicates())

	e, ok := ix.Exact("bar")
	require.True(t, ok)
	assert.Equal(t, "Bar Playa", e.Label, "first entry keeps the alias")
}

func TestLoaderReloadsOnlyOnPathChange(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "places.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`places:
  - label: Villa 6
  - label: Habitación 1311
    room_number: "1311"
`), 0o644))
	jsonPath := filepath.Join(dir, "places.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[{"label":"Spa","aliases":["masajes"]}]`), 0o644))

	l := NewLoader(zaptest.NewLogger(t))
	assert.Nil(t, l.Index())

	first, err := l.Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Len())

	// Rewriting the same path is not picked up without a path change.
	require.NoError(t, os.WriteFile(yamlPath, []byte("places:\n  - label: Spa\n"), 0o644))
	again, err := l.Load(yamlPath)
	require.NoError(t, err)
	assert.Same(t, first, again)

	second, err := l.Load(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Len())
	assert.Same(t, second, l.Index())
	assert.Equal(t, jsonPath, l.Path())

	_, err = l.Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
	assert.Same(t, second, l.Index(), "failed load keeps the current index")
}

func TestAreas(t *testing.T) {
	areas, err := NewAreas([]Area{
		{Code: "MAN", Name: "Mantenimiento", Aliases: []string{"mtto"}, FolioPrefix: "mant"},
		{Code: "it", Name: "Sistemas", Aliases: []string{"internet"}},
		{Code: "hskp", Name: "Ama de llaves", Aliases: []string{"housekeeping", "limpieza"}},
		{Code: "x", Name: "Seguridad"},
	})
	require.NoError(t, err)

	code, ok := areas.Canonical("Mantenimiento")
	require.True(t, ok)
	assert.Equal(t, "man", code)
	code, ok = areas.Canonical("IT")
	require.True(t, ok)
	assert.Equal(t, "it", code)

	code, ok = areas.FromText("mándenlo a ama de llaves por favor")
	require.True(t, ok)
	assert.Equal(t, "hskp", code)
	_, ok = areas.FromText("el item está roto")
	assert.False(t, ok)

	assert.Equal(t, "MANT", areas.FolioPrefix("man"))
	assert.Equal(t, "IT", areas.FolioPrefix("it"))
	assert.Equal(t, "XX", areas.FolioPrefix("x"))
	assert.Equal(t, "Mantenimiento, Sistemas, Ama de llaves, Seguridad", areas.Menu())

	_, err = NewAreas([]Area{{Code: "it"}, {Code: "IT"}})
	assert.Error(t, err)
}
