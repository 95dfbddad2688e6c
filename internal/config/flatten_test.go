package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDoc() map[string]any {
	return map[string]any{
		"data_dir": "/var/lib/conserje",
		"llm": map[string]any{
			"provider": "openai",
			"api_key":  "sk-live-abcdef",
		},
		"areas": []any{
			map[string]any{"code": "man", "name": "Mantenimiento", "destinations": []any{"telegram:-1001"}},
			map[string]any{"code": "hk", "name": "Ama de llaves", "folio_prefix": "HK"},
		},
		"elasticsearch": map[string]any{"addresses": []any{"http://es:9200"}},
	}
}

func TestFlattenIndexesAreaList(t *testing.T) {
	flat := Flatten(sampleDoc())

	assert.Equal(t, "openai", flat["llm.provider"])
	assert.Equal(t, "man", flat["areas.0.code"])
	assert.Equal(t, "HK", flat["areas.1.folio_prefix"])
	assert.Equal(t, []any{"telegram:-1001"}, flat["areas.0.destinations"])
	assert.Equal(t, []any{"http://es:9200"}, flat["elasticsearch.addresses"])
	assert.NotContains(t, flat, "areas")
}

func TestFlattenEmptyValues(t *testing.T) {
	assert.Empty(t, Flatten(map[string]any{}))
	assert.Empty(t, Flatten(map[string]any{"redis": map[string]any{}}))

	flat := Flatten(map[string]any{"areas": []any{}})
	assert.Equal(t, []any{}, flat["areas"])
}

func TestUnflattenRestoresLists(t *testing.T) {
	doc := sampleDoc()
	got := Unflatten(Flatten(doc))
	assert.Equal(t, doc, got)

	areas, ok := got["areas"].([]any)
	require.True(t, ok)
	require.Len(t, areas, 2)
	assert.Equal(t, "hk", areas[1].(map[string]any)["code"])
}

func TestUnflattenKeepsNonIndexKeysAsMaps(t *testing.T) {
	got := Unflatten(map[string]any{
		"intake.max_history":      20,
		"intake.session_idle_ttl": "2h",
		"http.listen":             ":8080",
	})
	intake, ok := got["intake"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 20, intake["max_history"])
	assert.Equal(t, map[string]any{"listen": ":8080"}, got["http"])
}

func TestIsSecretKey(t *testing.T) {
	for _, k := range []string{"llm.api_key", "gemini.api_key", "telegram.token", "postgres.password",
		"redis.password", "elasticsearch.password", "aws.secret"} {
		assert.True(t, IsSecretKey(k), k)
	}
	for _, k := range []string{"llm.provider", "areas.0.code", "redis.prefix", "llm.max_tokens"} {
		assert.False(t, IsSecretKey(k), k)
	}
}

func TestMaskSecrets(t *testing.T) {
	masked := MaskSecrets(map[string]any{
		"llm.api_key":       "sk-live-abcdef",
		"telegram.token":    "123",
		"postgres.password": "",
		"llm.provider":      "openai",
		"llm.max_tokens":    800,
	})
	assert.Equal(t, "***cdef", masked["llm.api_key"])
	assert.Equal(t, "***123", masked["telegram.token"])
	assert.Equal(t, "", masked["postgres.password"])
	assert.Equal(t, "openai", masked["llm.provider"])
	assert.Equal(t, 800, masked["llm.max_tokens"])
}

func TestSetValueEditsOneArea(t *testing.T) {
	path := t.TempDir() + "/config.yaml"
	require.NoError(t, SetValue(path, "areas.0.code", "man"))
	require.NoError(t, SetValue(path, "areas.1.code", "hk"))
	require.NoError(t, SetValue(path, "areas.1.folio_prefix", "HSK"))

	v, err := GetValue(path, "areas.1.folio_prefix")
	require.NoError(t, err)
	assert.Equal(t, "HSK", v)

	raw, err := readRaw(path)
	require.NoError(t, err)
	areas, ok := raw["areas"].([]any)
	require.True(t, ok)
	assert.Len(t, areas, 2)
}
