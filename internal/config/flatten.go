package config

import (
	"sort"
	"strconv"
	"strings"
)

// secretSuffixes mark keys whose values are masked wherever they appear,
// e.g. "llm.api_key" or "postgres.password".
var secretSuffixes = []string{"api_key", "token", "password", "secret"}

// IsSecretKey reports whether the dot-separated key holds a credential.
func IsSecretKey(key string) bool {
	last := key
	if i := strings.LastIndex(key, "."); i >= 0 {
		last = key[i+1:]
	}
	for _, s := range secretSuffixes {
		if last == s || strings.HasSuffix(last, "_"+s) {
			return true
		}
	}
	return false
}

// Flatten turns a nested config document into dot-separated keys. Lists of
// mappings (the areas list) are indexed, so "areas.1.folio_prefix" addresses
// the second area; lists of scalars such as destinations stay leaf values.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	flattenInto("", m, out)
	return out
}

func flattenInto(prefix string, v any, out map[string]any) {
	switch node := v.(type) {
	case map[string]any:
		for k, child := range node {
			flattenInto(join(prefix, k), child, out)
		}
	case []any:
		if !allMaps(node) {
			out[prefix] = node
			return
		}
		for i, child := range node {
			flattenInto(join(prefix, strconv.Itoa(i)), child, out)
		}
	default:
		if prefix != "" {
			out[prefix] = v
		}
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func allMaps(list []any) bool {
	if len(list) == 0 {
		return false
	}
	for _, item := range list {
		if _, ok := item.(map[string]any); !ok {
			return false
		}
	}
	return true
}

// Unflatten rebuilds the nested document. Levels whose keys are all list
// indexes become lists again, in index order.
func Unflatten(flat map[string]any) map[string]any {
	root := make(map[string]any)
	for k, v := range flat {
		parts := strings.Split(k, ".")
		node := root
		for _, part := range parts[:len(parts)-1] {
			next, ok := node[part].(map[string]any)
			if !ok {
				next = make(map[string]any)
				node[part] = next
			}
			node = next
		}
		node[parts[len(parts)-1]] = v
	}
	for k, child := range root {
		root[k] = restoreLists(child)
	}
	return root
}

func restoreLists(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range m {
		m[k] = restoreLists(child)
	}
	if len(m) == 0 {
		return m
	}
	idx := make([]int, 0, len(m))
	for k := range m {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 {
			return m
		}
		idx = append(idx, i)
	}
	sort.Ints(idx)
	list := make([]any, 0, len(idx))
	for _, i := range idx {
		list = append(list, m[strconv.Itoa(i)])
	}
	return list
}

// Mask hides all but the last four characters of a credential.
func Mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "***" + s
	}
	return "***" + s[len(s)-4:]
}

// MaskSecrets returns a copy of flat with every credential masked.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		if s, ok := v.(string); ok && IsSecretKey(k) {
			out[k] = Mask(s)
			continue
		}
		out[k] = v
	}
	return out
}
