package models

import "strings"

// AliasTable remaps catalog brand names to the names marketplaces use.
// It is built once at startup and never mutated.
type AliasTable struct {
	entries map[string]string
}

// NewAliasTable copies the given mapping; lookups are case-insensitive
func NewAliasTable(aliases map[string]string) AliasTable {
	entries := make(map[string]string, len(aliases))
	for from, to := range aliases {
		entries[normalizeAlias(from)] = to
	}
	return AliasTable{entries: entries}
}

// Resolve returns the alias for name, or name itself
func (t AliasTable) Resolve(name string) string {
	if to, ok := t.entries[normalizeAlias(name)]; ok {
		return to
	}
	return name
}

// Len returns the number of aliases
func (t AliasTable) Len() int {
	return len(t.entries)
}

func normalizeAlias(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
