package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// FieldType represents the expected data type for a spreadsheet column.
type FieldType int

const (
	FieldText FieldType = iota
	FieldNumeric
	FieldDate
	FieldEmail
)

// FieldSpec defines one column of an import type, in template order.
type FieldSpec struct {
	Name     string // Field key used in ImportRow.Fields and payloads
	Header   string // Template header text (defaults to Name)
	Type     FieldType
	Required bool // Value must be non-empty
	Optional bool // Numeric/date/email: empty values skip type checks
	Min, Max *float64

	RequiredMessage string // Message when a required value is empty
	InvalidMessage  string // Message when the value fails its type check
	RangeMessage    string // Message when a numeric value is out of bounds
	Example         string // Template example value
}

// HeaderText returns the template header for the field.
func (f FieldSpec) HeaderText() string {
	if f.Header != "" {
		return f.Header
	}
	return f.Name
}

// ReferenceSpec describes a foreign-key lookup resolved once per run.
type ReferenceSpec struct {
	Table         string // Reference table, e.g. "suppliers"
	MatchColumn   string // Column compared case-insensitively with the source field
	ValueColumn   string // Column copied into the payload
	SourceField   string // Row field holding the human value
	PayloadColumn string // Payload key receiving the resolved value
}

// References is a resolved reference set keyed by lowercased match value.
type References map[string]string

// Resolve returns the value for name using exact case-insensitive matching.
func (r References) Resolve(name string) (string, bool) {
	if name == "" || r == nil {
		return "", false
	}
	v, ok := r[strings.ToLower(name)]
	return v, ok
}

// NewReferences builds a reference set from raw match->value pairs.
func NewReferences(raw map[string]string) References {
	refs := make(References, len(raw))
	for k, v := range raw {
		refs[strings.ToLower(k)] = v
	}
	return refs
}

// BuildPayloadFunc builds the upsert payload for a validated row.
type BuildPayloadFunc func(row ImportRow, refs References) (map[string]any, error)

// Definition contains everything the engine needs for one import type.
type Definition struct {
	Key         string // "inventory", "suppliers"
	Label       string
	Table       string // Remote target table
	ConflictKey string // Natural unique key for upserts
	Fields      []FieldSpec

	// KeyFields are dropped-row identifiers: a row is discarded by the
	// parser when every key field is empty.
	KeyFields []string

	// IdentifierField names the field written to activity log entries.
	IdentifierField string

	Reference    *ReferenceSpec
	BuildPayload BuildPayloadFunc

	// SuccessMessage formats the log message for a committed row.
	SuccessMessage func(row ImportRow) string
}

// Headers returns the template header row.
func (d Definition) Headers() []string {
	headers := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		headers[i] = f.HeaderText()
	}
	return headers
}

// ExampleRow returns the template example row.
func (d Definition) ExampleRow() []string {
	row := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		row[i] = f.Example
	}
	return row
}

// Identifier returns the log identifier for a row.
func (d Definition) Identifier(row ImportRow) string {
	if d.IdentifierField != "" {
		if v := row.Field(d.IdentifierField); v != "" {
			return v
		}
	}
	for _, k := range d.KeyFields {
		if v := row.Field(k); v != "" {
			return v
		}
	}
	return fmt.Sprintf("row %d", row.Row)
}

func (d Definition) successMessage(row ImportRow) string {
	if d.SuccessMessage != nil {
		return d.SuccessMessage(row)
	}
	return "Berhasil disimpan"
}

var (
	registry   = make(map[string]Definition)
	registryMu sync.RWMutex
)

// Register adds an import definition to the registry.
// Panics if a definition with the same key is already registered.
func Register(def Definition) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if def.Key == "" {
		panic("import definition without key")
	}
	if _, exists := registry[def.Key]; exists {
		panic(fmt.Sprintf("import type already registered: %s", def.Key))
	}
	if def.BuildPayload == nil {
		def.BuildPayload = DefaultPayload(def)
	}

	registry[def.Key] = def
}

// Get returns an import definition by key.
func Get(key string) (Definition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[key]
	return def, ok
}

// All returns all registered definitions sorted by key.
func All() []Definition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]Definition, 0, len(registry))
	for _, def := range registry {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})

	return result
}

// Clear removes all registered definitions.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]Definition)
}

// DefaultPayload copies every non-empty field verbatim. Empty values are
// sent as nulls so an update clears them.
func DefaultPayload(def Definition) BuildPayloadFunc {
	return func(row ImportRow, _ References) (map[string]any, error) {
		payload := make(map[string]any, len(def.Fields))
		for _, f := range def.Fields {
			if v := row.Field(f.Name); v != "" {
				payload[f.Name] = v
			} else {
				payload[f.Name] = nil
			}
		}
		return payload, nil
	}
}
