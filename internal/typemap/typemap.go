package typemap

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FieldType is an Airtable field type tag as reported by the metadata API.
type FieldType string

const (
	FieldAIText                FieldType = "aiText"
	FieldAutoNumber            FieldType = "autoNumber"
	FieldBarcode               FieldType = "barcode"
	FieldButton                FieldType = "button"
	FieldCheckbox              FieldType = "checkbox"
	FieldCount                 FieldType = "count"
	FieldCreatedBy             FieldType = "createdBy"
	FieldCreatedTime           FieldType = "createdTime"
	FieldCurrency              FieldType = "currency"
	FieldDate                  FieldType = "date"
	FieldDateTime              FieldType = "dateTime"
	FieldDuration              FieldType = "duration"
	FieldEmail                 FieldType = "email"
	FieldExternalSyncSource    FieldType = "externalSyncSource"
	FieldFormula               FieldType = "formula"
	FieldLastModifiedBy        FieldType = "lastModifiedBy"
	FieldLastModifiedTime      FieldType = "lastModifiedTime"
	FieldMultilineText         FieldType = "multilineText"
	FieldMultipleAttachments   FieldType = "multipleAttachments"
	FieldMultipleCollaborators FieldType = "multipleCollaborators"
	FieldMultipleLookupValues  FieldType = "multipleLookupValues"
	FieldMultipleRecordLinks   FieldType = "multipleRecordLinks"
	FieldMultipleSelects       FieldType = "multipleSelects"
	FieldNumber                FieldType = "number"
	FieldPercent               FieldType = "percent"
	FieldPhoneNumber           FieldType = "phoneNumber"
	FieldRating                FieldType = "rating"
	FieldRichText              FieldType = "richText"
	FieldRollup                FieldType = "rollup"
	FieldSingleCollaborator    FieldType = "singleCollaborator"
	FieldSingleLineText        FieldType = "singleLineText"
	FieldSingleSelect          FieldType = "singleSelect"
	FieldText                  FieldType = "text"
	FieldURL                   FieldType = "url"
)

// Type is a JSON-schema type descriptor for one output property.
type Type struct {
	Types  []string `json:"type" yaml:"type"`
	Format string   `json:"format,omitempty" yaml:"format,omitempty"`
	Items  *Type    `json:"items,omitempty" yaml:"items,omitempty"`
}

// String renders the type list, e.g. "number|null".
func (t Type) String() string {
	s := strings.Join(t.Types, "|")
	if t.Format != "" {
		s += " (" + t.Format + ")"
	}
	if t.Items != nil {
		s += " of " + t.Items.String()
	}
	return s
}

var (
	nullableString  = Type{Types: []string{"string", "null"}}
	nullableNumber  = Type{Types: []string{"number", "null"}}
	nullableInteger = Type{Types: []string{"integer", "null"}}
	nullableBool    = Type{Types: []string{"boolean", "null"}}
	nullableObject  = Type{Types: []string{"object", "null"}}
	dateTime        = Type{Types: []string{"string", "null"}, Format: "date-time"}
	date            = Type{Types: []string{"string", "null"}, Format: "date"}
)

func arrayOf(items Type) Type {
	return Type{Types: []string{"array", "null"}, Items: &items}
}

// mappings is the complete tag table. Every tag the connector can emit from
// field discovery must be listed here; anything else is an UnmappedTypeError.
var mappings = map[FieldType]Type{
	FieldAIText:                nullableObject,
	FieldAutoNumber:            nullableInteger,
	FieldBarcode:               nullableObject,
	FieldButton:                nullableObject,
	FieldCheckbox:              nullableBool,
	FieldCount:                 nullableInteger,
	FieldCreatedBy:             nullableObject,
	FieldCreatedTime:           dateTime,
	FieldCurrency:              nullableNumber,
	FieldDate:                  date,
	FieldDateTime:              dateTime,
	FieldDuration:              nullableNumber,
	FieldEmail:                 nullableString,
	FieldExternalSyncSource:    nullableString,
	FieldFormula:               nullableString,
	FieldLastModifiedBy:        nullableObject,
	FieldLastModifiedTime:      dateTime,
	FieldMultilineText:         nullableString,
	FieldMultipleAttachments:   arrayOf(Type{Types: []string{"object"}}),
	FieldMultipleCollaborators: arrayOf(Type{Types: []string{"object"}}),
	FieldMultipleLookupValues:  Type{Types: []string{"array", "null"}},
	FieldMultipleRecordLinks:   arrayOf(Type{Types: []string{"string"}}),
	FieldMultipleSelects:       arrayOf(Type{Types: []string{"string"}}),
	FieldNumber:                nullableNumber,
	FieldPercent:               nullableNumber,
	FieldPhoneNumber:           nullableString,
	FieldRating:                nullableInteger,
	FieldRichText:              nullableString,
	FieldRollup:                Type{Types: []string{"string", "number", "boolean", "array", "null"}},
	FieldSingleCollaborator:    nullableObject,
	FieldSingleLineText:        nullableString,
	FieldSingleSelect:          nullableString,
	FieldText:                  nullableString,
	FieldURL:                   nullableString,
}

// UnmappedTypeError is returned when a field tag has no entry in the table.
type UnmappedTypeError struct {
	Tag string
}

func (e *UnmappedTypeError) Error() string {
	return fmt.Sprintf("unmapped field type %q", e.Tag)
}

// Resolve returns the output type for a field tag.
func Resolve(tag string) (Type, error) {
	t, ok := mappings[FieldType(tag)]
	if !ok {
		return Type{}, &UnmappedTypeError{Tag: tag}
	}
	return t.clone(), nil
}

// IsMapped reports whether the tag has an entry in the table.
func IsMapped(tag string) bool {
	_, ok := mappings[FieldType(tag)]
	return ok
}

// Union merges the type lists of ts in first-seen order. A single type is
// returned unchanged; for several, format and items are kept only when every
// member agrees on them.
func Union(ts ...Type) Type {
	if len(ts) == 1 {
		return ts[0].clone()
	}
	var out Type
	seen := make(map[string]bool)
	for i, t := range ts {
		for _, name := range t.Types {
			if !seen[name] {
				seen[name] = true
				out.Types = append(out.Types, name)
			}
		}
		if i == 0 {
			out.Format = t.Format
			out.Items = t.Items
			continue
		}
		if out.Format != t.Format {
			out.Format = ""
		}
		if out.Items != nil && (t.Items == nil || out.Items.String() != t.Items.String()) {
			out.Items = nil
		}
	}
	if out.Items != nil {
		items := out.Items.clone()
		out.Items = &items
	}
	return out
}

func (t Type) clone() Type {
	c := Type{Types: append([]string(nil), t.Types...), Format: t.Format}
	if t.Items != nil {
		items := t.Items.clone()
		c.Items = &items
	}
	return c
}

// SortedTags returns every mapped field tag sorted alphabetically.
func SortedTags() []string {
	tags := make([]string, 0, len(mappings))
	for k := range mappings {
		tags = append(tags, string(k))
	}
	sort.Strings(tags)
	return tags
}

// WriteYAML writes the mapping table to a YAML file.
func WriteYAML(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	out := make(map[string]Type, len(mappings))
	for k, v := range mappings {
		out[string(k)] = v
	}
	data, err := yaml.Marshal(map[string]any{"mappings": out})
	if err != nil {
		return fmt.Errorf("marshaling type map: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}
