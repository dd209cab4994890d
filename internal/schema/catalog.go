package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Catalog is the result of schema discovery across one or more bases.
type Catalog struct {
	DiscoveredAt time.Time `yaml:"discovered_at"`
	Bases        []Base    `yaml:"bases"`
}

// TableRef points at one table inside a catalog.
type TableRef struct {
	BaseID   string
	BaseName string
	Table    Table
}

// Tables flattens the catalog into base-qualified table references.
func (c *Catalog) Tables() []TableRef {
	var refs []TableRef
	for _, b := range c.Bases {
		for _, t := range b.Tables {
			refs = append(refs, TableRef{BaseID: b.ID, BaseName: b.Name, Table: t})
		}
	}
	return refs
}

// Key identifies a table across bases as "baseID/tableID".
func (r TableRef) Key() string {
	return r.BaseID + "/" + r.Table.ID
}

// LoadYAML reads a catalog from a YAML file.
func LoadYAML(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	c := &Catalog{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	return c, nil
}

// WriteYAML writes the catalog to a YAML file at the given path.
func (c *Catalog) WriteYAML(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling catalog: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Write picks the format from the file extension: .json writes a Singer
// catalog, anything else YAML.
func (c *Catalog) Write(path string) error {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return c.WriteSingerJSON(path)
	}
	return c.WriteYAML(path)
}

type singerCatalog struct {
	Streams []singerCatalogEntry `json:"streams"`
}

type singerCatalogEntry struct {
	TapStreamID   string           `json:"tap_stream_id"`
	Stream        string           `json:"stream"`
	Schema        ObjectSchema     `json:"schema"`
	KeyProperties []string         `json:"key_properties"`
	Metadata      []singerMetadata `json:"metadata"`
}

type singerMetadata struct {
	Breadcrumb []string       `json:"breadcrumb"`
	Metadata   map[string]any `json:"metadata"`
}

// SingerJSON renders the catalog in the Singer catalog format.
func (c *Catalog) SingerJSON() ([]byte, error) {
	out := singerCatalog{Streams: []singerCatalogEntry{}}
	for _, ref := range c.Tables() {
		s, err := ref.Table.Schema()
		if err != nil {
			return nil, err
		}
		name := Slugify(ref.Table.Name)
		out.Streams = append(out.Streams, singerCatalogEntry{
			TapStreamID:   name,
			Stream:        name,
			Schema:        s,
			KeyProperties: []string{"id"},
			Metadata: []singerMetadata{{
				Breadcrumb: []string{},
				Metadata: map[string]any{
					"table-key-properties": []string{"id"},
					"base-id":              ref.BaseID,
					"table-id":             ref.Table.ID,
				},
			}},
		})
	}
	return json.MarshalIndent(out, "", "  ")
}

// WriteSingerJSON writes the Singer catalog to path.
func (c *Catalog) WriteSingerJSON(path string) error {
	data, err := c.SingerJSON()
	if err != nil {
		return fmt.Errorf("rendering catalog: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Summary returns a human-readable summary of the catalog.
func (c *Catalog) Summary() string {
	var tables, fields, formulas int
	for _, b := range c.Bases {
		tables += len(b.Tables)
		for _, t := range b.Tables {
			fields += len(t.Fields)
			formulas += len(t.FormulaFieldNames())
		}
	}
	return fmt.Sprintf("Found %d bases, %d tables, %d fields (%d formula)",
		len(c.Bases), tables, fields, formulas)
}
