package airtable

import (
	"context"
	"fmt"
	"net/url"

	"github.com/airtap/airtap/internal/schema"
	"github.com/airtap/airtap/internal/typemap"
)

// BaseDescriptor is one entry of GET meta/bases.
type BaseDescriptor struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	PermissionLevel string `json:"permissionLevel,omitempty"`
}

// TableDescriptor is one entry of GET meta/bases/{baseID}/tables.
type TableDescriptor struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	PrimaryFieldID string            `json:"primaryFieldId,omitempty"`
	Description    string            `json:"description,omitempty"`
	Fields         []FieldDescriptor `json:"fields"`
}

// FieldDescriptor describes one field as reported by the metadata API.
type FieldDescriptor struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Type        string        `json:"type"`
	Description string        `json:"description,omitempty"`
	Options     *FieldOptions `json:"options,omitempty"`
}

// FieldOptions holds the parts of a field's options the connector reads.
type FieldOptions struct {
	Result *FieldResult `json:"result,omitempty"`
}

// FieldResult is the declared output of a computed field.
type FieldResult struct {
	Type    string         `json:"type"`
	Options map[string]any `json:"options,omitempty"`
}

type basesPage struct {
	Bases  []BaseDescriptor `json:"bases"`
	Offset string           `json:"offset,omitempty"`
}

type tablesResponse struct {
	Tables []TableDescriptor `json:"tables"`
}

// MapFieldType returns the type tag a field is typed by: a formula's declared
// result type when present, "formula" for a formula without one, and the
// field's own tag otherwise.
func MapFieldType(desc FieldDescriptor) string {
	if desc.Type == string(typemap.FieldFormula) {
		if desc.Options != nil && desc.Options.Result != nil && desc.Options.Result.Type != "" {
			return desc.Options.Result.Type
		}
		return string(typemap.FieldFormula)
	}
	return desc.Type
}

// GetBaseSchema returns the table descriptors of one base.
func (c *Client) GetBaseSchema(ctx context.Context, baseID string) ([]TableDescriptor, error) {
	var resp tablesResponse
	endpoint := "meta/bases/" + url.PathEscape(baseID) + "/tables"
	if err := c.getJSON(ctx, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching schema of base %s: %w", baseID, err)
	}
	return resp.Tables, nil
}

// ListBases returns every base the token can access, following pagination.
func (c *Client) ListBases(ctx context.Context) ([]BaseDescriptor, error) {
	var all []BaseDescriptor
	params := url.Values{}
	for {
		var page basesPage
		if err := c.getJSON(ctx, "meta/bases", params, &page); err != nil {
			return nil, fmt.Errorf("listing bases: %w", err)
		}
		all = append(all, page.Bases...)
		if page.Offset == "" {
			return all, nil
		}
		params.Set("offset", page.Offset)
	}
}

// GetBases returns the accessible bases with their tables, optionally
// restricted to baseIDs. Requesting an inaccessible id fails with
// *MissingBasesError before any schema is fetched.
func (c *Client) GetBases(ctx context.Context, baseIDs []string) ([]schema.Base, error) {
	listed, err := c.ListBases(ctx)
	if err != nil {
		return nil, err
	}

	if len(baseIDs) > 0 {
		accessible := make(map[string]bool, len(listed))
		for _, b := range listed {
			accessible[b.ID] = true
		}
		requested := make(map[string]bool, len(baseIDs))
		var missing []string
		for _, id := range baseIDs {
			if requested[id] {
				continue
			}
			requested[id] = true
			if !accessible[id] {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			return nil, &MissingBasesError{IDs: missing}
		}

		filtered := listed[:0:0]
		for _, b := range listed {
			if requested[b.ID] {
				filtered = append(filtered, b)
			}
		}
		listed = filtered
	}

	bases := make([]schema.Base, 0, len(listed))
	for _, b := range listed {
		descs, err := c.GetBaseSchema(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		base := schema.Base{ID: b.ID, Name: b.Name}
		for _, d := range descs {
			base.Tables = append(base.Tables, TableFromDescriptor(d))
		}
		c.logger.Debug("discovered base", "base", b.ID, "tables", len(base.Tables))
		bases = append(bases, base)
	}
	return bases, nil
}

// TableFromDescriptor converts a metadata descriptor into the entity model.
// Formula fields with a declared result also admit the plain formula type,
// since sanitized error and special values arrive as strings.
func TableFromDescriptor(d TableDescriptor) schema.Table {
	t := schema.Table{ID: d.ID, Name: d.Name}
	for _, fd := range d.Fields {
		mapped := MapFieldType(fd)
		f := schema.Field{
			ID:        fd.ID,
			Name:      fd.Name,
			Types:     []string{mapped},
			IsFormula: fd.Type == string(typemap.FieldFormula),
		}
		if f.IsFormula && mapped != string(typemap.FieldFormula) {
			f.Types = append(f.Types, string(typemap.FieldFormula))
		}
		t.Fields = append(t.Fields, f)
	}
	return t
}
