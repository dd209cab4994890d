package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/airtap/airtap/internal/typemap"
)

// Base is a remote collection of tables.
type Base struct {
	ID     string  `yaml:"id" json:"id"`
	Name   string  `yaml:"name" json:"name"`
	Tables []Table `yaml:"tables" json:"tables"`
}

// Table is a remote collection of typed fields.
type Table struct {
	ID     string  `yaml:"id" json:"id"`
	Name   string  `yaml:"name" json:"name"`
	Fields []Field `yaml:"fields" json:"fields"`
}

// Field is a single typed column. Types holds one tag for ordinary fields;
// formula fields may carry several candidate tags.
type Field struct {
	ID        string   `yaml:"id" json:"id"`
	Name      string   `yaml:"name" json:"name"`
	Types     []string `yaml:"types" json:"types"`
	IsFormula bool     `yaml:"is_formula,omitempty" json:"is_formula,omitempty"`
}

// Property is one entry of an object schema.
type Property struct {
	Name     string
	Type     typemap.Type
	Required bool
}

// ObjectSchema is the JSON schema of one output record. Properties keep
// their declaration order when marshaled.
type ObjectSchema struct {
	Properties []Property
}

// SchemaType resolves the field's output type. A formula field with several
// candidate tags resolves to the union of each candidate's type.
func (f Field) SchemaType() (typemap.Type, error) {
	if len(f.Types) == 0 {
		return typemap.Type{}, fmt.Errorf("field %q has no type", f.Name)
	}
	if len(f.Types) > 1 && !f.IsFormula {
		return typemap.Type{}, fmt.Errorf("field %q: only formula fields may declare several types", f.Name)
	}

	resolved := make([]typemap.Type, 0, len(f.Types))
	for _, tag := range f.Types {
		t, err := typemap.Resolve(tag)
		if err != nil {
			return typemap.Type{}, fmt.Errorf("field %q: %w", f.Name, err)
		}
		resolved = append(resolved, t)
	}
	return typemap.Union(resolved...), nil
}

// Property returns the field's schema property keyed by its slug.
func (f Field) Property() (Property, error) {
	t, err := f.SchemaType()
	if err != nil {
		return Property{}, err
	}
	return Property{Name: Slugify(f.Name), Type: t}, nil
}

// Schema builds the record schema: required id and createdtime, then one
// property per field. A field whose slug repeats an earlier name replaces it.
func (t Table) Schema() (ObjectSchema, error) {
	s := ObjectSchema{Properties: []Property{
		{Name: "id", Type: typemap.Type{Types: []string{"string"}}, Required: true},
		{Name: "createdtime", Type: typemap.Type{Types: []string{"string"}, Format: "date-time"}, Required: true},
	}}
	index := map[string]int{"id": 0, "createdtime": 1}

	for _, f := range t.Fields {
		p, err := f.Property()
		if err != nil {
			return ObjectSchema{}, fmt.Errorf("table %q: %w", t.Name, err)
		}
		if i, ok := index[p.Name]; ok {
			p.Required = s.Properties[i].Required
			s.Properties[i] = p
			continue
		}
		index[p.Name] = len(s.Properties)
		s.Properties = append(s.Properties, p)
	}
	return s, nil
}

// FormulaFieldNames returns the raw names of all formula fields.
func (t Table) FormulaFieldNames() []string {
	var names []string
	for _, f := range t.Fields {
		if f.IsFormula {
			names = append(names, f.Name)
		}
	}
	return names
}

// Required returns the names of required properties in declaration order.
func (s ObjectSchema) Required() []string {
	var req []string
	for _, p := range s.Properties {
		if p.Required {
			req = append(req, p.Name)
		}
	}
	return req
}

// Property looks up a property by name.
func (s ObjectSchema) Property(name string) (Property, bool) {
	for _, p := range s.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// MarshalJSON renders {"type":"object","properties":{...},"required":[...]}
// with properties in declaration order.
func (s ObjectSchema) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"type":"object","properties":{`)
	for i, p := range s.Properties {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(p.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(p.Type)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteString(`}`)

	if req := s.Required(); len(req) > 0 {
		data, err := json.Marshal(req)
		if err != nil {
			return nil, err
		}
		buf.WriteString(`,"required":`)
		buf.Write(data)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
