package stream

import (
	"context"
	"iter"
	"log/slog"
	"sort"

	"github.com/airtap/airtap/internal/airtable"
	"github.com/airtap/airtap/internal/schema"
)

// ErrorSentinel is the value Airtable reports for a formula that failed.
const ErrorSentinel = "#ERROR!"

// Strings written for formula cells that evaluated to NaN or +Infinity.
// Both use the lowercase float spelling.
const (
	NaNValue      = "nan"
	InfinityValue = "inf"
)

// Record is one normalized output row keyed by slugified names.
type Record map[string]any

// RecordSource yields raw records of one table.
type RecordSource interface {
	Records(ctx context.Context, baseID, tableID string) iter.Seq2[map[string]any, error]
}

// Opener builds a record source from an access token.
type Opener func(token string) RecordSource

// DefaultOpener opens a plain API client.
func DefaultOpener(token string) RecordSource {
	return airtable.New(token)
}

// Stream is the record source bound to one table of one base.
type Stream struct {
	Name   string
	BaseID string
	Table  schema.Table

	token  string
	open   Opener
	logger *slog.Logger
}

// Option configures a Stream.
type Option func(*Stream)

// WithOpener replaces the way the stream opens its client.
func WithOpener(o Opener) Option {
	return func(s *Stream) {
		s.open = o
	}
}

// WithLogger sets the stream logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Stream) {
		s.logger = l
	}
}

// New creates the stream for table in base baseID.
func New(baseID string, table schema.Table, token string, opts ...Option) *Stream {
	s := &Stream{
		Name:   schema.Slugify(table.Name),
		BaseID: baseID,
		Table:  table,
		token:  token,
		open:   DefaultOpener,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// KeyProperties returns the primary key of every record.
func (s *Stream) KeyProperties() []string {
	return []string{"id"}
}

// Schema returns the record schema of the table.
func (s *Stream) Schema() (schema.ObjectSchema, error) {
	return s.Table.Schema()
}

// Records opens a fresh client and yields normalized records in API order.
// The sequence ends after the first error.
func (s *Stream) Records(ctx context.Context) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		src := s.open(s.token)

		formula := make(map[string]bool)
		for _, name := range s.Table.FormulaFieldNames() {
			formula[name] = true
		}

		s.logger.Debug("reading stream", "stream", s.Name, "base", s.BaseID, "table", s.Table.ID)
		for raw, err := range src.Records(ctx, s.BaseID, s.Table.ID) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(Normalize(raw, formula), nil) {
				return
			}
		}
	}
}

// Normalize flattens a raw API record: the nested "fields" mapping is merged
// over the top-level attributes, formula values are sanitized, and every key
// is slugified. Keys are applied in sorted order, top level first, so a slug
// collision resolves the same way on every run.
func Normalize(raw map[string]any, formula map[string]bool) Record {
	fields, _ := raw["fields"].(map[string]any)

	out := make(Record, len(raw)+len(fields))
	for _, k := range sortedKeys(raw) {
		if k == "fields" {
			continue
		}
		out[schema.Slugify(k)] = raw[k]
	}
	for _, k := range sortedKeys(fields) {
		v := fields[k]
		if formula[k] {
			v = SanitizeSpecialValue(v)
		}
		out[schema.Slugify(k)] = v
	}
	return out
}

// SanitizeSpecialValue replaces the error and special-value objects a
// formula cell may hold with plain strings. Other values pass through.
func SanitizeSpecialValue(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	if e, ok := m["error"]; ok && e == ErrorSentinel {
		return ErrorSentinel
	}
	switch m["specialValue"] {
	case "NaN":
		return NaNValue
	case "Infinity":
		return InfinityValue
	}
	return v
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
