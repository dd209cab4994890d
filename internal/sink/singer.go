package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/airtap/airtap/internal/schema"
	"github.com/airtap/airtap/internal/stream"
)

type schemaMessage struct {
	Type          string              `json:"type"`
	Stream        string              `json:"stream"`
	Schema        schema.ObjectSchema `json:"schema"`
	KeyProperties []string            `json:"key_properties"`
}

type recordMessage struct {
	Type          string        `json:"type"`
	Stream        string        `json:"stream"`
	Record        stream.Record `json:"record"`
	TimeExtracted string        `json:"time_extracted"`
}

type stateMessage struct {
	Type  string         `json:"type"`
	Value map[string]any `json:"value"`
}

// Singer writes SCHEMA, RECORD and STATE messages as JSON lines.
type Singer struct {
	mu  sync.Mutex
	w   *bufio.Writer
	enc *json.Encoder
	now func() time.Time
}

// NewSinger writes Singer messages to w.
func NewSinger(w io.Writer) *Singer {
	bw := bufio.NewWriter(w)
	return &Singer{w: bw, enc: json.NewEncoder(bw), now: time.Now}
}

func (s *Singer) WriteSchema(_ context.Context, info StreamInfo) error {
	return s.emit(schemaMessage{
		Type:          "SCHEMA",
		Stream:        info.Name,
		Schema:        info.Schema,
		KeyProperties: info.KeyProperties,
	}, true)
}

func (s *Singer) WriteRecord(_ context.Context, streamName string, rec stream.Record) error {
	return s.emit(recordMessage{
		Type:          "RECORD",
		Stream:        streamName,
		Record:        rec,
		TimeExtracted: s.now().UTC().Format(time.RFC3339),
	}, false)
}

// WriteState emits a STATE message and flushes.
func (s *Singer) WriteState(_ context.Context, value map[string]any) error {
	return s.emit(stateMessage{Type: "STATE", Value: value}, true)
}

func (s *Singer) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

func (s *Singer) emit(msg any, flush bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(msg); err != nil {
		return fmt.Errorf("writing singer message: %w", err)
	}
	if flush {
		return s.w.Flush()
	}
	return nil
}
