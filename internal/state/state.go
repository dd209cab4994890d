package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/airtap/airtap/internal/config"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "~/.airtap/state.yaml"

// maxRuns bounds the run history kept on disk.
const maxRuns = 20

// RunStatus is the outcome of a sync run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

// State holds the persisted table selection and recent sync history.
type State struct {
	LastUpdated    time.Time `yaml:"last_updated"`
	CatalogPath    string    `yaml:"catalog_path,omitempty"`
	SelectedTables []string  `yaml:"selected_tables,omitempty"` // TableRef keys
	Runs           []Run     `yaml:"runs,omitempty"`
}

// Run records one sync invocation.
type Run struct {
	ID         string         `yaml:"id"`
	StartedAt  time.Time      `yaml:"started_at"`
	FinishedAt time.Time      `yaml:"finished_at,omitempty"`
	Status     RunStatus      `yaml:"status"`
	Sink       string         `yaml:"sink"`
	Error      string         `yaml:"error,omitempty"`
	Streams    []StreamResult `yaml:"streams,omitempty"`
}

// StreamResult is the outcome of one stream within a run.
type StreamResult struct {
	Stream  string `yaml:"stream"`
	BaseID  string `yaml:"base_id"`
	TableID string `yaml:"table_id"`
	Records int    `yaml:"records"`
	Error   string `yaml:"error,omitempty"`
}

// Records sums the records emitted by every stream of the run.
func (r *Run) Records() int {
	var n int
	for _, s := range r.Streams {
		n += s.Records
	}
	return n
}

// Finish settles the run status from its stream results.
func (r *Run) Finish() {
	r.FinishedAt = time.Now()
	var failed int
	for _, s := range r.Streams {
		if s.Error != "" {
			failed++
		}
	}
	switch {
	case failed == 0:
		r.Status = RunSucceeded
	case failed == len(r.Streams):
		r.Status = RunFailed
	default:
		r.Status = RunPartial
	}
}

// Fail marks the whole run as failed, e.g. when the sink could not flush
// records the streams already counted.
func (r *Run) Fail(err error) {
	r.Status = RunFailed
	r.Error = err.Error()
}

// Load reads the state from disk. A missing file yields a fresh state.
func Load(path string) (*State, error) {
	if path == "" {
		path = config.ExpandHome(DefaultPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("reading state: %w", err)
	}

	s := &State{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing state: %w", err)
	}
	return s, nil
}

// Save writes the state to disk.
func (s *State) Save(path string) error {
	if path == "" {
		path = config.ExpandHome(DefaultPath)
	}

	s.LastUpdated = time.Now()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// New creates an empty state.
func New() *State {
	return &State{LastUpdated: time.Now()}
}

// RecordRun appends a run, dropping the oldest beyond the history limit.
func (s *State) RecordRun(r Run) {
	s.Runs = append(s.Runs, r)
	if len(s.Runs) > maxRuns {
		s.Runs = s.Runs[len(s.Runs)-maxRuns:]
	}
}

// LastRun returns the most recent run, if any.
func (s *State) LastRun() (Run, bool) {
	if len(s.Runs) == 0 {
		return Run{}, false
	}
	return s.Runs[len(s.Runs)-1], true
}
