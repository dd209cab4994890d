// Package picker is the interactive table selector used by "airtap select".
package picker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/airtap/airtap/internal/schema"
	"github.com/airtap/airtap/internal/selection"
)

// SortField controls the column used for sorting.
type SortField int

const (
	SortByName SortField = iota
	SortByBase
	SortByFields
	SortByFormulas
)

type entry struct {
	ref      schema.TableRef
	formulas int
	selected bool
	visible  bool // false when filtered out by search
}

// Model is the bubbletea model for table selection.
type Model struct {
	entries   []entry
	cursor    int
	filter    string
	filtering bool
	input     textinput.Model

	sortField SortField
	sortAsc   bool

	done      bool
	cancelled bool
	width     int
	height    int

	visibleIdxs []int
}

// New creates a picker over refs. preSelected holds table keys chosen in an
// earlier session.
func New(refs []schema.TableRef, preSelected []string) Model {
	pre := make(map[string]bool, len(preSelected))
	for _, k := range preSelected {
		pre[k] = true
	}

	entries := make([]entry, len(refs))
	for i, r := range refs {
		entries[i] = entry{
			ref:      r,
			formulas: len(r.Table.FormulaFieldNames()),
			selected: pre[r.Key()],
			visible:  true,
		}
	}

	input := textinput.New()
	input.Prompt = ""
	input.Placeholder = "table or base name"
	input.CharLimit = 64

	m := Model{
		entries: entries,
		input:   input,
		sortAsc: true,
		width:   100,
		height:  24,
	}
	m.sortEntries()
	m.recomputeVisible()
	return m
}

// Run shows the picker and returns the confirmed selection. ok is false when
// the user quits without confirming.
func Run(refs []schema.TableRef, preSelected []string) (selected []schema.TableRef, ok bool, err error) {
	final, err := tea.NewProgram(New(refs, preSelected), tea.WithAltScreen()).Run()
	if err != nil {
		return nil, false, fmt.Errorf("running table picker: %w", err)
	}
	m := final.(Model)
	if m.Cancelled() {
		return nil, false, nil
	}
	return m.Selected(), true, nil
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if m.filtering {
			return m.updateFilter(msg)
		}
		return m.updateNormal(msg)
	}
	return m, nil
}

func (m Model) updateNormal(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		m.cancelled = true
		m.done = true
		return m, tea.Quit

	case "up", "k":
		m.moveCursor(-1)

	case "down", "j":
		m.moveCursor(1)

	case "home":
		m.cursor = 0

	case "end":
		if len(m.visibleIdxs) > 0 {
			m.cursor = len(m.visibleIdxs) - 1
		}

	case " ":
		m.toggleCurrent()

	case "a":
		m.selectAll()

	case "n":
		m.deselectAll()

	case "b":
		m.selectBase()

	case "/":
		m.filtering = true
		m.input.SetValue(m.filter)
		m.input.CursorEnd()
		return m, m.input.Focus()

	case "s":
		m.cycleSort()

	case "enter":
		if m.selectedCount() == 0 {
			return m, nil
		}
		m.done = true
		return m, tea.Quit
	}

	return m, nil
}

func (m Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.filtering = false
		m.input.Blur()
		m.input.SetValue("")
		m.filter = ""
		m.applyFilter()
		return m, nil

	case "enter":
		m.filtering = false
		m.input.Blur()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if v := m.input.Value(); v != m.filter {
		m.filter = v
		m.applyFilter()
	}
	return m, cmd
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Select tables to sync") + "\n\n")

	if m.filtering {
		b.WriteString(highlightStyle.Render("  Filter: ") + m.input.View() + "\n\n")
	} else if m.filter != "" {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  Filter: %s (/ to change, esc in filter to clear)", m.filter)) + "\n\n")
	}

	header := fmt.Sprintf("  %-3s %-30s %-20s %7s %8s", "", "Table", "Base", "Fields", "Formulas")
	b.WriteString(dimStyle.Render(header) + "\n")
	b.WriteString(dimStyle.Render("  "+strings.Repeat("─", min(m.width-4, 72))) + "\n")

	listHeight := max(m.height-12, 5)
	start := 0
	if m.cursor >= listHeight {
		start = m.cursor - listHeight + 1
	}
	end := min(start+listHeight, len(m.visibleIdxs))

	if len(m.visibleIdxs) == 0 {
		b.WriteString(dimStyle.Render("  No tables match the filter") + "\n")
	}

	for vi := start; vi < end; vi++ {
		e := m.entries[m.visibleIdxs[vi]]

		checkbox := "[ ]"
		if e.selected {
			checkbox = selectedStyle.Render("[x]")
		}
		cursor := "  "
		nameStyle := lipgloss.NewStyle()
		if vi == m.cursor {
			cursor = highlightStyle.Render("> ")
			nameStyle = nameStyle.Bold(true)
		}

		base := e.ref.BaseName
		if base == "" {
			base = e.ref.BaseID
		}
		line := fmt.Sprintf("%s%s %-30s %-20s %7d %8d",
			cursor, checkbox, nameStyle.Render(truncate(e.ref.Table.Name, 30)),
			truncate(base, 20), len(e.ref.Table.Fields), e.formulas)
		b.WriteString(line + "\n")
	}

	if len(m.visibleIdxs) > listHeight {
		pct := 0
		if len(m.visibleIdxs) > 1 {
			pct = m.cursor * 100 / (len(m.visibleIdxs) - 1)
		}
		b.WriteString(dimStyle.Render(fmt.Sprintf("\n  Showing %d-%d of %d (%d%%)",
			start+1, end, len(m.visibleIdxs), pct)) + "\n")
	}

	b.WriteString("\n")

	sel := m.Selected()
	summary := fmt.Sprintf("  Selected: %d tables, %d fields", len(sel), selection.TotalFields(sel))
	b.WriteString(summaryStyle.Render(summary) + "\n")

	for _, name := range selection.DuplicateStreams(sel) {
		b.WriteString(warnStyle.Render(fmt.Sprintf("  ⚠ several selected tables share stream name %q", name)) + "\n")
	}

	sortLabels := []string{"name", "base", "fields", "formulas"}
	dir := "↑"
	if !m.sortAsc {
		dir = "↓"
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("  Sort: %s %s", sortLabels[m.sortField], dir)) + "\n\n")
	b.WriteString(dimStyle.Render("  space toggle • a all • n none • b whole base • / filter • s sort • enter confirm • q quit") + "\n")

	return b.String()
}

// Done returns true if the model finished.
func (m Model) Done() bool {
	return m.done
}

// Cancelled returns true if the user quit without confirming.
func (m Model) Cancelled() bool {
	return m.cancelled
}

// Selected returns the selected tables in display order.
func (m Model) Selected() []schema.TableRef {
	var refs []schema.TableRef
	for _, e := range m.entries {
		if e.selected {
			refs = append(refs, e.ref)
		}
	}
	return refs
}

func (m *Model) moveCursor(delta int) {
	if len(m.visibleIdxs) == 0 {
		return
	}
	m.cursor = min(max(m.cursor+delta, 0), len(m.visibleIdxs)-1)
}

func (m *Model) current() (int, bool) {
	if m.cursor < 0 || m.cursor >= len(m.visibleIdxs) {
		return 0, false
	}
	return m.visibleIdxs[m.cursor], true
}

func (m *Model) toggleCurrent() {
	if idx, ok := m.current(); ok {
		m.entries[idx].selected = !m.entries[idx].selected
	}
}

func (m *Model) selectAll() {
	for _, vi := range m.visibleIdxs {
		m.entries[vi].selected = true
	}
}

func (m *Model) deselectAll() {
	for _, vi := range m.visibleIdxs {
		m.entries[vi].selected = false
	}
}

// selectBase selects every table in the base under the cursor.
func (m *Model) selectBase() {
	idx, ok := m.current()
	if !ok {
		return
	}
	base := m.entries[idx].ref.BaseID
	for i := range m.entries {
		if m.entries[i].ref.BaseID == base {
			m.entries[i].selected = true
		}
	}
}

func (m *Model) applyFilter() {
	lower := strings.ToLower(m.filter)
	for i := range m.entries {
		e := &m.entries[i]
		e.visible = m.filter == "" ||
			strings.Contains(strings.ToLower(e.ref.Table.Name), lower) ||
			strings.Contains(strings.ToLower(e.ref.BaseName), lower)
	}
	m.recomputeVisible()
	if m.cursor >= len(m.visibleIdxs) {
		m.cursor = max(0, len(m.visibleIdxs)-1)
	}
}

func (m *Model) recomputeVisible() {
	m.visibleIdxs = m.visibleIdxs[:0]
	for i, e := range m.entries {
		if e.visible {
			m.visibleIdxs = append(m.visibleIdxs, i)
		}
	}
}

func (m *Model) cycleSort() {
	if m.sortAsc {
		m.sortAsc = false
	} else {
		m.sortField = (m.sortField + 1) % 4
		m.sortAsc = true
	}
	m.sortEntries()
	m.recomputeVisible()
	m.cursor = 0
}

func (m *Model) sortEntries() {
	sort.SliceStable(m.entries, func(i, j int) bool {
		a, b := m.entries[i], m.entries[j]
		var less bool
		switch m.sortField {
		case SortByName:
			less = a.ref.Table.Name < b.ref.Table.Name
		case SortByBase:
			less = a.ref.BaseName < b.ref.BaseName
		case SortByFields:
			less = len(a.ref.Table.Fields) < len(b.ref.Table.Fields)
		case SortByFormulas:
			less = a.formulas < b.formulas
		}
		if !m.sortAsc {
			return !less
		}
		return less
	})
}

func (m *Model) selectedCount() int {
	n := 0
	for _, e := range m.entries {
		if e.selected {
			n++
		}
	}
	return n
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-1]) + "…"
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	selectedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	summaryStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)
