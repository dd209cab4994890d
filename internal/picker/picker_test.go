package picker

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/airtap/airtap/internal/schema"
)

func testRefs() []schema.TableRef {
	formula := schema.Field{Name: "Score", Types: []string{"number", "formula"}, IsFormula: true}
	return []schema.TableRef{
		{BaseID: "appA", BaseName: "Sales", Table: schema.Table{ID: "tbl1", Name: "customers", Fields: []schema.Field{{Name: "Name", Types: []string{"singleLineText"}}}}},
		{BaseID: "appA", BaseName: "Sales", Table: schema.Table{ID: "tbl2", Name: "orders", Fields: []schema.Field{{Name: "Total", Types: []string{"number"}}, formula}}},
		{BaseID: "appA", BaseName: "Sales", Table: schema.Table{ID: "tbl3", Name: "order_items"}},
		{BaseID: "appB", BaseName: "Ops", Table: schema.Table{ID: "tbl4", Name: "products"}},
	}
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func names(refs []schema.TableRef) map[string]bool {
	out := make(map[string]bool)
	for _, r := range refs {
		out[r.Table.Name] = true
	}
	return out
}

func TestNew(t *testing.T) {
	m := New(testRefs(), nil)
	if len(m.entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(m.entries))
	}
	if m.selectedCount() != 0 {
		t.Errorf("expected 0 selected initially, got %d", m.selectedCount())
	}
	if m.entries[2].ref.Table.Name != "orders" || m.entries[2].formulas != 1 {
		t.Errorf("expected name order with formula count, got %+v", m.entries[2])
	}
}

func TestNew_PreSelectedByKey(t *testing.T) {
	m := New(testRefs(), []string{"appA/tbl1", "appB/tbl4", "appZ/gone"})
	got := names(m.Selected())
	if len(got) != 2 || !got["customers"] || !got["products"] {
		t.Errorf("unexpected preselection: %v", got)
	}
}

func TestToggleAndMove(t *testing.T) {
	m := New(testRefs(), nil)
	m.toggleCurrent()
	if m.selectedCount() != 1 {
		t.Errorf("expected 1 selected after toggle, got %d", m.selectedCount())
	}
	m.toggleCurrent()
	if m.selectedCount() != 0 {
		t.Errorf("expected 0 selected after second toggle, got %d", m.selectedCount())
	}

	m.moveCursor(-5)
	if m.cursor != 0 {
		t.Errorf("cursor should clamp at 0, got %d", m.cursor)
	}
	m.moveCursor(100)
	if m.cursor != 3 {
		t.Errorf("cursor should clamp at 3, got %d", m.cursor)
	}
}

func TestSelectAll_RespectsFilter(t *testing.T) {
	m := New(testRefs(), nil)
	m.filter = "ORDER"
	m.applyFilter()
	if len(m.visibleIdxs) != 2 {
		t.Fatalf("expected 2 visible, got %d", len(m.visibleIdxs))
	}
	m.selectAll()
	if m.selectedCount() != 2 {
		t.Errorf("selectAll should only touch visible rows, got %d", m.selectedCount())
	}
	m.deselectAll()
	if m.selectedCount() != 0 {
		t.Errorf("deselectAll: expected 0, got %d", m.selectedCount())
	}

	m.filter = "ops"
	m.applyFilter()
	if len(m.visibleIdxs) != 1 {
		t.Errorf("filter should match base names, got %d visible", len(m.visibleIdxs))
	}
}

func TestSelectBase(t *testing.T) {
	m := New(testRefs(), nil)
	m.cursor = 0 // customers, base appA
	m.selectBase()
	got := names(m.Selected())
	if len(got) != 3 || got["products"] {
		t.Errorf("expected every Sales table, got %v", got)
	}
}

func TestCycleSort(t *testing.T) {
	m := New(testRefs(), nil)
	m.cycleSort()
	if m.sortField != SortByName || m.sortAsc {
		t.Errorf("after first cycle: expected name desc")
	}
	m.cycleSort()
	if m.sortField != SortByBase || !m.sortAsc {
		t.Errorf("after second cycle: expected base asc")
	}
	if m.entries[0].ref.BaseName != "Ops" {
		t.Errorf("expected Ops first, got %s", m.entries[0].ref.BaseName)
	}
}

func TestFilterMode(t *testing.T) {
	m := New(testRefs(), nil)
	res, _ := m.Update(keyRunes("/"))
	m = res.(Model)
	if !m.filtering {
		t.Fatal("/ should enter filter mode")
	}
	for _, r := range "prod" {
		res, _ = m.Update(keyRunes(string(r)))
		m = res.(Model)
	}
	if len(m.visibleIdxs) != 1 {
		t.Errorf("expected 1 match for prod, got %d", len(m.visibleIdxs))
	}
	res, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = res.(Model)
	if m.filtering || len(m.visibleIdxs) != 4 {
		t.Errorf("esc should clear the filter, visible=%d", len(m.visibleIdxs))
	}
}

func TestViewRenders(t *testing.T) {
	m := New(testRefs(), []string{"appA/tbl2"})
	m.width = 80
	v := m.View()
	for _, want := range []string{"Select tables to sync", "customers", "Sales", "Selected: 1 tables, 2 fields"} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestViewWarnsOnDuplicateStreams(t *testing.T) {
	refs := append(testRefs(), schema.TableRef{BaseID: "appB", BaseName: "Ops", Table: schema.Table{ID: "tbl9", Name: "Orders"}})
	m := New(refs, []string{"appA/tbl2", "appB/tbl9"})
	if !strings.Contains(m.View(), `share stream name "orders"`) {
		t.Error("expected duplicate stream warning")
	}
}

func TestEnterRequiresSelection(t *testing.T) {
	m := New(testRefs(), nil)
	res, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if res.(Model).Done() || cmd != nil {
		t.Error("enter with no selection should not finish")
	}

	m = New(testRefs(), []string{"appA/tbl1"})
	res, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	rm := res.(Model)
	if !rm.Done() || rm.Cancelled() {
		t.Error("enter with selection should finish")
	}
	if len(rm.Selected()) != 1 {
		t.Errorf("expected 1 selected, got %d", len(rm.Selected()))
	}
}

func TestQuitCancels(t *testing.T) {
	m := New(testRefs(), nil)
	res, _ := m.Update(keyRunes("q"))
	if !res.(Model).Cancelled() {
		t.Error("q should cancel")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate short = %q", got)
	}
	if got := truncate("abcdefghij", 5); got != "abcd…" {
		t.Errorf("truncate long = %q", got)
	}
}
