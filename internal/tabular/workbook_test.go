package tabular_test

import (
	"testing"

	"rollcall/internal/tabular"
)

func TestHeaderMapSynonyms(t *testing.T) {
	hm := tabular.NewHeaderMap([]string{"RootApptID", "Sales Rep", "Include? (Y/N)", "Customer"})
	if got := hm.Col(tabular.ColCaseID); got != 0 {
		t.Fatalf("Case ID via RootApptID: got col %d", got)
	}
	if got := hm.Col(tabular.ColRep); got != 1 {
		t.Fatalf("Rep via Sales Rep: got col %d", got)
	}
	if got := hm.Col(tabular.ColInclude); got != 2 {
		t.Fatalf("Include? via Include? (Y/N): got col %d", got)
	}
	if got := hm.Col(tabular.ColCustomer); got != 3 {
		t.Fatalf("Customer Name via Customer: got col %d", got)
	}
	if hm.Has("Days Since Last Update") {
		t.Fatalf("absent column must not resolve")
	}
}

func TestHeaderMapReorderTolerance(t *testing.T) {
	// Same labels, different order: resolution must follow labels.
	a := tabular.NewHeaderMap([]string{"Case ID", "Rep"})
	b := tabular.NewHeaderMap([]string{"Rep", "Extra", "Case ID"})
	if a.Col("Case ID") != 0 || b.Col("Case ID") != 2 {
		t.Fatalf("reordered header not re-resolved")
	}
}

func TestSheetSaveReload(t *testing.T) {
	dir := t.TempDir()
	wb, err := tabular.Ensure(dir)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	s, err := wb.EnsureTable("00_Master_Cases")
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	s.Overwrite([]string{"Case ID", "Customer Name"}, [][]string{
		{"C1", "Ada"},
		{"C2", "Bob"},
	})
	if err := s.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	wb2, err := tabular.Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	s2, err := wb2.Table("00_Master_Cases")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	recs := s2.Records()
	if len(recs) != 2 || recs[0]["Case ID"] != "C1" || recs[1]["Customer Name"] != "Bob" {
		t.Fatalf("roundtrip mismatch: %v", recs)
	}
}

func TestInsertDeleteColumns(t *testing.T) {
	wb, err := tabular.Ensure(t.TempDir())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	s, err := wb.EnsureTable("t")
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	s.Overwrite([]string{"A", "B"}, [][]string{{"1", "2"}})
	if err := s.InsertColumns(1, 2); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if s.Width() != 4 || s.Cell(0, 3) != "2" {
		t.Fatalf("insert shifted wrong: width=%d cell=%q", s.Width(), s.Cell(0, 3))
	}
	if err := s.DeleteColumns(1, 2); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s.Width() != 2 || s.Cell(0, 1) != "2" {
		t.Fatalf("delete restored wrong: width=%d cell=%q", s.Width(), s.Cell(0, 1))
	}
}

func TestRecordsPadShortRows(t *testing.T) {
	wb, err := tabular.Ensure(t.TempDir())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	s, err := wb.EnsureTable("t")
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	s.SetHeader([]string{"A", "B", "C"})
	s.Append([][]string{{"only-a"}})
	rec := s.Records()[0]
	if rec["A"] != "only-a" || rec["C"] != "" {
		t.Fatalf("short row not padded: %v", rec)
	}
}

func TestGetResolvesSynonymsOnRecords(t *testing.T) {
	rec := map[string]string{"Root Appt ID": "C9", "Owner": "dana"}
	if got := tabular.Get(rec, tabular.ColCaseID); got != "C9" {
		t.Fatalf("got %q", got)
	}
	if got := tabular.Get(rec, tabular.ColRep); got != "dana" {
		t.Fatalf("got %q", got)
	}
}
