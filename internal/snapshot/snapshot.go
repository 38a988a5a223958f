package snapshot

import (
	"fmt"
	"sort"
	"time"

	"rollcall/internal/domain"
	"rollcall/internal/policy"
	"rollcall/internal/schedule"
	"rollcall/internal/tabular"
)

// Header is the canonical column list for the snapshot and snapshot log
// tables. Freeze rewrites it verbatim on every run.
var Header = []string{
	"Snapshot Date",
	"Captured At",
	tabular.ColCaseID,
	tabular.ColRep,
	"Role",
	"Scope Group",
	tabular.ColCustomer,
	tabular.ColSalesStage,
	tabular.ColConversion,
	tabular.ColOrderStatus,
	tabular.ColUpdatedBy,
	tabular.ColUpdatedAt,
	tabular.ColDaysStale,
}

// Engine freezes the day's duty resolution into the canonical snapshot
// table and the append-only snapshot log.
type Engine struct {
	WB        *tabular.Workbook
	Canonical string
	Log       string
	Now       func() time.Time
	Location  *time.Location
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().In(e.loc())
	}
	return time.Now().In(e.loc())
}

func (e *Engine) loc() *time.Location {
	if e.Location != nil {
		return e.Location
	}
	return time.Local
}

// Heal repairs a snapshot-shaped sheet in place: widen or narrow to the
// canonical width, then rewrite the header verbatim. Tolerates a brand-new
// zero-width sheet.
func Heal(s *tabular.Sheet) error {
	want := len(Header)
	cur := s.Width()
	switch {
	case cur == 0:
		// Seed one column first so the remaining inserts have an anchor.
		if err := s.InsertColumns(0, 1); err != nil {
			return err
		}
		if err := s.InsertColumns(1, want-1); err != nil {
			return err
		}
	case cur < want:
		if err := s.InsertColumns(cur, want-cur); err != nil {
			return err
		}
	case cur > want:
		if err := s.DeleteColumns(want, cur-want); err != nil {
			return err
		}
	}
	s.SetHeader(Header)
	return nil
}

// HealAll opens (creating if needed) and repairs both snapshot tables.
// Exposed as its own CLI command for one-shot recovery.
func (e *Engine) HealAll() error {
	for _, name := range []string{e.Canonical, e.Log} {
		s, err := e.WB.EnsureTable(name)
		if err != nil {
			return err
		}
		if err := Heal(s); err != nil {
			return err
		}
		if err := s.Save(); err != nil {
			return err
		}
	}
	return nil
}

// Rows materializes the frozen rows for a duty set, one per (case, rep,
// role), ordered by case id then rep for stable output. A nil include
// filter freezes every group.
func (e *Engine) Rows(ds *schedule.DutySet, cls policy.Classification, date, capturedAt string, include func(group string) bool) []domain.SnapshotRow {
	var out []domain.SnapshotRow
	for _, caseID := range ds.Cases() {
		if include != nil && !include(cls.GroupByCase[caseID]) {
			continue
		}
		reps := make([]string, 0, len(ds.ByCase[caseID]))
		for rep := range ds.ByCase[caseID] {
			reps = append(reps, rep)
		}
		sort.Strings(reps)
		meta := cls.MetaByCase[caseID]
		for _, rep := range reps {
			role, ok := ds.Role[schedule.RoleKey(caseID, rep)]
			if !ok {
				role = domain.RoleAssigned
			}
			out = append(out, domain.SnapshotRow{
				SnapshotDate: date,
				CapturedAt:   capturedAt,
				CaseID:       caseID,
				Rep:          rep,
				Role:         role,
				ScopeGroup:   cls.GroupByCase[caseID],
				Customer:     cls.NameByCase[caseID],
				SalesStage:   tabular.Get(meta, tabular.ColSalesStage),
				Conversion:   tabular.Get(meta, tabular.ColConversion),
				OrderStatus:  tabular.Get(meta, tabular.ColOrderStatus),
				UpdatedBy:    tabular.Get(meta, tabular.ColUpdatedBy),
				UpdatedAt:    tabular.Get(meta, tabular.ColUpdatedAt),
				DaysStale:    tabular.Get(meta, tabular.ColDaysStale),
			})
		}
	}
	return out
}

// Freeze heals both stores, overwrites the canonical table with the day's
// rows, and appends the same rows to the log. Returns the row count. Queue
// builds must not run before Freeze succeeds; they read the frozen table.
func (e *Engine) Freeze(ds *schedule.DutySet, cls policy.Classification, include func(group string) bool) (int, error) {
	now := e.now()
	date := now.Format("2006-01-02")
	rows := e.Rows(ds, cls, date, now.Format(time.RFC3339), include)

	canonical, err := e.WB.EnsureTable(e.Canonical)
	if err != nil {
		return 0, err
	}
	if err := Heal(canonical); err != nil {
		return 0, fmt.Errorf("heal %s: %w", e.Canonical, err)
	}
	canonical.Overwrite(Header, toCells(rows))
	if err := canonical.Save(); err != nil {
		return 0, err
	}

	log, err := e.WB.EnsureTable(e.Log)
	if err != nil {
		return 0, err
	}
	if err := Heal(log); err != nil {
		return 0, fmt.Errorf("heal %s: %w", e.Log, err)
	}
	log.Append(toCells(rows))
	if err := log.Save(); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// ReadCanonical loads the frozen snapshot rows, optionally filtered to one
// date (empty date means all rows present in the canonical table).
func (e *Engine) ReadCanonical(date string) ([]domain.SnapshotRow, error) {
	if !e.WB.Has(e.Canonical) {
		return nil, nil
	}
	s, err := e.WB.Table(e.Canonical)
	if err != nil {
		return nil, err
	}
	var out []domain.SnapshotRow
	for _, rec := range s.Records() {
		row := fromRecord(rec)
		if row.CaseID == "" || row.Rep == "" {
			continue
		}
		if date != "" && row.SnapshotDate != date {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

// ReadToday is ReadCanonical for the current date.
func (e *Engine) ReadToday() ([]domain.SnapshotRow, error) {
	return e.ReadCanonical(e.now().Format("2006-01-02"))
}

func toCells(rows []domain.SnapshotRow) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = []string{
			r.SnapshotDate, r.CapturedAt, r.CaseID, r.Rep, string(r.Role),
			r.ScopeGroup, r.Customer, r.SalesStage, r.Conversion,
			r.OrderStatus, r.UpdatedBy, r.UpdatedAt, r.DaysStale,
		}
	}
	return out
}

func fromRecord(rec map[string]string) domain.SnapshotRow {
	role := domain.RoleAssigned
	if rec["Role"] == string(domain.RoleAssisted) {
		role = domain.RoleAssisted
	}
	return domain.SnapshotRow{
		SnapshotDate: rec["Snapshot Date"],
		CapturedAt:   rec["Captured At"],
		CaseID:       tabular.Get(rec, tabular.ColCaseID),
		Rep:          tabular.Get(rec, tabular.ColRep),
		Role:         role,
		ScopeGroup:   rec["Scope Group"],
		Customer:     tabular.Get(rec, tabular.ColCustomer),
		SalesStage:   tabular.Get(rec, tabular.ColSalesStage),
		Conversion:   tabular.Get(rec, tabular.ColConversion),
		OrderStatus:  tabular.Get(rec, tabular.ColOrderStatus),
		UpdatedBy:    tabular.Get(rec, tabular.ColUpdatedBy),
		UpdatedAt:    tabular.Get(rec, tabular.ColUpdatedAt),
		DaysStale:    tabular.Get(rec, tabular.ColDaysStale),
	}
}
