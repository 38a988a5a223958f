package schedule_test

import (
	"reflect"
	"testing"
	"time"

	"rollcall/internal/domain"
	"rollcall/internal/schedule"
)

// monday is a fixed Monday used across resolver tests.
var monday = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func entry(rep string, days ...time.Weekday) domain.ScheduleEntry {
	e := domain.ScheduleEntry{Rep: rep}
	for _, d := range days {
		e.OnDuty[int(d)] = true
	}
	return e
}

func withPartner(e domain.ScheduleEntry, partner string) domain.ScheduleEntry {
	e.CoverageEnabled = true
	e.CoveragePartner = partner
	return e
}

func roster(entries ...domain.ScheduleEntry) *schedule.Roster {
	r := &schedule.Roster{Entries: map[string]domain.ScheduleEntry{}}
	for _, e := range entries {
		r.Entries[e.Rep] = e
	}
	return r
}

func TestResolveAssignedOnDuty(t *testing.T) {
	r := roster(entry("ann", time.Monday), entry("bea"))
	ds := schedule.Resolve(
		map[string]bool{"C1": true},
		[]domain.RawAssignment{
			{CaseID: "C1", Rep: "ann", Role: domain.RoleAssigned, Include: true},
			{CaseID: "C1", Rep: "bea", Role: domain.RoleAssisted, Include: true},
		},
		r, monday)
	if !ds.ByCase["C1"]["ann"] {
		t.Fatalf("ann should owe C1: %v", ds.ByCase)
	}
	if ds.ByCase["C1"]["bea"] {
		t.Fatalf("off-duty bea without coverage must not owe C1")
	}
	if len(ds.AssignedGaps) != 0 {
		t.Fatalf("no assigned gap expected: %v", ds.AssignedGaps)
	}
}

func TestResolveExcludesUnmarkedAndOutOfScope(t *testing.T) {
	r := roster(entry("ann", time.Monday))
	ds := schedule.Resolve(
		map[string]bool{"C1": true},
		[]domain.RawAssignment{
			{CaseID: "C1", Rep: "ann", Role: domain.RoleAssigned, Include: false},
			{CaseID: "C2", Rep: "ann", Role: domain.RoleAssigned, Include: true},
		},
		r, monday)
	if len(ds.ByCase) != 0 {
		t.Fatalf("nothing should resolve: %v", ds.ByCase)
	}
}

func TestResolveAssignedWinsRoleConflict(t *testing.T) {
	r := roster(entry("ann", time.Monday))
	ds := schedule.Resolve(
		map[string]bool{"C1": true},
		[]domain.RawAssignment{
			{CaseID: "C1", Rep: "ann", Role: domain.RoleAssisted, Include: true},
			{CaseID: "C1", Rep: "ann", Role: domain.RoleAssigned, Include: true},
		},
		r, monday)
	if got := ds.Role[schedule.RoleKey("C1", "ann")]; got != domain.RoleAssigned {
		t.Fatalf("conflicting rows must resolve to Assigned, got %s", got)
	}
}

func TestResolveCoverageFallback(t *testing.T) {
	// bea is assisted and off today; her partner cal is on duty.
	r := roster(
		entry("ann", time.Monday),
		withPartner(entry("bea"), "cal"),
		entry("cal", time.Monday),
	)
	ds := schedule.Resolve(
		map[string]bool{"C1": true},
		[]domain.RawAssignment{
			{CaseID: "C1", Rep: "ann", Role: domain.RoleAssigned, Include: true},
			{CaseID: "C1", Rep: "bea", Role: domain.RoleAssisted, Include: true},
		},
		r, monday)
	if !ds.ByCase["C1"]["cal"] {
		t.Fatalf("partner cal should cover: %v", ds.ByCase)
	}
	if got := ds.Role[schedule.RoleKey("C1", "cal")]; got != domain.RoleAssisted {
		t.Fatalf("covering partner takes Assisted, got %s", got)
	}
	if len(ds.AssistedGaps) != 0 {
		t.Fatalf("covered case must not gap: %v", ds.AssistedGaps)
	}
}

func TestResolvePartnerKeepsAssignedRoleWhenAlreadyAssigned(t *testing.T) {
	// cal is already assigned on the case; stepping in for bea must not
	// demote him to Assisted.
	r := roster(
		withPartner(entry("bea"), "cal"),
		entry("cal", time.Monday),
	)
	ds := schedule.Resolve(
		map[string]bool{"C1": true},
		[]domain.RawAssignment{
			{CaseID: "C1", Rep: "cal", Role: domain.RoleAssigned, Include: true},
			{CaseID: "C1", Rep: "bea", Role: domain.RoleAssisted, Include: true},
		},
		r, monday)
	if got := ds.Role[schedule.RoleKey("C1", "cal")]; got != domain.RoleAssigned {
		t.Fatalf("partner already assigned keeps Assigned, got %s", got)
	}
}

func TestResolveBothGapsEmptyDuty(t *testing.T) {
	// A assigned and off duty; B assisted with coverage to A, both off.
	r := roster(
		entry("A"),
		withPartner(entry("B"), "A"),
	)
	ds := schedule.Resolve(
		map[string]bool{"C1": true},
		[]domain.RawAssignment{
			{CaseID: "C1", Rep: "A", Role: domain.RoleAssigned, Include: true},
			{CaseID: "C1", Rep: "B", Role: domain.RoleAssisted, Include: true},
		},
		r, monday)
	gap, ok := ds.AssignedGaps["C1"]
	if !ok || !reflect.DeepEqual(gap.Assigned, []string{"A"}) {
		t.Fatalf("want AssignedGap([A]), got %v", ds.AssignedGaps)
	}
	ag, ok := ds.AssistedGaps["C1"]
	if !ok || ag.Pair != "B & A" {
		t.Fatalf("want AssistedGap(B & A), got %v", ds.AssistedGaps)
	}
	if len(ds.ByCase["C1"]) != 0 {
		t.Fatalf("duty set must be empty: %v", ds.ByCase["C1"])
	}
}

func TestResolveGapExclusivity(t *testing.T) {
	r := roster(entry("ann", time.Monday), entry("bea"))
	ds := schedule.Resolve(
		map[string]bool{"C1": true},
		[]domain.RawAssignment{
			{CaseID: "C1", Rep: "ann", Role: domain.RoleAssigned, Include: true},
			{CaseID: "C1", Rep: "bea", Role: domain.RoleAssigned, Include: true},
		},
		r, monday)
	if _, gapped := ds.AssignedGaps["C1"]; gapped && len(ds.ByCase["C1"]) > 0 {
		t.Fatalf("case cannot both gap and have assigned duty")
	}
	if _, gapped := ds.AssignedGaps["C1"]; gapped {
		t.Fatalf("ann on duty, no gap expected")
	}
}

func TestResolveIdempotent(t *testing.T) {
	r := roster(
		entry("ann", time.Monday),
		withPartner(entry("bea"), "cal"),
		entry("cal", time.Monday),
		withPartner(entry("dee"), "cal"),
	)
	assignments := []domain.RawAssignment{
		{CaseID: "C1", Rep: "ann", Role: domain.RoleAssigned, Include: true},
		{CaseID: "C1", Rep: "bea", Role: domain.RoleAssisted, Include: true},
		{CaseID: "C1", Rep: "dee", Role: domain.RoleAssisted, Include: true},
		{CaseID: "C2", Rep: "bea", Role: domain.RoleAssigned, Include: true},
	}
	scope := map[string]bool{"C1": true, "C2": true}
	a := schedule.Resolve(scope, assignments, r, monday)
	b := schedule.Resolve(scope, assignments, r, monday)
	if !reflect.DeepEqual(a.ByCase, b.ByCase) || !reflect.DeepEqual(a.AssignedGaps, b.AssignedGaps) || !reflect.DeepEqual(a.AssistedGaps, b.AssistedGaps) {
		t.Fatalf("resolve is not deterministic")
	}
}

func TestApplyMustAckPreservesEmptySets(t *testing.T) {
	r := roster(entry("ann", time.Monday))
	ds := schedule.Resolve(
		map[string]bool{"C1": true},
		[]domain.RawAssignment{
			{CaseID: "C1", Rep: "ann", Role: domain.RoleAssisted, Include: true},
		},
		r, monday)
	filtered := schedule.ApplyMustAck(ds,
		map[string]string{"C1": "G"},
		func(string) domain.MustAck { return domain.MustAckAssignedOnly },
	)
	set, ok := filtered.ByCase["C1"]
	if !ok {
		t.Fatalf("filtered-to-empty case must keep its key")
	}
	if len(set) != 0 {
		t.Fatalf("want empty set, got %v", set)
	}
	if len(filtered.ByRep) != 0 {
		t.Fatalf("no rep owes anything: %v", filtered.ByRep)
	}
}

func TestApplyMustAckAssistedOnly(t *testing.T) {
	r := roster(entry("ann", time.Monday), entry("bea", time.Monday))
	ds := schedule.Resolve(
		map[string]bool{"C1": true},
		[]domain.RawAssignment{
			{CaseID: "C1", Rep: "ann", Role: domain.RoleAssigned, Include: true},
			{CaseID: "C1", Rep: "bea", Role: domain.RoleAssisted, Include: true},
		},
		r, monday)
	filtered := schedule.ApplyMustAck(ds,
		map[string]string{"C1": "G"},
		func(string) domain.MustAck { return domain.MustAckAssistedOnly },
	)
	if filtered.ByCase["C1"]["ann"] || !filtered.ByCase["C1"]["bea"] {
		t.Fatalf("ASSISTED_ONLY keeps only bea: %v", filtered.ByCase["C1"])
	}
}
