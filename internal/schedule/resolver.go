package schedule

import (
	"sort"
	"strings"
	"time"

	"rollcall/internal/domain"
	"rollcall/internal/tabular"
)

// DutySet is the resolved "who owes what today" answer.
type DutySet struct {
	// ByCase maps case → set of reps owing an acknowledgement today.
	ByCase map[string]map[string]bool
	// ByRep is the inversion, for per-rep queue construction.
	ByRep map[string]map[string]bool
	// Role records the duty role per (case, rep); key via RoleKey.
	Role map[string]domain.Role

	AssignedGaps map[string]domain.AssignedGap
	AssistedGaps map[string]domain.AssistedGap
}

// RoleKey joins a (case, rep) pair into the Role map key.
func RoleKey(caseID, rep string) string { return caseID + "||" + rep }

// LoadAssignments reads the raw assignment table into typed rows.
func LoadAssignments(sheet *tabular.Sheet) []domain.RawAssignment {
	var out []domain.RawAssignment
	for _, rec := range sheet.Records() {
		caseID := strings.TrimSpace(tabular.Get(rec, tabular.ColCaseID))
		rep := strings.TrimSpace(tabular.Get(rec, tabular.ColRep))
		if caseID == "" || rep == "" {
			continue
		}
		role := domain.RoleAssigned
		if strings.EqualFold(strings.TrimSpace(tabular.Get(rec, tabular.ColRole)), string(domain.RoleAssisted)) {
			role = domain.RoleAssisted
		}
		out = append(out, domain.RawAssignment{
			CaseID:  caseID,
			Rep:     rep,
			Role:    role,
			Include: strings.EqualFold(strings.TrimSpace(tabular.Get(rec, tabular.ColInclude)), "y"),
		})
	}
	return out
}

// Resolve computes today's duty set from in-scope cases and raw
// assignments, applying on-duty filtering and the one-hop assisted
// coverage fallback. Coverage is evaluated independently per case.
func Resolve(inScope map[string]bool, assignments []domain.RawAssignment, roster *Roster, today time.Time) *DutySet {
	// Per case: rep → role, Assigned winning any conflict.
	roleByCase := map[string]map[string]domain.Role{}
	for _, a := range assignments {
		if !a.Include || !inScope[a.CaseID] {
			continue
		}
		m := roleByCase[a.CaseID]
		if m == nil {
			m = map[string]domain.Role{}
			roleByCase[a.CaseID] = m
		}
		if cur, ok := m[a.Rep]; ok && (cur == domain.RoleAssigned || a.Role == domain.RoleAssigned) {
			m[a.Rep] = domain.RoleAssigned
		} else {
			m[a.Rep] = a.Role
		}
	}

	ds := &DutySet{
		ByCase:       map[string]map[string]bool{},
		ByRep:        map[string]map[string]bool{},
		Role:         map[string]domain.Role{},
		AssignedGaps: map[string]domain.AssignedGap{},
		AssistedGaps: map[string]domain.AssistedGap{},
	}

	for caseID, repRoles := range roleByCase {
		duty := map[string]bool{}

		var assigned, assisted []string
		for rep, role := range repRoles {
			if role == domain.RoleAssigned {
				assigned = append(assigned, rep)
			} else {
				assisted = append(assisted, rep)
			}
		}
		sort.Strings(assigned)
		sort.Strings(assisted)

		// Assigned reps on duty.
		assignedOnDuty := 0
		for _, rep := range assigned {
			if roster.OnDuty(rep, today) {
				duty[rep] = true
				ds.Role[RoleKey(caseID, rep)] = domain.RoleAssigned
				assignedOnDuty++
			}
		}
		if len(assigned) > 0 && assignedOnDuty == 0 {
			ds.AssignedGaps[caseID] = domain.AssignedGap{CaseID: caseID, Assigned: assigned}
		}

		// Assisted reps on duty.
		for _, rep := range assisted {
			if roster.OnDuty(rep, today) {
				duty[rep] = true
				ds.Role[RoleKey(caseID, rep)] = domain.RoleAssisted
			}
		}

		// One-hop coverage fallback for off-duty assisted reps. Sorted
		// iteration keeps the last-writer-wins gap record deterministic
		// when two reps share a partner.
		for _, rep := range assisted {
			if roster.OnDuty(rep, today) {
				continue
			}
			entry, ok := roster.Entries[rep]
			if !ok || !entry.CoverageEnabled {
				continue // uncovered without a gap signal, by the pairing contract
			}
			partner := entry.CoveragePartner
			if !roster.OnDuty(partner, today) {
				ds.AssistedGaps[caseID] = domain.AssistedGap{CaseID: caseID, Pair: rep + " & " + partner}
				continue
			}
			duty[partner] = true
			role := domain.RoleAssisted
			if repRoles[partner] == domain.RoleAssigned {
				role = domain.RoleAssigned
			}
			ds.Role[RoleKey(caseID, partner)] = role
		}

		if len(duty) > 0 {
			ds.ByCase[caseID] = duty
		}
	}

	ds.invert()
	return ds
}

// ApplyMustAck narrows each case's duty set to the roles its policy group
// requires. A case emptied by filtering keeps its key with an empty set;
// "no one owes this today" is distinct from "not tracked".
func ApplyMustAck(ds *DutySet, groupByCase map[string]string, mustAckFor func(group string) domain.MustAck) *DutySet {
	out := &DutySet{
		ByCase:       map[string]map[string]bool{},
		ByRep:        map[string]map[string]bool{},
		Role:         ds.Role,
		AssignedGaps: ds.AssignedGaps,
		AssistedGaps: ds.AssistedGaps,
	}
	for caseID, reps := range ds.ByCase {
		rule := mustAckFor(groupByCase[caseID])
		if rule == domain.MustAckAllOnDuty {
			out.ByCase[caseID] = copySet(reps)
			continue
		}
		keep := map[string]bool{}
		for rep := range reps {
			role, ok := ds.Role[RoleKey(caseID, rep)]
			if !ok {
				role = domain.RoleAssigned
			}
			if (rule == domain.MustAckAssignedOnly && role == domain.RoleAssigned) ||
				(rule == domain.MustAckAssistedOnly && role == domain.RoleAssisted) {
				keep[rep] = true
			}
		}
		out.ByCase[caseID] = keep
	}
	out.invert()
	return out
}

func (ds *DutySet) invert() {
	ds.ByRep = map[string]map[string]bool{}
	for caseID, reps := range ds.ByCase {
		for rep := range reps {
			m := ds.ByRep[rep]
			if m == nil {
				m = map[string]bool{}
				ds.ByRep[rep] = m
			}
			m[caseID] = true
		}
	}
}

// Cases returns the case ids in the duty set, sorted.
func (ds *DutySet) Cases() []string {
	out := make([]string, 0, len(ds.ByCase))
	for id := range ds.ByCase {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Reps returns the reps owing at least one case today, sorted.
func (ds *DutySet) Reps() []string {
	out := make([]string, 0, len(ds.ByRep))
	for rep := range ds.ByRep {
		out = append(out, rep)
	}
	sort.Strings(out)
	return out
}

func copySet(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
