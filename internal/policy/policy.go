package policy

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"rollcall/internal/domain"
	"rollcall/internal/tabular"
)

// Built-in aliases for robust value matching, keyed by match column.
// Additional variants can be layered on from config; everything is
// normalized once at load time.
var builtinAliases = map[string]map[string][]string{
	"Sales Stage": {
		"appointment":        {"appt", "appointment scheduled", "booked appointment"},
		"follow-up required": {"follow up required", "follow-up", "follow up"},
	},
	"Conversion Status": {
		"viewing scheduled": {"viewing scheduled"},
	},
	"Custom Order Status": {
		"in production": {"in-production", "in prod", "production"},
	},
}

var dashVariants = strings.NewReplacer("‑", "-", "–", "-", "—", "-")

// Norm canonicalizes a match value: dash-fold, collapse whitespace, trim,
// lower-case.
func Norm(s string) string {
	s = dashVariants.Replace(s)
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func splitList(s string) []string {
	var out []string
	for _, tok := range strings.Split(s, ",") {
		if n := Norm(tok); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Engine classifies cases into scope groups by first-match over the ordered
// policy list.
type Engine struct {
	Policies []domain.Policy

	// aliasSets[column][value] holds the expanded accepted set for each
	// normalized value, built once at load time.
	aliasSets map[string]map[string][]string
}

// Load reads the policy table, dropping disabled or malformed rows, and
// returns an engine with policies sorted by ascending priority.
func Load(sheet *tabular.Sheet, extraAliases map[string]map[string][]string) (*Engine, error) {
	hm := sheet.HeaderMap()
	if missing := hm.Missing("Priority", "Group Name", "Match Column", "Match Values (comma-sep)"); len(missing) > 0 {
		return nil, fmt.Errorf("policy table %s missing columns: %s", sheet.Name(), strings.Join(missing, ", "))
	}

	var policies []domain.Policy
	for _, rec := range sheet.Records() {
		if Norm(tabular.Get(rec, "Enabled")) != "y" {
			continue
		}
		group := strings.TrimSpace(tabular.Get(rec, "Group Name"))
		col := strings.TrimSpace(tabular.Get(rec, "Match Column"))
		vals := splitList(tabular.Get(rec, "Match Values (comma-sep)"))
		if group == "" || col == "" || len(vals) == 0 {
			continue // malformed row, skipped as a data error
		}
		priority := 9999
		if p, err := strconv.Atoi(strings.TrimSpace(tabular.Get(rec, "Priority"))); err == nil {
			priority = p
		}
		policies = append(policies, domain.Policy{
			Priority:         priority,
			Group:            group,
			MatchColumn:      col,
			MatchValues:      vals,
			MustAck:          parseMustAck(tabular.Get(rec, "MustAck")),
			QueueInclude:     isYes(tabular.Get(rec, "QueueInclude")),
			SnapshotInclude:  isYes(tabular.Get(rec, "SnapshotInclude")),
			AckCadence:       defaultStr(strings.TrimSpace(tabular.Get(rec, "AckCadence")), "DAILY"),
			AssistedCoverage: isYes(tabular.Get(rec, "Coverage Assisted Pairing")),
		})
	}
	sort.SliceStable(policies, func(i, j int) bool { return policies[i].Priority < policies[j].Priority })

	e := &Engine{Policies: policies}
	e.buildAliasSets(extraAliases)
	return e, nil
}

func (e *Engine) buildAliasSets(extra map[string]map[string][]string) {
	e.aliasSets = map[string]map[string][]string{}
	merge := func(src map[string]map[string][]string) {
		for col, entries := range src {
			m := e.aliasSets[col]
			if m == nil {
				m = map[string][]string{}
				e.aliasSets[col] = m
			}
			for canonical, variants := range entries {
				key := Norm(canonical)
				for _, v := range variants {
					m[key] = append(m[key], Norm(v))
				}
			}
		}
	}
	merge(builtinAliases)
	merge(extra)
}

// expand returns the value plus all its aliases for the column, normalized.
func (e *Engine) expand(column string, values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	aliases := e.aliasSets[column]
	for _, v := range values {
		out[v] = true
		for _, a := range aliases[v] {
			out[a] = true
		}
	}
	return out
}

func (e *Engine) matches(p domain.Policy, actual string) bool {
	a := Norm(actual)
	if a == "" {
		return false
	}
	expanded := e.expand(p.MatchColumn, p.MatchValues)
	if expanded[a] {
		return true
	}
	// The actual value may itself be an alias of an accepted canonical.
	for _, alias := range e.aliasSets[p.MatchColumn][a] {
		if expanded[alias] {
			return true
		}
	}
	for canonical, variants := range e.aliasSets[p.MatchColumn] {
		for _, v := range variants {
			if v == a && expanded[canonical] {
				return true
			}
		}
	}
	return false
}

// Classify returns the scope group for a case record, or ok=false when the
// case matches no policy and is out of scope everywhere downstream.
func (e *Engine) Classify(rec map[string]string) (string, bool) {
	for _, p := range e.Policies {
		if e.matches(p, tabular.Get(rec, p.MatchColumn)) {
			return p.Group, true
		}
	}
	return "", false
}

// Classification is the one-pass output of ClassifyAll.
type Classification struct {
	InScope     map[string]bool
	GroupByCase map[string]string
	MetaByCase  map[string]map[string]string // classify-time metadata mirror
	NameByCase  map[string]string
}

// ClassifyAll applies Classify to each case index record independently.
// Records without a resolvable case id, and cases matching no policy, are
// absent from every returned map.
func (e *Engine) ClassifyAll(records []map[string]string) Classification {
	c := Classification{
		InScope:     map[string]bool{},
		GroupByCase: map[string]string{},
		MetaByCase:  map[string]map[string]string{},
		NameByCase:  map[string]string{},
	}
	for _, rec := range records {
		id := strings.TrimSpace(tabular.Get(rec, tabular.ColCaseID))
		if id == "" {
			continue
		}
		group, ok := e.Classify(rec)
		if !ok {
			continue
		}
		c.InScope[id] = true
		c.GroupByCase[id] = group
		c.MetaByCase[id] = rec
		c.NameByCase[id] = strings.TrimSpace(tabular.Get(rec, tabular.ColCustomer))
	}
	return c
}

// MustAckFor returns the MustAck mode for a group. When several policy rows
// share a group name the first row encountered wins.
func (e *Engine) MustAckFor(group string) domain.MustAck {
	for _, p := range e.Policies {
		if p.Group == group {
			return p.MustAck
		}
	}
	return domain.MustAckAllOnDuty
}

// QueueIncludeFor reports whether a group's cases belong on live queues.
// First policy row for the group wins, matching MustAckFor.
func (e *Engine) QueueIncludeFor(group string) bool {
	for _, p := range e.Policies {
		if p.Group == group {
			return p.QueueInclude
		}
	}
	return false
}

// SnapshotIncludeFor reports whether a group's cases are frozen into the
// daily snapshot.
func (e *Engine) SnapshotIncludeFor(group string) bool {
	for _, p := range e.Policies {
		if p.Group == group {
			return p.SnapshotInclude
		}
	}
	return false
}

// GroupOrder returns group names in policy priority order, first occurrence
// only. Queue rendering uses this for section ordering.
func (e *Engine) GroupOrder() []string {
	var out []string
	seen := map[string]bool{}
	for _, p := range e.Policies {
		if !seen[p.Group] {
			seen[p.Group] = true
			out = append(out, p.Group)
		}
	}
	return out
}

func parseMustAck(s string) domain.MustAck {
	v := strings.ToUpper(strings.TrimSpace(s))
	v = strings.NewReplacer(" ", "_", "-", "_").Replace(v)
	switch v {
	case string(domain.MustAckAssignedOnly), "ASSIGNED_REPS_ONLY":
		return domain.MustAckAssignedOnly
	case string(domain.MustAckAssistedOnly), "ASSISTED_REPS_ONLY":
		return domain.MustAckAssistedOnly
	default:
		return domain.MustAckAllOnDuty
	}
}

func isYes(s string) bool {
	switch Norm(s) {
	case "y", "yes", "true", "1":
		return true
	}
	return false
}

func defaultStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
