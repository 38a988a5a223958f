package schedule

import (
	"fmt"
	"strings"
	"time"

	"rollcall/internal/domain"
	"rollcall/internal/policy"
	"rollcall/internal/tabular"
)

var weekdayCols = [7]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// Roster is the loaded duty schedule for all reps.
type Roster struct {
	Entries map[string]domain.ScheduleEntry
}

// Load reads the roster table. A partner reference equal to the rep itself
// disables that rep's coverage.
func Load(sheet *tabular.Sheet) (*Roster, error) {
	hm := sheet.HeaderMap()
	missing := hm.Missing(tabular.ColRep)
	for _, d := range weekdayCols {
		if !hm.Has(d) {
			missing = append(missing, d)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("schedule table %s missing columns: %s", sheet.Name(), strings.Join(missing, ", "))
	}

	r := &Roster{Entries: map[string]domain.ScheduleEntry{}}
	for _, rec := range sheet.Records() {
		rep := strings.TrimSpace(tabular.Get(rec, tabular.ColRep))
		if rep == "" {
			continue
		}
		entry := domain.ScheduleEntry{Rep: rep}
		for i, d := range weekdayCols {
			entry.OnDuty[i] = isTruthy(tabular.Get(rec, d))
		}
		partner := strings.TrimSpace(tabular.Get(rec, "Assisted Coverage Partner"))
		if isTruthy(tabular.Get(rec, "Assisted Coverage Enabled?")) && partner != "" && partner != rep {
			entry.CoverageEnabled = true
			entry.CoveragePartner = partner
		}
		r.Entries[rep] = entry
	}
	return r, nil
}

// OnDuty reports whether a rep works on the weekday of the given time.
// Callers pass a time already localized to the run's timezone.
func (r *Roster) OnDuty(rep string, at time.Time) bool {
	e, ok := r.Entries[rep]
	if !ok {
		return false
	}
	return e.OnDuty[int(at.Weekday())]
}

func isTruthy(v string) bool {
	switch policy.Norm(v) {
	case "y", "yes", "true", "1":
		return true
	}
	return false
}
