package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"rollcall/internal/app"
	"rollcall/internal/events"
	"rollcall/internal/tabular"
)

// StepResult records one orchestrator step's outcome. Failures in
// non-critical steps are collected and the run continues; a critical
// failure aborts the remaining chain.
type StepResult struct {
	Name     string `json:"name"`
	Critical bool   `json:"critical"`
	Err      error  `json:"-"`
	Detail   string `json:"detail,omitempty"`
}

// OK reports whether the step succeeded.
func (s StepResult) OK() bool { return s.Err == nil }

// RunResult is the whole morning flow's outcome.
type RunResult struct {
	Steps   []StepResult
	Aborted bool
}

// Summary renders the human-readable run report.
func (r RunResult) Summary() string {
	var b strings.Builder
	for _, s := range r.Steps {
		status := "ok"
		if s.Err != nil {
			status = "FAILED: " + s.Err.Error()
		}
		fmt.Fprintf(&b, "%-18s %s", s.Name, status)
		if s.Detail != "" && s.Err == nil {
			fmt.Fprintf(&b, " (%s)", s.Detail)
		}
		b.WriteString("\n")
	}
	if r.Aborted {
		b.WriteString("run aborted on critical step failure\n")
	}
	return b.String()
}

// Runner drives the linear morning flow. No retry, no rollback: each step
// is idempotent, so recovery is rerunning the whole flow.
type Runner struct {
	App *app.App
}

type step struct {
	name     string
	critical bool
	fn       func(ctx context.Context) (string, error)
}

// Morning runs Rebuild-Indexes → Freeze-Snapshot → Build-Queues →
// Inject-Reminders → Rebuild-Dashboard under the morning lock.
func (r *Runner) Morning(ctx context.Context) (RunResult, error) {
	lock, err := r.App.Locks.Acquire(ctx, "morning", "orchestrator")
	if err != nil {
		return RunResult{}, err
	}
	defer lock.Release(ctx)

	var res *app.Resolution
	var auditErrs []error
	steps := []step{
		{"rebuild-indexes", true, func(ctx context.Context) (string, error) {
			n, err := r.RebuildIndexes()
			return fmt.Sprintf("%d cases", n), err
		}},
		{"freeze-snapshot", true, func(ctx context.Context) (string, error) {
			var err error
			res, err = r.App.ResolveToday()
			if err != nil {
				return "", err
			}
			n, err := r.App.Snapshot.Freeze(res.Duty, res.Cls, res.Policy.SnapshotIncludeFor)
			if err != nil {
				return "", err
			}
			err = r.App.Events.Append(ctx, nil, "snapshot.frozen", "snapshot", r.App.Today(), "orchestrator", events.EventPayload{
				"rows":  n,
				"gaps":  len(res.Duty.AssignedGaps) + len(res.Duty.AssistedGaps),
				"cases": len(res.Duty.ByCase),
			})
			if err != nil {
				auditErrs = append(auditErrs, fmt.Errorf("snapshot.frozen: %w", err))
			}
			return fmt.Sprintf("%d rows", n), nil
		}},
		{"build-queues", true, func(ctx context.Context) (string, error) {
			n, err := r.BuildQueues(res)
			return fmt.Sprintf("%d queues", n), err
		}},
		{"inject-reminders", false, func(ctx context.Context) (string, error) {
			n, err := r.InjectReminders(ctx, res)
			return fmt.Sprintf("%d reminders", n), err
		}},
		{"rebuild-dashboard", false, func(ctx context.Context) (string, error) {
			n, err := r.RebuildDashboard(ctx, res)
			return fmt.Sprintf("%d reps", n), err
		}},
	}

	out := RunResult{}
	for _, st := range steps {
		detail, err := st.fn(ctx)
		out.Steps = append(out.Steps, StepResult{Name: st.name, Critical: st.critical, Err: err, Detail: detail})
		if err != nil && st.critical {
			out.Aborted = true
			break
		}
	}

	err = r.App.Events.Append(ctx, nil, "morning.run", "orchestrator", r.App.Today(), "orchestrator", events.EventPayload{
		"steps":   len(out.Steps),
		"aborted": out.Aborted,
	})
	if err != nil {
		auditErrs = append(auditErrs, fmt.Errorf("morning.run: %w", err))
	}
	// Audit failures never abort the run, but they must show in the report.
	if len(auditErrs) > 0 {
		out.Steps = append(out.Steps, StepResult{Name: "audit-log", Err: errors.Join(auditErrs...)})
	}
	return out, nil
}

// RebuildIndexes regenerates the case index and the raw assignment table
// from the master table. Returns the master case count.
func (r *Runner) RebuildIndexes() (int, error) {
	master, err := r.App.WB.Table(r.App.Config.Tables.Master)
	if err != nil {
		return 0, err
	}
	hm := master.HeaderMap()
	if missing := hm.Missing(tabular.ColCaseID, tabular.ColCustomer); len(missing) > 0 {
		return 0, fmt.Errorf("master table %s missing columns: %s", master.Name(), strings.Join(missing, ", "))
	}

	now := r.App.NowLocal()
	idxHeader := []string{
		tabular.ColCaseID, tabular.ColCustomer, tabular.ColSalesStage,
		tabular.ColConversion, tabular.ColOrderStatus, tabular.ColAssigned,
		tabular.ColAssisted, tabular.ColUpdatedBy, tabular.ColUpdatedAt,
		tabular.ColDaysStale,
	}
	var idxRows [][]string
	var repRows [][]string
	count := 0
	for _, rec := range master.Records() {
		id := strings.TrimSpace(tabular.Get(rec, tabular.ColCaseID))
		if id == "" {
			continue
		}
		count++
		updatedAt := strings.TrimSpace(tabular.Get(rec, tabular.ColUpdatedAt))
		idxRows = append(idxRows, []string{
			id,
			strings.TrimSpace(tabular.Get(rec, tabular.ColCustomer)),
			tabular.Get(rec, tabular.ColSalesStage),
			tabular.Get(rec, tabular.ColConversion),
			tabular.Get(rec, tabular.ColOrderStatus),
			tabular.Get(rec, tabular.ColAssigned),
			tabular.Get(rec, tabular.ColAssisted),
			tabular.Get(rec, tabular.ColUpdatedBy),
			updatedAt,
			daysSince(updatedAt, now),
		})
		for _, rep := range splitNames(tabular.Get(rec, tabular.ColAssigned)) {
			repRows = append(repRows, []string{id, rep, "Assigned", "Y"})
		}
		for _, rep := range splitNames(tabular.Get(rec, tabular.ColAssisted)) {
			repRows = append(repRows, []string{id, rep, "Assisted", "Y"})
		}
	}

	idx, err := r.App.WB.EnsureTable(r.App.Config.Tables.CaseIndex)
	if err != nil {
		return 0, err
	}
	idx.Overwrite(idxHeader, idxRows)
	if err := idx.Save(); err != nil {
		return 0, err
	}

	reps, err := r.App.WB.EnsureTable(r.App.Config.Tables.Assignments)
	if err != nil {
		return 0, err
	}
	reps.Overwrite([]string{"RootID", tabular.ColRep, tabular.ColRole, "Include? (Y/N)"}, repRows)
	return count, reps.Save()
}

// BuildQueues renders one live queue per rep owing at least one case today.
func (r *Runner) BuildQueues(res *app.Resolution) (int, error) {
	frozen, err := r.App.Snapshot.ReadToday()
	if err != nil {
		return 0, err
	}
	builder := r.App.QueueBuilder(res.Policy)
	n := 0
	for _, rep := range res.Duty.Reps() {
		if err := builder.Build(rep, frozen); err != nil {
			return n, fmt.Errorf("queue for %s: %w", rep, err)
		}
		n++
	}
	return n, nil
}

// InjectReminders places each rep's due reminders atop their queue.
// Non-critical: a failure here leaves plain queues, not a broken run.
func (r *Runner) InjectReminders(ctx context.Context, res *app.Resolution) (int, error) {
	frozen, err := r.App.Snapshot.ReadToday()
	if err != nil {
		return 0, err
	}
	names := map[string]string{}
	for _, row := range frozen {
		names[row.CaseID] = row.Customer
	}
	builder := r.App.QueueBuilder(res.Policy)
	cutoff := r.App.NowLocal().Format(time.RFC3339)
	total := 0
	for _, rep := range res.Duty.Reps() {
		due, err := r.App.Repo.DueReminders(ctx, rep, cutoff)
		if err != nil {
			return total, err
		}
		if len(due) == 0 {
			continue
		}
		if err := builder.InjectReminders(rep, due, names); err != nil {
			return total, err
		}
		total += len(due)
	}
	return total, nil
}

// DashboardRow is one rep's expected/acked standing for today.
type DashboardRow struct {
	Rep         string `json:"rep"`
	Expected    int    `json:"expected"`
	Acked       int    `json:"acked"`
	Outstanding int    `json:"outstanding"`
}

// DashboardRows computes per-rep expected vs acknowledged counts from the
// frozen snapshot and the ack log.
func (r *Runner) DashboardRows(ctx context.Context) ([]DashboardRow, error) {
	frozen, err := r.App.Snapshot.ReadToday()
	if err != nil {
		return nil, err
	}
	expected := map[string]map[string]bool{}
	for _, row := range frozen {
		m := expected[row.Rep]
		if m == nil {
			m = map[string]bool{}
			expected[row.Rep] = m
		}
		m[row.CaseID] = true
	}

	reps := make([]string, 0, len(expected))
	for rep := range expected {
		reps = append(reps, rep)
	}
	sort.Strings(reps)

	today := r.App.Today()
	out := make([]DashboardRow, 0, len(reps))
	for _, rep := range reps {
		acked, err := r.App.Repo.AckedCasesOn(ctx, rep, today)
		if err != nil {
			return nil, err
		}
		got := 0
		for caseID := range expected[rep] {
			if acked[caseID] {
				got++
			}
		}
		out = append(out, DashboardRow{
			Rep:         rep,
			Expected:    len(expected[rep]),
			Acked:       got,
			Outstanding: len(expected[rep]) - got,
		})
	}
	return out, nil
}

// RebuildDashboard writes the per-rep standing table. Also runnable alone
// as the late-day refresh.
func (r *Runner) RebuildDashboard(ctx context.Context, _ *app.Resolution) (int, error) {
	rows, err := r.DashboardRows(ctx)
	if err != nil {
		return 0, err
	}
	cells := make([][]string, len(rows))
	for i, row := range rows {
		cells[i] = []string{
			row.Rep,
			strconv.Itoa(row.Expected),
			strconv.Itoa(row.Acked),
			strconv.Itoa(row.Outstanding),
			r.App.Today(),
		}
	}
	s, err := r.App.WB.EnsureTable(r.App.Config.Tables.Dashboard)
	if err != nil {
		return 0, err
	}
	s.Overwrite([]string{tabular.ColRep, "Expected", "Acked", "Outstanding", "As Of"}, cells)
	return len(rows), s.Save()
}

var updatedAtFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"1/2/2006",
}

// daysSince renders whole days between an Updated At value and now, "" when
// the value does not parse. Unparseable dates are a data error, not fatal.
func daysSince(v string, now time.Time) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	for _, f := range updatedAtFormats {
		t, err := time.ParseInLocation(f, v, now.Location())
		if err != nil {
			continue
		}
		d := int(now.Sub(t).Hours() / 24)
		if d < 0 {
			d = 0
		}
		return strconv.Itoa(d)
	}
	return ""
}

func splitNames(v string) []string {
	var out []string
	for _, tok := range strings.Split(v, ",") {
		if t := strings.TrimSpace(tok); t != "" {
			out = append(out, t)
		}
	}
	return out
}
