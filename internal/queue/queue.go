package queue

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"rollcall/internal/domain"
	"rollcall/internal/policy"
	"rollcall/internal/repo"
	"rollcall/internal/tabular"
)

// SectionPrefix marks a non-data section title row in column A.
const SectionPrefix = "— "

// Header is the live queue column list.
var Header = []string{
	tabular.ColCaseID,
	tabular.ColCustomer,
	"Scope Group",
	tabular.ColSalesStage,
	tabular.ColDaysStale,
	"Ack Status",
	"Note",
	"Reminder ID",
	"Reminder Action",
	"Snooze Until",
}

// TableName returns the live queue table name for a rep.
func TableName(prefix, rep string) string {
	return prefix + strings.Join(strings.Fields(rep), "_")
}

// Builder renders per-rep live queues from the frozen snapshot.
type Builder struct {
	WB     *tabular.Workbook
	Prefix string
	Policy *policy.Engine
}

// Build overwrites the rep's queue with the frozen rows, bucketed by scope
// group in policy priority order. Within a group rows sort by days-stale
// descending then customer ascending. Groups excluded from queues by policy
// are dropped here, not at freeze time.
func (b *Builder) Build(rep string, frozen []domain.SnapshotRow) error {
	byGroup := map[string][]domain.SnapshotRow{}
	for _, row := range frozen {
		if row.Rep != rep {
			continue
		}
		if !b.Policy.QueueIncludeFor(row.ScopeGroup) {
			continue
		}
		byGroup[row.ScopeGroup] = append(byGroup[row.ScopeGroup], row)
	}

	order := b.Policy.GroupOrder()
	for g := range byGroup {
		if !contains(order, g) {
			order = append(order, g)
		}
	}

	var rows [][]string
	for _, group := range order {
		bucket := byGroup[group]
		if len(bucket) == 0 {
			continue
		}
		sort.SliceStable(bucket, func(i, j int) bool {
			di, dj := staleDays(bucket[i].DaysStale), staleDays(bucket[j].DaysStale)
			if di != dj {
				return di > dj
			}
			return bucket[i].Customer < bucket[j].Customer
		})
		title := make([]string, len(Header))
		title[0] = fmt.Sprintf("%s%s — (%d)", SectionPrefix, group, len(bucket))
		rows = append(rows, title)
		for _, r := range bucket {
			rows = append(rows, []string{
				r.CaseID, r.Customer, r.ScopeGroup, r.SalesStage, r.DaysStale,
				"", "", "", "", "",
			})
		}
	}

	s, err := b.WB.EnsureTable(TableName(b.Prefix, rep))
	if err != nil {
		return err
	}
	s.Overwrite(Header, rows)
	return s.Save()
}

// InjectReminders inserts the rep's due reminders as a block at the top of
// the queue. Replace-mode: any prior reminder rows are removed first, so a
// repeated injection is a no-op beyond refreshing the block.
func (b *Builder) InjectReminders(rep string, reminders []domain.Reminder, names map[string]string) error {
	s, err := b.WB.EnsureTable(TableName(b.Prefix, rep))
	if err != nil {
		return err
	}
	if s.Width() == 0 {
		s.SetHeader(Header)
	}
	hm := s.HeaderMap()
	idCol := hm.Col("Reminder ID")
	if idCol < 0 {
		return fmt.Errorf("queue %s missing Reminder ID column", s.Name())
	}

	var kept [][]string
	for _, row := range s.Rows() {
		if idCol < len(row) && strings.TrimSpace(row[idCol]) != "" {
			continue
		}
		kept = append(kept, row)
	}

	block := make([][]string, 0, len(reminders))
	for _, rem := range reminders {
		r := make([]string, len(s.Header()))
		set := func(label, v string) {
			if c := hm.Col(label); c >= 0 && c < len(r) {
				r[c] = v
			}
		}
		set(tabular.ColCaseID, rem.CaseID)
		set(tabular.ColCustomer, names[rem.CaseID])
		set("Scope Group", rem.Type)
		set("Reminder ID", rem.ID)
		set("Snooze Until", rem.SnoozeUntil)
		block = append(block, r)
	}

	s.Overwrite(s.Header(), append(block, kept...))
	return s.Save()
}

// CollectActions buffers every pending reminder action from the queue
// before the legacy submit clears it. Section rows and rows without an
// action are skipped; row indexes refer to data rows as read.
func CollectActions(s *tabular.Sheet) []domain.ReminderAction {
	hm := s.HeaderMap()
	actCol := hm.Col("Reminder Action")
	idCol := hm.Col("Reminder ID")
	if actCol < 0 || idCol < 0 {
		return nil
	}
	var out []domain.ReminderAction
	for i, row := range s.Rows() {
		if len(row) > 0 && strings.HasPrefix(row[0], SectionPrefix) {
			continue
		}
		action := normalizeAction(s.Cell(i, actCol))
		if action == "" {
			continue
		}
		out = append(out, domain.ReminderAction{
			RowIndex:    i,
			ReminderID:  strings.TrimSpace(s.Cell(i, idCol)),
			Action:      action,
			Note:        strings.TrimSpace(s.Cell(i, hm.Col("Note"))),
			SnoozeUntil: strings.TrimSpace(s.Cell(i, hm.Col("Snooze Until"))),
			CaseID:      strings.TrimSpace(s.Cell(i, hm.Col(tabular.ColCaseID))),
			Customer:    strings.TrimSpace(s.Cell(i, hm.Col(tabular.ColCustomer))),
		})
	}
	return out
}

// ScrubSectionHints blanks the action cell on section title rows so the
// legacy submit cannot read a title as user input.
func ScrubSectionHints(s *tabular.Sheet) {
	actCol := s.HeaderMap().Col("Reminder Action")
	ackCol := s.HeaderMap().Col("Ack Status")
	for i, row := range s.Rows() {
		if len(row) == 0 || !strings.HasPrefix(row[0], SectionPrefix) {
			continue
		}
		if actCol >= 0 {
			s.SetCell(i, actCol, "")
		}
		if ackCol >= 0 {
			s.SetCell(i, ackCol, "")
		}
	}
}

// Canonical action labels accepted from the action cell.
const (
	ActionConfirm   = "Confirm"
	ActionSnooze1d  = "Snooze 1 Day"
	ActionSnoozeTil = "Snooze…"
	ActionCancel    = "Cancel"
)

func normalizeAction(v string) string {
	switch policy.Norm(strings.TrimSuffix(strings.TrimSpace(v), "…")) {
	case "confirm", "confirmed", "done", "ack":
		return ActionConfirm
	case "snooze 1 day", "snooze 1d", "snooze:1d":
		return ActionSnooze1d
	case "snooze", "snooze until":
		return ActionSnoozeTil
	case "cancel", "cancelled", "canceled":
		return ActionCancel
	}
	return ""
}

// LegacySubmit is the unmodifiable acknowledgement step: it appends one ack
// log row per acknowledged queue row, then clears the queue contents. Its
// destructive clear is why callers pre-collect actions.
type LegacySubmit struct {
	Repo repo.Repo
	Now  func() time.Time
}

// Run reads Ack Status cells, appends acknowledged rows to the log, and
// wipes the queue. Returns the number of acknowledgements recorded.
func (l *LegacySubmit) Run(ctx context.Context, s *tabular.Sheet, rep string) (int, error) {
	hm := s.HeaderMap()
	ackCol := hm.Col("Ack Status")
	caseCol := hm.Col(tabular.ColCaseID)
	if ackCol < 0 || caseCol < 0 {
		s.Clear()
		return 0, s.Save()
	}
	now := l.Now()
	count := 0
	for i, row := range s.Rows() {
		if len(row) > 0 && strings.HasPrefix(row[0], SectionPrefix) {
			continue
		}
		status := strings.TrimSpace(s.Cell(i, ackCol))
		caseID := strings.TrimSpace(s.Cell(i, caseCol))
		if status == "" || caseID == "" {
			continue
		}
		err := l.Repo.AppendAckLog(ctx, nil, domain.AckLogEntry{
			Timestamp: now.Format(time.RFC3339),
			LogDate:   now.Format("2006-01-02"),
			CaseID:    caseID,
			Rep:       rep,
			Status:    status,
			Note:      strings.TrimSpace(s.Cell(i, hm.Col("Note"))),
			Customer:  strings.TrimSpace(s.Cell(i, hm.Col(tabular.ColCustomer))),
		})
		if err != nil {
			return count, err
		}
		count++
	}
	s.Clear()
	return count, s.Save()
}

func staleDays(v string) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return -1
	}
	return n
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
