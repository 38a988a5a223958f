package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"rollcall/internal/domain"
	"rollcall/internal/events"
	"rollcall/internal/locks"
	"rollcall/internal/queue"
	"rollcall/internal/repo"
	"rollcall/internal/snapshot"
	"rollcall/internal/tabular"
)

// Reconciler wraps the legacy destructive submit with buffered reminder
// actions so user intent survives the clear.
type Reconciler struct {
	WB       *tabular.Workbook
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Locks    *locks.Manager
	Builder  *queue.Builder
	Legacy   *queue.LegacySubmit
	Snapshot *snapshot.Engine
	Now      func() time.Time
	Location *time.Location
}

// SubmitResult is the per-run outcome: partial success is expected and
// reported, not hidden.
type SubmitResult struct {
	Rep       string   `json:"rep"`
	Acked     int      `json:"acked"`
	Processed int      `json:"processed"`
	Errors    []string `json:"errors"`
}

func (r *Reconciler) now() time.Time {
	return r.Now().In(r.Location)
}

// Submit runs the full reconcile flow for one rep's live queue: buffer
// pending actions, scrub section hint rows, run the legacy submit, apply
// the buffered actions to the durable queue, then rebuild the live view.
func (r *Reconciler) Submit(ctx context.Context, rep string) (SubmitResult, error) {
	res := SubmitResult{Rep: rep}

	// The morning flow rewrites the same queue sheets, so a submit first
	// takes the morning guard, then its per-rep lock.
	guard, err := r.Locks.Acquire(ctx, "morning", "submit:"+rep)
	if err != nil {
		return res, err
	}
	defer guard.Release(ctx)

	lock, err := r.Locks.Acquire(ctx, "submit:"+rep, rep)
	if err != nil {
		return res, err
	}
	defer lock.Release(ctx)

	name := queue.TableName(r.Builder.Prefix, rep)
	sheet, err := r.WB.Table(name)
	if err != nil {
		return res, fmt.Errorf("open queue %s: %w", name, err)
	}

	// Buffer before the legacy step wipes the sheet.
	actions := queue.CollectActions(sheet)
	queue.ScrubSectionHints(sheet)

	acked, err := r.Legacy.Run(ctx, sheet, rep)
	if err != nil {
		return res, fmt.Errorf("legacy submit: %w", err)
	}
	res.Acked = acked

	for _, a := range actions {
		if err := r.apply(ctx, rep, a); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("row %d (%s): %v", a.RowIndex+1, a.ReminderID, err))
			continue
		}
		res.Processed++
	}

	if err := r.rebuild(ctx, rep); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("rebuild queue: %v", err))
	}

	err = r.Events.Append(ctx, nil, "queue.submitted", "queue", rep, rep, events.EventPayload{
		"acked":     res.Acked,
		"processed": res.Processed,
		"errors":    len(res.Errors),
	})
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("audit event: %v", err))
	}
	return res, nil
}

// apply validates and applies one buffered action inside a transaction.
// Re-applying a captured action is a no-op beyond the first application.
func (r *Reconciler) apply(ctx context.Context, rep string, a domain.ReminderAction) error {
	if a.ReminderID == "" {
		return errors.New("missing reminder id")
	}
	now := r.now()
	nowStr := now.Format(time.RFC3339)

	var until string
	switch a.Action {
	case queue.ActionConfirm:
	case queue.ActionSnooze1d:
		until = nextMorning(now).Format(time.RFC3339)
	case queue.ActionSnoozeTil:
		var err error
		until, err = parseSnoozeUntil(a.SnoozeUntil, r.Location)
		if err != nil {
			return err
		}
	case queue.ActionCancel:
		if a.Note == "" {
			return errors.New("cancel requires a note")
		}
	default:
		return fmt.Errorf("unknown action %q", a.Action)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	switch a.Action {
	case queue.ActionConfirm:
		if err := r.Repo.ConfirmReminder(ctx, tx, a.ReminderID, rep, nowStr); err != nil {
			return err
		}
		err = r.Repo.AppendAckLog(ctx, tx, domain.AckLogEntry{
			Timestamp: nowStr,
			LogDate:   now.Format("2006-01-02"),
			CaseID:    a.CaseID,
			Rep:       rep,
			Status:    "Confirmed",
			Note:      a.Note,
			Customer:  a.Customer,
		})
		if err != nil {
			return err
		}
	case queue.ActionSnooze1d, queue.ActionSnoozeTil:
		if err := r.Repo.SnoozeReminder(ctx, tx, a.ReminderID, until, rep, nowStr); err != nil {
			return err
		}
	case queue.ActionCancel:
		if err := r.Repo.CancelReminder(ctx, tx, a.ReminderID, a.Note, rep, nowStr); err != nil {
			return err
		}
	}

	evt := map[string]string{
		queue.ActionConfirm:   "reminder.confirmed",
		queue.ActionSnooze1d:  "reminder.snoozed",
		queue.ActionSnoozeTil: "reminder.snoozed",
		queue.ActionCancel:    "reminder.cancelled",
	}[a.Action]
	err = r.Events.Append(ctx, tx, evt, "reminder", a.ReminderID, rep, events.EventPayload{
		"case_id":      a.CaseID,
		"action":       a.Action,
		"snooze_until": until,
	})
	if err != nil {
		return err
	}
	return tx.Commit()
}

// rebuild regenerates the rep's live queue from the frozen snapshot plus
// currently due reminders, so the user sees a current view immediately.
func (r *Reconciler) rebuild(ctx context.Context, rep string) error {
	frozen, err := r.Snapshot.ReadToday()
	if err != nil {
		return err
	}
	if err := r.Builder.Build(rep, frozen); err != nil {
		return err
	}
	due, err := r.Repo.DueReminders(ctx, rep, r.now().Format(time.RFC3339))
	if err != nil {
		return err
	}
	names := map[string]string{}
	for _, row := range frozen {
		names[row.CaseID] = row.Customer
	}
	return r.Builder.InjectReminders(rep, due, names)
}

// nextMorning is the "Snooze 1 Day" target: 09:30 local on the next day.
func nextMorning(now time.Time) time.Time {
	d := now.AddDate(0, 0, 1)
	return time.Date(d.Year(), d.Month(), d.Day(), 9, 30, 0, 0, now.Location())
}

var snoozeFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseSnoozeUntil(v string, loc *time.Location) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", errors.New("snooze requires a Snooze Until timestamp")
	}
	for _, f := range snoozeFormats {
		if t, err := time.ParseInLocation(f, v, loc); err == nil {
			return t.Format(time.RFC3339), nil
		}
	}
	return "", fmt.Errorf("unparseable snooze until %q", v)
}
