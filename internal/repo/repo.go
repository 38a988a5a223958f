package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"rollcall/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const reminderCols = `id,case_id,rep,type,status,
COALESCE(next_due_at,''),COALESCE(snooze_until,''),COALESCE(confirmed_at,''),COALESCE(confirmed_by,''),
COALESCE(cancel_reason,''),COALESCE(last_action,''),COALESCE(last_action_by,''),created_at,updated_at`

func scanReminder(scan func(dest ...any) error) (domain.Reminder, error) {
	var r domain.Reminder
	err := scan(&r.ID, &r.CaseID, &r.Rep, &r.Type, &r.Status,
		&r.NextDueAt, &r.SnoozeUntil, &r.ConfirmedAt, &r.ConfirmedBy,
		&r.CancelReason, &r.LastAction, &r.LastActionBy, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	return r, err
}

func (r Repo) InsertReminder(ctx context.Context, rem domain.Reminder) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO reminders(id,case_id,rep,type,status,next_due_at,snooze_until,confirmed_at,confirmed_by,cancel_reason,last_action,last_action_by,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rem.ID, rem.CaseID, rem.Rep, rem.Type, rem.Status,
		nullable(rem.NextDueAt), nullable(rem.SnoozeUntil), nullable(rem.ConfirmedAt), nullable(rem.ConfirmedBy),
		nullable(rem.CancelReason), nullable(rem.LastAction), nullable(rem.LastActionBy), rem.CreatedAt, rem.UpdatedAt)
	return err
}

func (r Repo) GetReminder(ctx context.Context, id string) (domain.Reminder, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+reminderCols+` FROM reminders WHERE id=?`, id)
	return scanReminder(row.Scan)
}

// DueReminders returns the non-terminal reminders for a rep whose next due
// time is at or before the cutoff (or has never been set).
func (r Repo) DueReminders(ctx context.Context, rep, cutoff string) ([]domain.Reminder, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+reminderCols+` FROM reminders
WHERE rep=? AND status IN ('PENDING','SNOOZED') AND (next_due_at IS NULL OR next_due_at<=?)
ORDER BY type, case_id, id`, rep, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rem)
	}
	return out, rows.Err()
}

type ReminderFilters struct {
	Rep    string
	CaseID string
	Status string
	Limit  int
}

func (r Repo) ListReminders(ctx context.Context, f ReminderFilters) ([]domain.Reminder, error) {
	var clauses []string
	var args []any
	if f.Rep != "" {
		clauses = append(clauses, "rep=?")
		args = append(args, f.Rep)
	}
	if f.CaseID != "" {
		clauses = append(clauses, "case_id=?")
		args = append(args, f.CaseID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + reminderCols + ` FROM reminders ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rem)
	}
	return out, rows.Err()
}

// ConfirmReminder marks a reminder done. Re-applying to an already
// confirmed reminder is a no-op.
func (r Repo) ConfirmReminder(ctx context.Context, tx *sql.Tx, id, actor, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE reminders SET status='CONFIRMED', confirmed_at=?, confirmed_by=?,
snooze_until=NULL, next_due_at=NULL, last_action='CONFIRM', last_action_by=?, updated_at=?
WHERE id=? AND status != 'CONFIRMED'`, now, actor, actor, now, id)
	if err != nil {
		return err
	}
	return requireExists(ctx, tx, res, id)
}

// SnoozeReminder reschedules a reminder. Applying the same snooze target
// twice leaves the row unchanged.
func (r Repo) SnoozeReminder(ctx context.Context, tx *sql.Tx, id, until, actor, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE reminders SET status='SNOOZED', snooze_until=?, next_due_at=?,
cancel_reason=NULL, last_action='SNOOZE', last_action_by=?, updated_at=?
WHERE id=? AND NOT (status='SNOOZED' AND snooze_until=?)`, until, until, actor, now, id, until)
	if err != nil {
		return err
	}
	return requireExists(ctx, tx, res, id)
}

// CancelReminder marks a reminder cancelled with a reason.
func (r Repo) CancelReminder(ctx context.Context, tx *sql.Tx, id, reason, actor, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE reminders SET status='CANCELLED', cancel_reason=?,
last_action='CANCEL', last_action_by=?, updated_at=?
WHERE id=? AND status != 'CANCELLED'`, reason, actor, now, id)
	if err != nil {
		return err
	}
	return requireExists(ctx, tx, res, id)
}

// requireExists distinguishes "idempotent no-op" from "stale reference":
// when zero rows changed, the reminder must still exist.
func requireExists(ctx context.Context, tx *sql.Tx, res sql.Result, id string) error {
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM reminders WHERE id=?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("reminder %s: %w", id, ErrNotFound)
	}
	return err
}

func (r Repo) AppendAckLog(ctx context.Context, tx *sql.Tx, e domain.AckLogEntry) error {
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return r.DB.ExecContext(ctx, query, args...)
	}
	_, err := exec(`INSERT INTO ack_log(ts,log_date,case_id,rep,status,note,customer) VALUES (?,?,?,?,?,?,?)`,
		e.Timestamp, e.LogDate, e.CaseID, e.Rep, e.Status, nullable(e.Note), nullable(e.Customer))
	return err
}

// AckedCasesOn returns the distinct case ids a rep acknowledged on a date.
func (r Repo) AckedCasesOn(ctx context.Context, rep, logDate string) (map[string]bool, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT case_id FROM ack_log WHERE rep=? AND log_date=?`, rep, logDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// LatestEvents returns recent audit events, newest first.
func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
