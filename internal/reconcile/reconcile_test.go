package reconcile_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"rollcall/internal/db"
	"rollcall/internal/domain"
	"rollcall/internal/events"
	"rollcall/internal/locks"
	"rollcall/internal/migrate"
	"rollcall/internal/policy"
	"rollcall/internal/queue"
	"rollcall/internal/reconcile"
	"rollcall/internal/repo"
	"rollcall/internal/snapshot"
	"rollcall/internal/tabular"
)

type testEnv struct {
	Rec  *reconcile.Reconciler
	Repo repo.Repo
	WB   *tabular.Workbook
	Ctx  context.Context
	Now  time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	wb, err := tabular.Ensure(t.TempDir())
	if err != nil {
		t.Fatalf("workbook: %v", err)
	}

	now := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	nowFn := func() time.Time { return now }
	r := repo.Repo{DB: conn}

	ps, err := wb.EnsureTable("12_Ack_Policies")
	if err != nil {
		t.Fatalf("policies: %v", err)
	}
	ps.Overwrite([]string{
		"Enabled", "Priority", "Group Name", "Match Column",
		"Match Values (comma-sep)", "MustAck", "QueueInclude",
		"SnapshotInclude", "AckCadence", "Coverage Assisted Pairing",
	}, [][]string{
		{"Y", "1", "HotLead", "Sales Stage", "hot lead", "", "Y", "Y", "", "N"},
	})
	pol, err := policy.Load(ps, nil)
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}

	snap := &snapshot.Engine{
		WB:        wb,
		Canonical: "13_Morning_Snapshot",
		Log:       "14_Snapshot_Log",
		Now:       nowFn,
		Location:  time.UTC,
	}
	env := &testEnv{
		Repo: r,
		WB:   wb,
		Ctx:  context.Background(),
		Now:  now,
	}
	env.Rec = &reconcile.Reconciler{
		WB:     wb,
		DB:     conn,
		Repo:   r,
		Events: events.Writer{DB: conn, Now: nowFn},
		Locks: &locks.Manager{
			DB: conn, Now: nowFn, Wait: 0, TTL: time.Minute, Poll: time.Millisecond,
		},
		Builder:  &queue.Builder{WB: wb, Prefix: "Q_", Policy: pol},
		Legacy:   &queue.LegacySubmit{Repo: r, Now: nowFn},
		Snapshot: snap,
		Now:      nowFn,
		Location: time.UTC,
	}
	return env
}

func (env *testEnv) seedReminder(t *testing.T, id, caseID string) {
	t.Helper()
	now := env.Now.Format(time.RFC3339)
	err := env.Repo.InsertReminder(env.Ctx, domain.Reminder{
		ID: id, CaseID: caseID, Rep: "ann", Type: "Follow-up",
		Status: "PENDING", CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed reminder %s: %v", id, err)
	}
}

func (env *testEnv) seedQueue(t *testing.T, rows [][]string) {
	t.Helper()
	s, err := env.WB.EnsureTable("Q_ann")
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	s.Overwrite(queue.Header, rows)
	if err := s.Save(); err != nil {
		t.Fatalf("save queue: %v", err)
	}
}

func TestSubmitAppliesBufferedActionsAfterLegacyClear(t *testing.T) {
	env := newTestEnv(t)
	env.seedReminder(t, "r1", "C1")
	env.seedReminder(t, "r2", "C2")
	env.seedQueue(t, [][]string{
		{"— HotLead — (2)", "", "", "", "", "", "", "", "", ""},
		{"C1", "Ada", "HotLead", "", "1", "", "", "r1", "Confirm", ""},
		{"C2", "Bob", "HotLead", "", "1", "", "", "r2", "Snooze 1 Day", ""},
	})

	res, err := env.Rec.Submit(env.Ctx, "ann")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Processed != 2 || len(res.Errors) != 0 {
		t.Fatalf("processed=%d errors=%v, want 2 and none", res.Processed, res.Errors)
	}

	r1, err := env.Repo.GetReminder(env.Ctx, "r1")
	if err != nil || r1.Status != "CONFIRMED" {
		t.Fatalf("r1 = %+v (%v), want CONFIRMED", r1, err)
	}
	r2, err := env.Repo.GetReminder(env.Ctx, "r2")
	if err != nil || r2.Status != "SNOOZED" {
		t.Fatalf("r2 = %+v (%v), want SNOOZED", r2, err)
	}
	// Snooze 1 Day lands at 09:30 local the next day.
	if r2.SnoozeUntil != "2026-03-03T09:30:00Z" {
		t.Fatalf("snooze_until = %q", r2.SnoozeUntil)
	}
}

func TestSubmitReportsPerActionErrors(t *testing.T) {
	env := newTestEnv(t)
	env.seedReminder(t, "r1", "C1")
	env.seedQueue(t, [][]string{
		{"C1", "Ada", "HotLead", "", "1", "", "", "r1", "Confirm", ""},
		{"C2", "Bob", "HotLead", "", "1", "", "no note cancel", "r-gone", "Confirm", ""},
		{"C3", "Cyd", "HotLead", "", "1", "", "", "r1", "Cancel", ""},
	})

	res, err := env.Rec.Submit(env.Ctx, "ann")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	// r1 confirms; r-gone is a stale reference; the cancel lacks a note.
	if res.Processed != 1 {
		t.Fatalf("processed = %d, want 1 (%v)", res.Processed, res.Errors)
	}
	if len(res.Errors) != 2 {
		t.Fatalf("errors = %v, want 2", res.Errors)
	}
}

func TestSubmitIdempotentReapply(t *testing.T) {
	env := newTestEnv(t)
	env.seedReminder(t, "r1", "C1")
	rows := [][]string{
		{"C1", "Ada", "HotLead", "", "1", "", "", "r1", "Confirm", ""},
	}
	env.seedQueue(t, rows)
	if _, err := env.Rec.Submit(env.Ctx, "ann"); err != nil {
		t.Fatalf("submit 1: %v", err)
	}

	// The same captured action applied again must not error and must not
	// change the outcome.
	env.seedQueue(t, rows)
	res, err := env.Rec.Submit(env.Ctx, "ann")
	if err != nil {
		t.Fatalf("submit 2: %v", err)
	}
	if res.Processed != 1 || len(res.Errors) != 0 {
		t.Fatalf("reapply: processed=%d errors=%v", res.Processed, res.Errors)
	}
	r1, err := env.Repo.GetReminder(env.Ctx, "r1")
	if err != nil || r1.Status != "CONFIRMED" {
		t.Fatalf("r1 = %+v (%v)", r1, err)
	}
}

func TestSubmitLegacyAckColumnFeedsLog(t *testing.T) {
	env := newTestEnv(t)
	env.seedQueue(t, [][]string{
		{"C1", "Ada", "HotLead", "", "1", "Y", "", "", "", ""},
	})
	res, err := env.Rec.Submit(env.Ctx, "ann")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Acked != 1 {
		t.Fatalf("acked = %d, want 1", res.Acked)
	}
	acked, err := env.Repo.AckedCasesOn(env.Ctx, "ann", "2026-03-02")
	if err != nil || !acked["C1"] {
		t.Fatalf("ack log: %v (%v)", acked, err)
	}
}

func TestSubmitSnoozeUntilRequiresTimestamp(t *testing.T) {
	env := newTestEnv(t)
	env.seedReminder(t, "r1", "C1")
	env.seedReminder(t, "r2", "C2")
	env.seedQueue(t, [][]string{
		{"C1", "Ada", "HotLead", "", "1", "", "", "r1", "Snooze", ""},
		{"C2", "Bob", "HotLead", "", "1", "", "", "r2", "Snooze", "2026-03-05 08:00"},
	})
	res, err := env.Rec.Submit(env.Ctx, "ann")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Processed != 1 || len(res.Errors) != 1 {
		t.Fatalf("processed=%d errors=%v", res.Processed, res.Errors)
	}
	r2, err := env.Repo.GetReminder(env.Ctx, "r2")
	if err != nil || r2.Status != "SNOOZED" || r2.SnoozeUntil != "2026-03-05T08:00:00Z" {
		t.Fatalf("r2 = %+v (%v)", r2, err)
	}
}

func TestSubmitBlockedWhileMorningLockHeld(t *testing.T) {
	env := newTestEnv(t)
	env.seedReminder(t, "r1", "C1")
	env.seedQueue(t, [][]string{
		{"C1", "Ada", "HotLead", "", "1", "", "", "r1", "Confirm", ""},
	})

	guard, err := env.Rec.Locks.Acquire(env.Ctx, "morning", "orchestrator")
	if err != nil {
		t.Fatalf("morning lock: %v", err)
	}
	if _, err := env.Rec.Submit(env.Ctx, "ann"); !errors.Is(err, locks.ErrBusy) {
		t.Fatalf("submit during morning run = %v, want ErrBusy", err)
	}

	if err := guard.Release(env.Ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	res, err := env.Rec.Submit(env.Ctx, "ann")
	if err != nil {
		t.Fatalf("submit after release: %v", err)
	}
	if res.Processed != 1 {
		t.Fatalf("processed = %d, want 1", res.Processed)
	}
}

func TestSubmitReportsAuditWriteFailure(t *testing.T) {
	env := newTestEnv(t)
	env.seedReminder(t, "r1", "C1")
	env.seedQueue(t, [][]string{
		{"C1", "Ada", "HotLead", "", "1", "", "", "r1", "Confirm", ""},
	})

	dead, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	dead.Close()
	env.Rec.Events = events.Writer{DB: dead, Now: func() time.Time { return env.Now }}

	res, err := env.Rec.Submit(env.Ctx, "ann")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Processed != 1 {
		t.Fatalf("processed = %d, want 1", res.Processed)
	}
	found := false
	for _, e := range res.Errors {
		if strings.Contains(e, "audit event") {
			found = true
		}
	}
	if !found {
		t.Fatalf("audit failure missing from errors: %v", res.Errors)
	}
}
