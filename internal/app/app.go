package app

import (
	"database/sql"
	"fmt"
	"time"

	"rollcall/internal/config"
	"rollcall/internal/db"
	"rollcall/internal/domain"
	"rollcall/internal/events"
	"rollcall/internal/locks"
	"rollcall/internal/migrate"
	"rollcall/internal/policy"
	"rollcall/internal/queue"
	"rollcall/internal/reconcile"
	"rollcall/internal/repo"
	"rollcall/internal/schedule"
	"rollcall/internal/snapshot"
	"rollcall/internal/tabular"
)

// App wires one run's components: config, workbook, store, and the
// engines built on them. Construct once per invocation and share.
type App struct {
	Config   *config.Config
	WB       *tabular.Workbook
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Locks    *locks.Manager
	Snapshot *snapshot.Engine
	Builder  *queue.Builder
	Legacy   *queue.LegacySubmit
	Location *time.Location
	Now      func() time.Time
}

// Open builds an App for a workspace directory.
func Open(workspace string) (*App, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	wb, err := tabular.Ensure(cfg.Workbook)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}

	sqlDB, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	a := &App{
		Config:   cfg,
		WB:       wb,
		DB:       sqlDB,
		Repo:     repo.Repo{DB: sqlDB},
		Location: loc,
		Now:      time.Now,
	}
	a.Events = events.Writer{DB: sqlDB, Now: func() time.Time { return a.Now() }}
	a.Locks = &locks.Manager{
		DB:   sqlDB,
		Now:  func() time.Time { return a.Now() },
		Wait: cfg.LockWait(),
		TTL:  cfg.LockTTL(),
	}
	a.Snapshot = &snapshot.Engine{
		WB:        wb,
		Canonical: cfg.Tables.Snapshot,
		Log:       cfg.Tables.SnapshotLog,
		Now:       func() time.Time { return a.Now() },
		Location:  loc,
	}
	a.Legacy = &queue.LegacySubmit{Repo: a.Repo, Now: func() time.Time { return a.Now() }}
	return a, nil
}

// Close releases the store handle.
func (a *App) Close() error {
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}

// NowLocal is the current time in the run's timezone.
func (a *App) NowLocal() time.Time { return a.Now().In(a.Location) }

// Today is the run's calendar date key.
func (a *App) Today() string { return a.NowLocal().Format("2006-01-02") }

// Policies loads the policy table and builds the classification engine,
// layering config aliases over the built-in table.
func (a *App) Policies() (*policy.Engine, error) {
	s, err := a.WB.Table(a.Config.Tables.Policies)
	if err != nil {
		return nil, err
	}
	return policy.Load(s, a.Config.Aliases)
}

// Roster loads the duty schedule table.
func (a *App) Roster() (*schedule.Roster, error) {
	s, err := a.WB.Table(a.Config.Tables.Schedule)
	if err != nil {
		return nil, err
	}
	return schedule.Load(s)
}

// Assignments loads the raw case→rep assignment table.
func (a *App) Assignments() ([]domain.RawAssignment, error) {
	s, err := a.WB.Table(a.Config.Tables.Assignments)
	if err != nil {
		return nil, err
	}
	return schedule.LoadAssignments(s), nil
}

// QueueBuilder returns a queue builder bound to a loaded policy engine.
func (a *App) QueueBuilder(pol *policy.Engine) *queue.Builder {
	return &queue.Builder{WB: a.WB, Prefix: a.Config.Tables.QueuePrefix, Policy: pol}
}

// Reconciler returns a submission reconciler bound to a loaded policy
// engine.
func (a *App) Reconciler(pol *policy.Engine) *reconcile.Reconciler {
	return &reconcile.Reconciler{
		WB:       a.WB,
		DB:       a.DB,
		Repo:     a.Repo,
		Events:   a.Events,
		Locks:    a.Locks,
		Builder:  a.QueueBuilder(pol),
		Legacy:   a.Legacy,
		Snapshot: a.Snapshot,
		Now:      a.Now,
		Location: a.Location,
	}
}

// Resolution is the day's classification and duty answer, shared by the
// orchestrator and the read-only commands.
type Resolution struct {
	Policy *policy.Engine
	Roster *schedule.Roster
	Cls    policy.Classification
	Duty   *schedule.DutySet
}

// ResolveToday runs the classify → resolve → must-ack pipeline against the
// current workbook state.
func (a *App) ResolveToday() (*Resolution, error) {
	pol, err := a.Policies()
	if err != nil {
		return nil, err
	}
	idx, err := a.WB.Table(a.Config.Tables.CaseIndex)
	if err != nil {
		return nil, err
	}
	cls := pol.ClassifyAll(idx.Records())

	roster, err := a.Roster()
	if err != nil {
		return nil, err
	}
	assignments, err := a.Assignments()
	if err != nil {
		return nil, err
	}

	duty := schedule.Resolve(cls.InScope, assignments, roster, a.NowLocal())
	duty = schedule.ApplyMustAck(duty, cls.GroupByCase, pol.MustAckFor)
	return &Resolution{Policy: pol, Roster: roster, Cls: cls, Duty: duty}, nil
}
