package domain

// Role of a rep on a case.
type Role string

const (
	RoleAssigned Role = "Assigned"
	RoleAssisted Role = "Assisted"
)

// MustAck narrows which roles within a case's duty set owe an acknowledgement.
type MustAck string

const (
	MustAckAllOnDuty    MustAck = "ALL_ON_DUTY"
	MustAckAssignedOnly MustAck = "ASSIGNED_ONLY"
	MustAckAssistedOnly MustAck = "ASSISTED_ONLY"
)

// Case is a unit of business work requiring a daily acknowledgement.
// Attributes carries the classification columns (Sales Stage etc.) by
// canonical header label; the intake process owns the values.
type Case struct {
	ID         string            `json:"id"`
	Customer   string            `json:"customer"`
	Attributes map[string]string `json:"attributes"`
}

// Policy is one ordered classification rule. Priorities total-order the
// list; the first match wins.
type Policy struct {
	Priority         int      `json:"priority"`
	Group            string   `json:"group"`
	MatchColumn      string   `json:"match_column"`
	MatchValues      []string `json:"match_values"`
	MustAck          MustAck  `json:"must_ack"`
	QueueInclude     bool     `json:"queue_include"`
	SnapshotInclude  bool     `json:"snapshot_include"`
	AckCadence       string   `json:"ack_cadence"`
	AssistedCoverage bool     `json:"assisted_coverage"`
}

// ScheduleEntry is one roster row: a 7-day on-duty vector plus optional
// assisted-coverage pairing.
type ScheduleEntry struct {
	Rep             string  `json:"rep"`
	OnDuty          [7]bool `json:"on_duty"` // indexed by time.Weekday (Sunday=0)
	CoverageEnabled bool    `json:"coverage_enabled"`
	CoveragePartner string  `json:"coverage_partner,omitempty"`
}

// RawAssignment is one case→rep→role row from the assignment table.
type RawAssignment struct {
	CaseID  string `json:"case_id"`
	Rep     string `json:"rep"`
	Role    Role   `json:"role"`
	Include bool   `json:"include"`
}

// AssignedGap records a case whose assigned reps are all off duty with no
// fallback for the Assigned role. Informational, not an error.
type AssignedGap struct {
	CaseID   string   `json:"case_id"`
	Assigned []string `json:"assigned"` // sorted
}

// AssistedGap records an assisted rep and coverage partner both off duty.
type AssistedGap struct {
	CaseID string `json:"case_id"`
	Pair   string `json:"pair"` // "rep & partner"
}

// SnapshotRow is one frozen (case, rep, role) for a calendar date, enriched
// with the case metadata captured at classify time.
type SnapshotRow struct {
	SnapshotDate string `json:"snapshot_date"`
	CapturedAt   string `json:"captured_at"`
	CaseID       string `json:"case_id"`
	Rep          string `json:"rep"`
	Role         Role   `json:"role"`
	ScopeGroup   string `json:"scope_group"`
	Customer     string `json:"customer"`
	SalesStage   string `json:"sales_stage"`
	Conversion   string `json:"conversion_status"`
	OrderStatus  string `json:"order_status"`
	UpdatedBy    string `json:"updated_by"`
	UpdatedAt    string `json:"updated_at"`
	DaysStale    string `json:"days_since_last_update"`
}

// Reminder is a durable reminder queue entry.
type Reminder struct {
	ID           string `json:"id"`
	CaseID       string `json:"case_id"`
	Rep          string `json:"rep"`
	Type         string `json:"type"`
	Status       string `json:"status" enum:"PENDING,CONFIRMED,SNOOZED,CANCELLED"`
	NextDueAt    string `json:"next_due_at,omitempty" format:"date-time"`
	SnoozeUntil  string `json:"snooze_until,omitempty" format:"date-time"`
	ConfirmedAt  string `json:"confirmed_at,omitempty" format:"date-time"`
	ConfirmedBy  string `json:"confirmed_by,omitempty"`
	CancelReason string `json:"cancel_reason,omitempty"`
	LastAction   string `json:"last_action,omitempty"`
	LastActionBy string `json:"last_action_by,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

// ReminderAction is a user intent captured from a live queue row before the
// legacy submit clears it. Consumed exactly once by the reconciler.
type ReminderAction struct {
	RowIndex    int    `json:"row_index"`
	ReminderID  string `json:"reminder_id"`
	Action      string `json:"action"` // Confirm | Snooze 1 Day | Snooze… | Cancel
	Note        string `json:"note,omitempty"`
	SnoozeUntil string `json:"snooze_until,omitempty"`
	CaseID      string `json:"case_id,omitempty"`
	Customer    string `json:"customer,omitempty"`
}

// AckLogEntry is one row of the append-only acknowledgement log.
type AckLogEntry struct {
	ID        int64  `json:"id"`
	Timestamp string `json:"ts" format:"date-time"`
	LogDate   string `json:"log_date"`
	CaseID    string `json:"case_id"`
	Rep       string `json:"rep"`
	Status    string `json:"status"`
	Note      string `json:"note,omitempty"`
	Customer  string `json:"customer,omitempty"`
}

// Event is one append-only audit event.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
