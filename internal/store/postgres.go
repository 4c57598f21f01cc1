package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mark3748/servicedesk/internal/sla"
	"github.com/mark3748/servicedesk/internal/ticket"
)

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type Postgres struct {
	db DB
}

func NewPostgres(db DB) *Postgres { return &Postgres{db: db} }

const ticketCols = `id::text, title, priority, category, location, status, tags, created_at, updated_at,
	first_response_at, sla_response_due, sla_due_date, sla_response_breached, sla_breached,
	sla_paused_at, sla_paused_duration_minutes, coalesce(resolution,''), resolved_at, closed_at,
	resolution_pending_confirmation_at, user_confirmed_resolution, user_confirmed_at,
	reopened_count, is_archived, archived_at`

func scanTicket(row pgx.Row) (ticket.Ticket, error) {
	var t ticket.Ticket
	var priority, status string
	err := row.Scan(&t.ID, &t.Title, &priority, &t.Category, &t.Location, &status, &t.Tags,
		&t.CreatedAt, &t.UpdatedAt, &t.FirstResponseAt, &t.SLAResponseDue, &t.SLADueDate,
		&t.SLAResponseBreached, &t.SLABreached, &t.SLAPausedAt, &t.SLAPausedDurationMinutes,
		&t.Resolution, &t.ResolvedAt, &t.ClosedAt, &t.ResolutionPendingConfirmationAt,
		&t.UserConfirmedResolution, &t.UserConfirmedAt, &t.ReopenedCount, &t.IsArchived, &t.ArchivedAt)
	t.Priority = ticket.Priority(priority)
	t.Status = ticket.Status(status)
	return t, err
}

func (s *Postgres) queryTickets(ctx context.Context, sql string, args ...interface{}) ([]ticket.Ticket, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ticket.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Postgres) CreateTicket(ctx context.Context, t ticket.Ticket) error {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := s.db.Exec(ctx, `insert into tickets (id, title, priority, category, location, status, tags,
		created_at, updated_at, sla_response_due, sla_due_date)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		t.ID, t.Title, string(t.Priority), t.Category, t.Location, string(t.Status), tags,
		t.CreatedAt, t.UpdatedAt, t.SLAResponseDue, t.SLADueDate)
	return err
}

func (s *Postgres) FindTicketByID(ctx context.Context, id string) (ticket.Ticket, error) {
	t, err := scanTicket(s.db.QueryRow(ctx, "select "+ticketCols+" from tickets where id=$1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ticket.Ticket{}, ErrNotFound
	}
	return t, err
}

func statusStrings(in []ticket.Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

const pastThresholdSQL = `select ` + ticketCols + ` from tickets
	where status = any($1)
	  and sla_due_date is not null
	  and sla_paused_at is null
	  and sla_due_date > created_at
	  and extract(epoch from ($2::timestamptz - created_at)) * 100 >= $3 * extract(epoch from (sla_due_date - created_at))
	order by sla_due_date`

func (s *Postgres) FindActiveTicketsPastThreshold(ctx context.Context, thresholdPercent int, statuses []ticket.Status, now time.Time) ([]ticket.Ticket, error) {
	return s.queryTickets(ctx, pastThresholdSQL, statusStrings(statuses), now, thresholdPercent)
}

const resolvedPastSQL = `select ` + ticketCols + ` from tickets
	where status = 'Resolved'
	  and resolved_at is not null
	  and closed_at is null
	  and not ($2 = any(tags))
	  and resolved_at <= $1
	order by resolved_at`

func (s *Postgres) FindResolvedPastBusinessDays(ctx context.Context, days int, now time.Time) ([]ticket.Ticket, error) {
	return s.queryTickets(ctx, resolvedPastSQL, now.AddDate(0, 0, -days), ticket.TagNoAutoClose)
}

const pendingPastSQL = `select ` + ticketCols + ` from tickets
	where status = 'Resolved'
	  and resolution_pending_confirmation_at is not null
	  and resolution_pending_confirmation_at <= $1
	order by resolution_pending_confirmation_at`

func (s *Postgres) FindPendingConfirmationPastDays(ctx context.Context, days int, now time.Time) ([]ticket.Ticket, error) {
	return s.queryTickets(ctx, pendingPastSQL, now.Add(-time.Duration(days)*24*time.Hour))
}

// updateSQL builds a conditional update from the patch columns in a stable
// order. Args start with id and, when set, the expected status.
func updateSQL(id string, expected ticket.Status, p ticket.Patch) (string, []interface{}) {
	fields := p.Fields()
	cols := make([]string, 0, len(fields))
	for c := range fields {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	args := []interface{}{id}
	where := "id=$1"
	if expected != "" {
		args = append(args, string(expected))
		where += " and status=$2"
	}
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		args = append(args, fields[c])
		sets = append(sets, fmt.Sprintf("%s=$%d", c, len(args)))
	}
	return "update tickets set " + strings.Join(sets, ", ") + " where " + where, args
}

func (s *Postgres) UpdateTicket(ctx context.Context, id string, expected ticket.Status, p ticket.Patch) error {
	if p.IsEmpty() {
		return nil
	}
	sql, args := updateSQL(id, expected, p)
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var cur string
	if err := s.db.QueryRow(ctx, "select status from tickets where id=$1", id).Scan(&cur); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return fmt.Errorf("%w: ticket %s is %s, expected %s", ErrStaleTransition, id, cur, expected)
}

func (s *Postgres) InsertEscalation(ctx context.Context, e ticket.Escalation) error {
	_, err := s.db.Exec(ctx, `insert into escalations (id, ticket_id, reason, severity, escalated_by, escalated_at)
		values ($1,$2,$3,$4,$5,$6)`, e.ID, e.TicketID, e.Reason, string(e.Severity), e.EscalatedBy, e.EscalatedAt)
	return err
}

func (s *Postgres) HasExistingSlaEscalation(ctx context.Context, ticketID string) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `select exists(select 1 from escalations where ticket_id=$1 and reason like $2)`,
		ticketID, ticket.SLAReasonPrefix+"%").Scan(&ok)
	return ok, err
}

func (s *Postgres) ListEscalations(ctx context.Context, ticketID string) ([]ticket.Escalation, error) {
	rows, err := s.db.Query(ctx, `select id::text, ticket_id::text, reason, severity, escalated_by, escalated_at
		from escalations where ticket_id=$1 order by escalated_at`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ticket.Escalation{}
	for rows.Next() {
		var e ticket.Escalation
		var sev string
		if err := rows.Scan(&e.ID, &e.TicketID, &e.Reason, &sev, &e.EscalatedBy, &e.EscalatedAt); err != nil {
			return nil, err
		}
		e.Severity = ticket.Severity(sev)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Postgres) InsertStatusHistory(ctx context.Context, h ticket.StatusHistory) error {
	var old *string
	if h.OldStatus != "" {
		o := string(h.OldStatus)
		old = &o
	}
	_, err := s.db.Exec(ctx, `insert into ticket_status_history (id, ticket_id, old_status, new_status, changed_by, reason, changed_at)
		values ($1,$2,$3,$4,$5,$6,$7)`, h.ID, h.TicketID, old, string(h.NewStatus), h.ChangedBy, h.Reason, h.ChangedAt)
	return err
}

func (s *Postgres) ListStatusHistory(ctx context.Context, ticketID string) ([]ticket.StatusHistory, error) {
	rows, err := s.db.Query(ctx, `select id::text, ticket_id::text, coalesce(old_status,''), new_status, changed_by, coalesce(reason,''), changed_at
		from ticket_status_history where ticket_id=$1 order by changed_at, id`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ticket.StatusHistory{}
	for rows.Next() {
		var h ticket.StatusHistory
		var old, nw string
		if err := rows.Scan(&h.ID, &h.TicketID, &old, &nw, &h.ChangedBy, &h.Reason, &h.ChangedAt); err != nil {
			return nil, err
		}
		h.OldStatus, h.NewStatus = ticket.Status(old), ticket.Status(nw)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Postgres) InsertAuditLog(ctx context.Context, e AuditEntry) error {
	var prevHash *string
	err := s.db.QueryRow(ctx, "select hash from audit_events order by id desc limit 1").Scan(&prevHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	diff := diffJSON(e.Diff)
	hash := chainHash(diff, prevHash)
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err = s.db.Exec(ctx, `insert into audit_events (actor_type, actor_id, entity_type, entity_id, action, diff_json, hash, prev_hash, at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ActorType, e.ActorID, e.EntityType, e.EntityID, e.Action, json.RawMessage(diff), hash, prevHash, at)
	return err
}

const ruleCols = `id::text, priority, category, response_time_hours, resolution_time_hours,
	escalation_threshold_percent, is_active, created_at, updated_at`

func (s *Postgres) queryRules(ctx context.Context, sql string, args ...interface{}) ([]sla.Rule, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []sla.Rule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRule(row pgx.Row) (sla.Rule, error) {
	var r sla.Rule
	var priority string
	err := row.Scan(&r.ID, &priority, &r.Category, &r.ResponseTimeHours, &r.ResolutionTimeHours,
		&r.EscalationThresholdPercent, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
	r.Priority = ticket.Priority(priority)
	return r, err
}

func (s *Postgres) ActiveRules(ctx context.Context, p ticket.Priority) ([]sla.Rule, error) {
	return s.queryRules(ctx, "select "+ruleCols+" from sla_rules where priority=$1 and is_active order by category nulls last", string(p))
}

func (s *Postgres) ListRules(ctx context.Context) ([]sla.Rule, error) {
	return s.queryRules(ctx, "select "+ruleCols+" from sla_rules order by priority, category nulls first")
}

// UpsertRule inserts r or replaces the rule with the same priority and
// category.
func (s *Postgres) UpsertRule(ctx context.Context, r sla.Rule) (sla.Rule, error) {
	if err := r.Validate(); err != nil {
		return sla.Rule{}, err
	}
	if r.EscalationThresholdPercent == 0 {
		r.EscalationThresholdPercent = sla.DefaultThresholdPercent
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	} else {
		var cur sla.Rule
		var priority string
		err := s.db.QueryRow(ctx, "select priority, category from sla_rules where id=$1", r.ID).Scan(&priority, &cur.Category)
		cur.Priority = ticket.Priority(priority)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return sla.Rule{}, err
		case !cur.SameKey(r):
			return sla.Rule{}, fmt.Errorf("%w: rule %s belongs to %s", sla.ErrInvalidRule, r.ID, cur.Key())
		}
	}
	return scanRule(s.db.QueryRow(ctx, `insert into sla_rules (id, priority, category, response_time_hours,
		resolution_time_hours, escalation_threshold_percent, is_active)
		values ($1,$2,$3,$4,$5,$6,$7)
		on conflict (priority, (lower(coalesce(category, 'GLOBAL')))) do update set
			response_time_hours=excluded.response_time_hours,
			resolution_time_hours=excluded.resolution_time_hours,
			escalation_threshold_percent=excluded.escalation_threshold_percent,
			is_active=excluded.is_active,
			updated_at=now()
		returning `+ruleCols,
		r.ID, string(r.Priority), r.Category, r.ResponseTimeHours, r.ResolutionTimeHours,
		r.EscalationThresholdPercent, r.IsActive))
}

func (s *Postgres) DeleteRule(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, "delete from sla_rules where id=$1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
