package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medalert/medalert/internal/platform/db"
	"github.com/medalert/medalert/internal/platform/scheduler"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const alertCols = `id, room, type, urgency, description, patient_id, hospital_id, department_id,
	status, tier, escalation_count, responsible_role, next_deadline, created_by,
	acknowledged_by, acknowledged_at, assigned_to, resolved_by, resolved_at, resolution_notes,
	time_to_acknowledge, time_to_resolve, version, created_at, updated_at`

func scanAlert(row pgx.Row) (*Alert, error) {
	var a Alert
	err := row.Scan(&a.ID, &a.Room, &a.Type, &a.Urgency, &a.Description, &a.PatientID, &a.HospitalID, &a.DepartmentID,
		&a.Status, &a.Tier, &a.EscalationCount, &a.ResponsibleRole, &a.NextDeadline, &a.CreatedBy,
		&a.AcknowledgedBy, &a.AcknowledgedAt, &a.AssignedTo, &a.ResolvedBy, &a.ResolvedAt, &a.ResolutionNotes,
		&a.TimeToAcknowledge, &a.TimeToResolve, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &a, err
}

func (r *repoPG) Create(ctx context.Context, a *Alert, ev *TimelineEvent) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO alert (id, room, type, urgency, description, patient_id, hospital_id, department_id,
				status, tier, escalation_count, responsible_role, next_deadline, created_by,
				version, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
			a.ID, a.Room, a.Type, a.Urgency, a.Description, a.PatientID, a.HospitalID, a.DepartmentID,
			a.Status, a.Tier, a.EscalationCount, a.ResponsibleRole, a.NextDeadline, a.CreatedBy,
			a.Version, a.CreatedAt, a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert alert: %w", err)
		}
		return r.insertTimeline(ctx, ev)
	})
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Alert, error) {
	return scanAlert(r.conn(ctx).QueryRow(ctx, `SELECT `+alertCols+` FROM alert WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, a *Alert, prevVersion int64, ch Changes) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		tag, err := r.conn(ctx).Exec(ctx, `
			UPDATE alert SET status=$3, tier=$4, escalation_count=$5, responsible_role=$6,
				next_deadline=$7, acknowledged_by=$8, acknowledged_at=$9, assigned_to=$10,
				resolved_by=$11, resolved_at=$12, resolution_notes=$13,
				time_to_acknowledge=$14, time_to_resolve=$15, version=$16, updated_at=$17
			WHERE id = $1 AND version = $2`,
			a.ID, prevVersion, a.Status, a.Tier, a.EscalationCount, a.ResponsibleRole,
			a.NextDeadline, a.AcknowledgedBy, a.AcknowledgedAt, a.AssignedTo,
			a.ResolvedBy, a.ResolvedAt, a.ResolutionNotes,
			a.TimeToAcknowledge, a.TimeToResolve, a.Version, a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update alert: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return conflict("version %d is no longer current", prevVersion)
		}
		if ch.Timeline != nil {
			if err := r.insertTimeline(ctx, ch.Timeline); err != nil {
				return err
			}
		}
		if ch.Acknowledgment != nil {
			if err := r.insertAcknowledgment(ctx, ch.Acknowledgment); err != nil {
				return err
			}
		}
		if ch.Escalation != nil {
			if err := r.insertEscalation(ctx, ch.Escalation); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *repoPG) AppendAcknowledgment(ctx context.Context, ack *Acknowledgment, version int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO alert_acknowledgment (id, alert_id, user_id, assessment, action,
			estimated_response_minutes, delegate_to, notes, first, created_at)
		SELECT $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
		WHERE EXISTS (SELECT 1 FROM alert WHERE id = $2 AND version = $11)`,
		ack.ID, ack.AlertID, ack.UserID, ack.Assessment, ack.Action,
		ack.EstimatedResponseMinutes, ack.DelegateTo, ack.Notes, ack.First, ack.CreatedAt, version)
	if err != nil {
		return fmt.Errorf("insert acknowledgment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conflict("version %d is no longer current", version)
	}
	return nil
}

func (r *repoPG) insertTimeline(ctx context.Context, ev *TimelineEvent) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO alert_timeline (id, alert_id, kind, actor, from_status, to_status, metadata, version, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		ev.ID, ev.AlertID, ev.Kind, ev.Actor, ev.FromStatus, ev.ToStatus, ev.Metadata, ev.Version, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert timeline event: %w", err)
	}
	return nil
}

func (r *repoPG) insertAcknowledgment(ctx context.Context, ack *Acknowledgment) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO alert_acknowledgment (id, alert_id, user_id, assessment, action,
			estimated_response_minutes, delegate_to, notes, first, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		ack.ID, ack.AlertID, ack.UserID, ack.Assessment, ack.Action,
		ack.EstimatedResponseMinutes, ack.DelegateTo, ack.Notes, ack.First, ack.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert acknowledgment: %w", err)
	}
	return nil
}

func (r *repoPG) insertEscalation(ctx context.Context, e *Escalation) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO alert_escalation (id, alert_id, from_tier, to_tier, from_role, to_role, reason, triggered_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.AlertID, e.FromTier, e.ToTier, e.FromRole, e.ToRole, e.Reason, e.TriggeredBy, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert escalation: %w", err)
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Alert, int, error) {
	where := []string{"1=1"}
	var args []interface{}
	idx := 1

	if f.HospitalID != "" {
		where = append(where, fmt.Sprintf("hospital_id = $%d", idx))
		args = append(args, f.HospitalID)
		idx++
	}
	if f.DepartmentID != "" {
		where = append(where, fmt.Sprintf("department_id = $%d", idx))
		args = append(args, f.DepartmentID)
		idx++
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		where = append(where, fmt.Sprintf("status = ANY($%d)", idx))
		args = append(args, statuses)
		idx++
	}
	if f.MaxUrgency > 0 {
		where = append(where, fmt.Sprintf("urgency <= $%d", idx))
		args = append(args, f.MaxUrgency)
		idx++
	}
	whereSQL := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM alert WHERE `+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT `+alertCols+` FROM alert WHERE %s ORDER BY urgency ASC, created_at DESC LIMIT $%d OFFSET $%d`,
		whereSQL, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *repoPG) ListPendingDeadlines(ctx context.Context) ([]scheduler.Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, next_deadline FROM alert
		WHERE status IN ('active', 'escalated') AND next_deadline IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []scheduler.Entry
	for rows.Next() {
		var e scheduler.Entry
		if err := rows.Scan(&e.AlertID, &e.Deadline); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *repoPG) ListTimeline(ctx context.Context, alertID uuid.UUID) ([]*TimelineEvent, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, alert_id, kind, actor, from_status, to_status, metadata, version, created_at
		FROM alert_timeline WHERE alert_id = $1 ORDER BY version ASC`, alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*TimelineEvent
	for rows.Next() {
		var ev TimelineEvent
		if err := rows.Scan(&ev.ID, &ev.AlertID, &ev.Kind, &ev.Actor, &ev.FromStatus, &ev.ToStatus,
			&ev.Metadata, &ev.Version, &ev.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &ev)
	}
	return items, rows.Err()
}

func (r *repoPG) ListAcknowledgments(ctx context.Context, alertID uuid.UUID) ([]*Acknowledgment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, alert_id, user_id, assessment, action, estimated_response_minutes, delegate_to, notes, first, created_at
		FROM alert_acknowledgment WHERE alert_id = $1 ORDER BY created_at ASC`, alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Acknowledgment
	for rows.Next() {
		var a Acknowledgment
		if err := rows.Scan(&a.ID, &a.AlertID, &a.UserID, &a.Assessment, &a.Action, &a.EstimatedResponseMinutes,
			&a.DelegateTo, &a.Notes, &a.First, &a.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &a)
	}
	return items, rows.Err()
}

func (r *repoPG) ListEscalations(ctx context.Context, alertID uuid.UUID) ([]*Escalation, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, alert_id, from_tier, to_tier, from_role, to_role, reason, triggered_by, created_at
		FROM alert_escalation WHERE alert_id = $1 ORDER BY created_at ASC`, alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Escalation
	for rows.Next() {
		var e Escalation
		if err := rows.Scan(&e.ID, &e.AlertID, &e.FromTier, &e.ToTier, &e.FromRole, &e.ToRole,
			&e.Reason, &e.TriggeredBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &e)
	}
	return items, rows.Err()
}
