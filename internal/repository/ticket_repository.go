package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/orbis-track/borrow-service/internal/domain"
)

// TicketFilter captures listing parameters.
type TicketFilter struct {
	RequesterID *string
	DeviceID    *string
	Statuses    []domain.TicketStatus
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
	Offset      int
}

// TicketRepository encapsulates ticket and timeline persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	Update(ctx context.Context, ticket *domain.Ticket) error
	UpdateStep(ctx context.Context, step *domain.TimelineStep) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	// GetForUpdate loads the ticket and locks its row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id string) (*domain.Ticket, error)
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
}

type ticketRepository struct {
	db DBTX
}

const ticketColumns = `id, external_key, requester_id, device_id, status, start_at, end_at, purpose,
               usage_location, pickup_location, return_location, reject_reason, current_stage_index,
               created_at, updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (id, external_key, requester_id, device_id, status, start_at, end_at, purpose,
            usage_location, pickup_location, return_location, reject_reason, current_stage_index)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
        RETURNING created_at, updated_at`
	if err := r.db.QueryRow(ctx, query,
		ticket.ID,
		ticket.ExternalKey,
		ticket.RequesterID,
		ticket.DeviceID,
		ticket.Status,
		ticket.DateRange.Start,
		ticket.DateRange.End,
		ticket.Purpose,
		ticket.UsageLocation,
		ticket.PickupLocation,
		ticket.ReturnLocation,
		ticket.RejectReason,
		ticket.CurrentStageIndex,
	).Scan(&ticket.CreatedAt, &ticket.UpdatedAt); err != nil {
		return err
	}

	const stepQuery = `
        INSERT INTO ticket_timeline_steps (id, ticket_id, step_number, required_role, department_id, section_id,
            status, approver_id, reason, updated_at)
        VALUES ($1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''),$7,$8,$9,$10)`
	for i := range ticket.Timeline {
		step := &ticket.Timeline[i]
		step.TicketID = ticket.ID
		if _, err := r.db.Exec(ctx, stepQuery,
			step.ID,
			step.TicketID,
			step.StepNumber,
			step.RequiredRole,
			step.Scope.DepartmentID,
			step.Scope.SectionID,
			step.Status,
			step.ApproverID,
			step.Reason,
			step.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert step %d: %w", step.StepNumber, err)
		}
	}
	return nil
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET status=$1, pickup_location=$2, return_location=$3, reject_reason=$4,
            current_stage_index=$5, updated_at=NOW()
        WHERE id=$6
        RETURNING updated_at`
	err := r.db.QueryRow(ctx, query,
		ticket.Status,
		ticket.PickupLocation,
		ticket.ReturnLocation,
		ticket.RejectReason,
		ticket.CurrentStageIndex,
		ticket.ID,
	).Scan(&ticket.UpdatedAt)
	return err
}

func (r *ticketRepository) UpdateStep(ctx context.Context, step *domain.TimelineStep) error {
	const query = `
        UPDATE ticket_timeline_steps SET status=$1, approver_id=$2, reason=$3, updated_at=$4
        WHERE id=$5`
	cmd, err := r.db.Exec(ctx, query,
		step.Status,
		step.ApproverID,
		step.Reason,
		step.UpdatedAt,
		step.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return r.fetchWithTimeline(ctx, query, id)
}

func (r *ticketRepository) GetForUpdate(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1 FOR UPDATE`
	return r.fetchWithTimeline(ctx, query, id)
}

func (r *ticketRepository) fetchWithTimeline(ctx context.Context, query string, id string) (*domain.Ticket, error) {
	ticket, err := scanTicket(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	steps, err := r.listSteps(ctx, ticket.ID)
	if err != nil {
		return nil, err
	}
	ticket.Timeline = steps
	return ticket, nil
}

func (r *ticketRepository) listSteps(ctx context.Context, ticketID string) ([]domain.TimelineStep, error) {
	const query = `
        SELECT id, ticket_id, step_number, required_role, COALESCE(department_id,''), COALESCE(section_id,''),
               status, approver_id, reason, updated_at
        FROM ticket_timeline_steps WHERE ticket_id=$1 ORDER BY step_number ASC`
	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []domain.TimelineStep
	for rows.Next() {
		var step domain.TimelineStep
		if err := rows.Scan(
			&step.ID,
			&step.TicketID,
			&step.StepNumber,
			&step.RequiredRole,
			&step.Scope.DepartmentID,
			&step.Scope.SectionID,
			&step.Status,
			&step.ApproverID,
			&step.Reason,
			&step.UpdatedAt,
		); err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	base := `SELECT ` + ticketColumns + ` FROM tickets`
	clauses := []string{"1=1"}
	args := []any{}

	if filter.RequesterID != nil {
		args = append(args, *filter.RequesterID)
		clauses = append(clauses, fmt.Sprintf("requester_id=$%d", len(args)))
	}
	if filter.DeviceID != nil {
		args = append(args, *filter.DeviceID)
		clauses = append(clauses, fmt.Sprintf("device_id=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.CreatedFrom != nil {
		args = append(args, *filter.CreatedFrom)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.CreatedTo != nil {
		args = append(args, *filter.CreatedTo)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	limit, offset := normalizePage(filter.Limit, filter.Offset, 20)
	query := fmt.Sprintf(`%s WHERE %s ORDER BY updated_at DESC, id ASC LIMIT %d OFFSET %d`,
		base, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.ExternalKey,
		&ticket.RequesterID,
		&ticket.DeviceID,
		&ticket.Status,
		&ticket.DateRange.Start,
		&ticket.DateRange.End,
		&ticket.Purpose,
		&ticket.UsageLocation,
		&ticket.PickupLocation,
		&ticket.ReturnLocation,
		&ticket.RejectReason,
		&ticket.CurrentStageIndex,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func normalizePage(limit, offset, def int) (int, int) {
	if limit <= 0 {
		limit = def
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
