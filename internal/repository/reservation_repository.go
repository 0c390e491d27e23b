package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/orbis-track/borrow-service/internal/domain"
)

// ReservationRepository persists ticket to unit bindings.
type ReservationRepository interface {
	Create(ctx context.Context, reservation *domain.Reservation) error
	// Release marks the active reservation of childID on ticketID as released.
	Release(ctx context.Context, ticketID, childID string, finalStatus *domain.ChildStatus, at time.Time) error
	ListByTicket(ctx context.Context, ticketID string, includeReleased bool) ([]domain.Reservation, error)
	// ListActiveByDevice returns unreleased reservations on units of the device, joined with
	// the owning ticket's status and date range.
	ListActiveByDevice(ctx context.Context, deviceID string) ([]domain.Reservation, error)
}

type reservationRepository struct {
	db DBTX
}

const reservationSelect = `
        SELECT r.id, r.ticket_id, r.child_id, c.device_id, t.status, t.start_at, t.end_at,
               r.created_at, r.released_at, r.final_status
        FROM ticket_device_childs r
        JOIN tickets t ON t.id = r.ticket_id
        JOIN device_childs c ON c.id = r.child_id`

func (r *reservationRepository) Create(ctx context.Context, reservation *domain.Reservation) error {
	const query = `
        INSERT INTO ticket_device_childs (id, ticket_id, child_id)
        VALUES ($1,$2,$3)
        RETURNING created_at`
	return r.db.QueryRow(ctx, query,
		reservation.ID,
		reservation.TicketID,
		reservation.ChildID,
	).Scan(&reservation.CreatedAt)
}

func (r *reservationRepository) Release(ctx context.Context, ticketID, childID string, finalStatus *domain.ChildStatus, at time.Time) error {
	const query = `
        UPDATE ticket_device_childs SET released_at=$1, final_status=$2
        WHERE ticket_id=$3 AND child_id=$4 AND released_at IS NULL`
	cmd, err := r.db.Exec(ctx, query, at, finalStatus, ticketID, childID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *reservationRepository) ListByTicket(ctx context.Context, ticketID string, includeReleased bool) ([]domain.Reservation, error) {
	query := reservationSelect + ` WHERE r.ticket_id=$1`
	if !includeReleased {
		query += ` AND r.released_at IS NULL`
	}
	query += ` ORDER BY c.asset_code ASC, r.child_id ASC`
	return r.query(ctx, query, ticketID)
}

func (r *reservationRepository) ListActiveByDevice(ctx context.Context, deviceID string) ([]domain.Reservation, error) {
	query := reservationSelect + ` WHERE c.device_id=$1 AND r.released_at IS NULL ORDER BY r.child_id ASC, r.ticket_id ASC`
	return r.query(ctx, query, deviceID)
}

func (r *reservationRepository) query(ctx context.Context, query string, arg any) ([]domain.Reservation, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Reservation
	for rows.Next() {
		var res domain.Reservation
		if err := rows.Scan(
			&res.ID,
			&res.TicketID,
			&res.ChildID,
			&res.DeviceID,
			&res.TicketStatus,
			&res.DateRange.Start,
			&res.DateRange.End,
			&res.CreatedAt,
			&res.ReleasedAt,
			&res.FinalStatus,
		); err != nil {
			return nil, err
		}
		result = append(result, res)
	}
	return result, rows.Err()
}
