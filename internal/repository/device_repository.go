package repository

import (
	"context"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/orbis-track/borrow-service/internal/domain"
)

// DeviceRepository reads devices and updates unit conditions.
type DeviceRepository interface {
	GetDevice(ctx context.Context, id string) (*domain.Device, error)
	ListChildren(ctx context.Context, deviceID string) ([]domain.DeviceChild, error)
	// LockChildren loads the given units ordered by id and locks their rows.
	LockChildren(ctx context.Context, ids []string) ([]domain.DeviceChild, error)
	// LockDeviceChildren locks every unit of a device, ordered by id.
	LockDeviceChildren(ctx context.Context, deviceID string) ([]domain.DeviceChild, error)
	UpdateChildStatus(ctx context.Context, id string, status domain.ChildStatus) error
}

type deviceRepository struct {
	db DBTX
}

const childColumns = `id, device_id, asset_code, serial, current_status, updated_at`

func (r *deviceRepository) GetDevice(ctx context.Context, id string) (*domain.Device, error) {
	const query = `SELECT id, name, description, created_at FROM devices WHERE id=$1`
	var device domain.Device
	if err := r.db.QueryRow(ctx, query, id).Scan(
		&device.ID,
		&device.Name,
		&device.Description,
		&device.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *deviceRepository) ListChildren(ctx context.Context, deviceID string) ([]domain.DeviceChild, error) {
	const query = `SELECT ` + childColumns + ` FROM device_childs WHERE device_id=$1 ORDER BY asset_code ASC, id ASC`
	return r.queryChildren(ctx, query, deviceID)
}

func (r *deviceRepository) LockChildren(ctx context.Context, ids []string) ([]domain.DeviceChild, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	const query = `SELECT ` + childColumns + ` FROM device_childs WHERE id = ANY($1) ORDER BY id ASC FOR UPDATE`
	return r.queryChildren(ctx, query, sorted)
}

func (r *deviceRepository) LockDeviceChildren(ctx context.Context, deviceID string) ([]domain.DeviceChild, error) {
	const query = `SELECT ` + childColumns + ` FROM device_childs WHERE device_id=$1 ORDER BY id ASC FOR UPDATE`
	return r.queryChildren(ctx, query, deviceID)
}

func (r *deviceRepository) UpdateChildStatus(ctx context.Context, id string, status domain.ChildStatus) error {
	const query = `UPDATE device_childs SET current_status=$1, updated_at=NOW() WHERE id=$2`
	cmd, err := r.db.Exec(ctx, query, status, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *deviceRepository) queryChildren(ctx context.Context, query string, arg any) ([]domain.DeviceChild, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.DeviceChild
	for rows.Next() {
		var child domain.DeviceChild
		if err := rows.Scan(
			&child.ID,
			&child.DeviceID,
			&child.AssetCode,
			&child.Serial,
			&child.CurrentStatus,
			&child.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, child)
	}
	return result, rows.Err()
}
