package stores

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/metalease/metalease/pkg/engine"
	"github.com/metalease/metalease/pkg/types"
)

const ownerChangeColumns = `uuid, from_owner_id, to_owner_id, resource_type,
	resource_uuid, start_time, end_time, fulfill_time, expire_time, status,
	created_at, updated_at`

func scanOwnerChange(row rowScanner) (*types.OwnerChange, error) {
	var (
		oc                           types.OwnerChange
		start, end, created, updated string
		fulfill, expire              *string
	)
	err := row.Scan(&oc.UUID, &oc.FromOwnerID, &oc.ToOwnerID, &oc.ResourceType,
		&oc.ResourceUUID, &start, &end, &fulfill, &expire, &oc.Status,
		&created, &updated)
	if err != nil {
		return nil, err
	}

	if oc.StartTime, err = parseTime(start); err != nil {
		return nil, err
	}
	if oc.EndTime, err = parseTime(end); err != nil {
		return nil, err
	}
	if oc.FulfillTime, err = parseTimePtr(fulfill); err != nil {
		return nil, err
	}
	if oc.ExpireTime, err = parseTimePtr(expire); err != nil {
		return nil, err
	}
	if oc.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if oc.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &oc, nil
}

// OwnerChangeCreate persists a new owner-change row.
func (s *SQLiteStore) OwnerChangeCreate(ctx context.Context, oc *types.OwnerChange) error {
	query := `
		INSERT INTO owner_changes (` + ownerChangeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		oc.UUID,
		oc.FromOwnerID,
		oc.ToOwnerID,
		oc.ResourceType,
		oc.ResourceUUID,
		fmtTime(oc.StartTime),
		fmtTime(oc.EndTime),
		fmtTimePtr(oc.FulfillTime),
		fmtTimePtr(oc.ExpireTime),
		oc.Status,
		fmtTime(oc.CreatedAt),
		fmtTime(oc.UpdatedAt),
	)
	if err != nil {
		return mapCreateError(err, "owner change", oc.UUID)
	}
	return nil
}

// OwnerChangeGetByUUID retrieves one owner change.
func (s *SQLiteStore) OwnerChangeGetByUUID(ctx context.Context, uuid string) (*types.OwnerChange, error) {
	query := `SELECT ` + ownerChangeColumns + ` FROM owner_changes WHERE uuid = ?`

	oc, err := scanOwnerChange(s.db.QueryRowContext(ctx, query, uuid))
	if err == sql.ErrNoRows {
		return nil, engine.NewNotFound(fmt.Sprintf("owner change %s not found", uuid))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get owner change: %w", err)
	}
	return oc, nil
}

// OwnerChangeGetAll lists owner changes matching the filters.
func (s *SQLiteStore) OwnerChangeGetAll(ctx context.Context, filters OwnerChangeFilters) ([]*types.OwnerChange, error) {
	query := `SELECT ` + ownerChangeColumns + ` FROM owner_changes WHERE 1=1`
	var args []any

	if filters.FromOwnerID != "" {
		query += ` AND from_owner_id = ?`
		args = append(args, filters.FromOwnerID)
	}
	if filters.ToOwnerID != "" {
		query += ` AND to_owner_id = ?`
		args = append(args, filters.ToOwnerID)
	}
	if filters.AnyOwnerID != "" {
		query += ` AND (from_owner_id = ? OR to_owner_id = ?)`
		args = append(args, filters.AnyOwnerID, filters.AnyOwnerID)
	}
	if filters.ResourceType != "" {
		query += ` AND resource_type = ?`
		args = append(args, filters.ResourceType)
	}
	if filters.ResourceUUID != "" {
		query += ` AND resource_uuid = ?`
		args = append(args, filters.ResourceUUID)
	}
	if len(filters.Statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(filters.Statuses)) + `)`
		for _, st := range filters.Statuses {
			args = append(args, st)
		}
	}
	if filters.StartTimeBefore != nil {
		query += ` AND start_time <= ?`
		args = append(args, fmtTime(*filters.StartTimeBefore))
	}
	if filters.EndTimeBefore != nil {
		query += ` AND end_time <= ?`
		args = append(args, fmtTime(*filters.EndTimeBefore))
	}

	timeQuery, timeArgs := timeFilterClause(filters.StartTime, filters.EndTime, filters.TimeFilter)
	query += timeQuery
	args = append(args, timeArgs...)

	query += ` ORDER BY start_time ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list owner changes: %w", err)
	}
	defer rows.Close()

	changes := []*types.OwnerChange{}
	for rows.Next() {
		oc, err := scanOwnerChange(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan owner change: %w", err)
		}
		changes = append(changes, oc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating owner changes: %w", err)
	}
	return changes, nil
}

// OwnerChangeUpdate rewrites the mutable columns of an owner-change row.
func (s *SQLiteStore) OwnerChangeUpdate(ctx context.Context, oc *types.OwnerChange) error {
	return s.ownerChangeUpdateOn(ctx, s.db, oc)
}

func (s *SQLiteStore) ownerChangeUpdateOn(ctx context.Context, ex execer, oc *types.OwnerChange) error {
	oc.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE owner_changes
		SET start_time = ?, end_time = ?, fulfill_time = ?, expire_time = ?,
		    status = ?, updated_at = ?
		WHERE uuid = ?
	`
	result, err := ex.ExecContext(ctx, query,
		fmtTime(oc.StartTime),
		fmtTime(oc.EndTime),
		fmtTimePtr(oc.FulfillTime),
		fmtTimePtr(oc.ExpireTime),
		oc.Status,
		fmtTime(oc.UpdatedAt),
		oc.UUID,
	)
	if err != nil {
		return fmt.Errorf("failed to update owner change: %w", err)
	}
	return requireRow(result, "owner change", oc.UUID)
}

// OwnerChangeDestroy removes an owner-change row.
func (s *SQLiteStore) OwnerChangeDestroy(ctx context.Context, uuid string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM owner_changes WHERE uuid = ?`, uuid)
	if err != nil {
		return fmt.Errorf("failed to destroy owner change: %w", err)
	}
	return requireRow(result, "owner change", uuid)
}
