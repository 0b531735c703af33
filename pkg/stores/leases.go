package stores

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/metalease/metalease/pkg/engine"
	"github.com/metalease/metalease/pkg/types"
)

const leaseColumns = `uuid, name, project_id, owner_id, resource_type,
	resource_uuid, start_time, end_time, fulfill_time, expire_time, status,
	purpose, properties, offer_uuid, parent_lease_uuid, created_at, updated_at`

func scanLease(row rowScanner) (*types.Lease, error) {
	var (
		l                               types.Lease
		start, end, created, updated    string
		fulfill, expire                 *string
		purpose, offerUUID, parentLease *string
		props                           string
	)
	err := row.Scan(&l.UUID, &l.Name, &l.ProjectID, &l.OwnerID, &l.ResourceType,
		&l.ResourceUUID, &start, &end, &fulfill, &expire, &l.Status,
		&purpose, &props, &offerUUID, &parentLease, &created, &updated)
	if err != nil {
		return nil, err
	}

	if l.StartTime, err = parseTime(start); err != nil {
		return nil, err
	}
	if l.EndTime, err = parseTime(end); err != nil {
		return nil, err
	}
	if l.FulfillTime, err = parseTimePtr(fulfill); err != nil {
		return nil, err
	}
	if l.ExpireTime, err = parseTimePtr(expire); err != nil {
		return nil, err
	}
	if l.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if l.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	l.Purpose = fromNullable(purpose)
	l.OfferUUID = fromNullable(offerUUID)
	l.ParentLeaseUUID = fromNullable(parentLease)
	if l.Properties, err = unmarshalProperties(props); err != nil {
		return nil, err
	}
	return &l, nil
}

// LeaseCreate persists a new lease row.
func (s *SQLiteStore) LeaseCreate(ctx context.Context, lease *types.Lease) error {
	props, err := marshalProperties(lease.Properties)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO leases (` + leaseColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		lease.UUID,
		lease.Name,
		lease.ProjectID,
		lease.OwnerID,
		lease.ResourceType,
		lease.ResourceUUID,
		fmtTime(lease.StartTime),
		fmtTime(lease.EndTime),
		fmtTimePtr(lease.FulfillTime),
		fmtTimePtr(lease.ExpireTime),
		lease.Status,
		nullable(lease.Purpose),
		props,
		nullable(lease.OfferUUID),
		nullable(lease.ParentLeaseUUID),
		fmtTime(lease.CreatedAt),
		fmtTime(lease.UpdatedAt),
	)
	if err != nil {
		return mapCreateError(err, "lease", lease.UUID)
	}
	return nil
}

// LeaseGetByUUID retrieves one lease.
func (s *SQLiteStore) LeaseGetByUUID(ctx context.Context, uuid string) (*types.Lease, error) {
	query := `SELECT ` + leaseColumns + ` FROM leases WHERE uuid = ?`

	lease, err := scanLease(s.db.QueryRowContext(ctx, query, uuid))
	if err == sql.ErrNoRows {
		return nil, engine.NewNotFound(fmt.Sprintf("lease %s not found", uuid))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lease: %w", err)
	}
	return lease, nil
}

// LeaseGetByName retrieves every lease carrying the (non-unique) name.
func (s *SQLiteStore) LeaseGetByName(ctx context.Context, name string) ([]*types.Lease, error) {
	return s.LeaseGetAll(ctx, LeaseFilters{Name: name})
}

// LeaseGetAll lists leases matching the filters.
func (s *SQLiteStore) LeaseGetAll(ctx context.Context, filters LeaseFilters) ([]*types.Lease, error) {
	query := `SELECT ` + leaseColumns + ` FROM leases WHERE 1=1`
	var args []any

	if filters.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, filters.ProjectID)
	}
	if filters.OwnerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, filters.OwnerID)
	}
	if filters.ProjectOrOwnerID != "" {
		query += ` AND (project_id = ? OR owner_id = ?)`
		args = append(args, filters.ProjectOrOwnerID, filters.ProjectOrOwnerID)
	}
	if filters.ResourceType != "" {
		query += ` AND resource_type = ?`
		args = append(args, filters.ResourceType)
	}
	if filters.ResourceUUID != "" {
		query += ` AND resource_uuid = ?`
		args = append(args, filters.ResourceUUID)
	}
	if filters.Name != "" {
		query += ` AND name = ?`
		args = append(args, filters.Name)
	}
	if filters.OfferUUID != "" {
		query += ` AND offer_uuid = ?`
		args = append(args, filters.OfferUUID)
	}
	if filters.ParentLeaseUUID != "" {
		query += ` AND parent_lease_uuid = ?`
		args = append(args, filters.ParentLeaseUUID)
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
		return nil, fmt.Errorf("failed to list leases: %w", err)
	}
	defer rows.Close()

	leases := []*types.Lease{}
	for rows.Next() {
		lease, err := scanLease(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lease: %w", err)
		}
		leases = append(leases, lease)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating leases: %w", err)
	}
	return leases, nil
}

// LeaseUpdate rewrites the mutable columns of a lease row.
func (s *SQLiteStore) LeaseUpdate(ctx context.Context, lease *types.Lease) error {
	return s.leaseUpdateOn(ctx, s.db, lease)
}

func (s *SQLiteStore) leaseUpdateOn(ctx context.Context, ex execer, lease *types.Lease) error {
	props, err := marshalProperties(lease.Properties)
	if err != nil {
		return err
	}
	lease.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE leases
		SET name = ?, start_time = ?, end_time = ?, fulfill_time = ?,
		    expire_time = ?, status = ?, purpose = ?, properties = ?,
		    updated_at = ?
		WHERE uuid = ?
	`
	result, err := ex.ExecContext(ctx, query,
		lease.Name,
		fmtTime(lease.StartTime),
		fmtTime(lease.EndTime),
		fmtTimePtr(lease.FulfillTime),
		fmtTimePtr(lease.ExpireTime),
		lease.Status,
		nullable(lease.Purpose),
		props,
		fmtTime(lease.UpdatedAt),
		lease.UUID,
	)
	if err != nil {
		return fmt.Errorf("failed to update lease: %w", err)
	}
	return requireRow(result, "lease", lease.UUID)
}

// LeaseDestroy removes a lease row.
func (s *SQLiteStore) LeaseDestroy(ctx context.Context, uuid string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM leases WHERE uuid = ?`, uuid)
	if err != nil {
		return fmt.Errorf("failed to destroy lease: %w", err)
	}
	return requireRow(result, "lease", uuid)
}
