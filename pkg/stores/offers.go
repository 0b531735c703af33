package stores

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/metalease/metalease/pkg/engine"
	"github.com/metalease/metalease/pkg/types"
)

const offerColumns = `uuid, name, project_id, resource_type, resource_uuid,
	start_time, end_time, status, lessee_id, parent_lease_uuid, properties,
	created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOffer(row rowScanner) (*types.Offer, error) {
	var (
		o                      types.Offer
		start, end             string
		created, updated       string
		lesseeID, parentLease  *string
		props                  string
	)
	err := row.Scan(&o.UUID, &o.Name, &o.ProjectID, &o.ResourceType, &o.ResourceUUID,
		&start, &end, &o.Status, &lesseeID, &parentLease, &props,
		&created, &updated)
	if err != nil {
		return nil, err
	}

	if o.StartTime, err = parseTime(start); err != nil {
		return nil, err
	}
	if o.EndTime, err = parseTime(end); err != nil {
		return nil, err
	}
	if o.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if o.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	o.LesseeID = fromNullable(lesseeID)
	o.ParentLeaseUUID = fromNullable(parentLease)
	if o.Properties, err = unmarshalProperties(props); err != nil {
		return nil, err
	}
	return &o, nil
}

// OfferCreate persists a new offer row.
func (s *SQLiteStore) OfferCreate(ctx context.Context, offer *types.Offer) error {
	props, err := marshalProperties(offer.Properties)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO offers (` + offerColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		offer.UUID,
		offer.Name,
		offer.ProjectID,
		offer.ResourceType,
		offer.ResourceUUID,
		fmtTime(offer.StartTime),
		fmtTime(offer.EndTime),
		offer.Status,
		nullable(offer.LesseeID),
		nullable(offer.ParentLeaseUUID),
		props,
		fmtTime(offer.CreatedAt),
		fmtTime(offer.UpdatedAt),
	)
	if err != nil {
		return mapCreateError(err, "offer", offer.UUID)
	}
	return nil
}

// OfferGetByUUID retrieves one offer.
func (s *SQLiteStore) OfferGetByUUID(ctx context.Context, uuid string) (*types.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers WHERE uuid = ?`

	offer, err := scanOffer(s.db.QueryRowContext(ctx, query, uuid))
	if err == sql.ErrNoRows {
		return nil, engine.NewNotFound(fmt.Sprintf("offer %s not found", uuid))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get offer: %w", err)
	}
	return offer, nil
}

// OfferGetByName retrieves every offer carrying the (non-unique) name.
func (s *SQLiteStore) OfferGetByName(ctx context.Context, name string) ([]*types.Offer, error) {
	return s.OfferGetAll(ctx, OfferFilters{Name: name})
}

// OfferGetAll lists offers matching the filters.
func (s *SQLiteStore) OfferGetAll(ctx context.Context, filters OfferFilters) ([]*types.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers WHERE 1=1`
	var args []any

	if filters.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, filters.ProjectID)
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
	if len(filters.LesseeIDs) > 0 {
		clause := `lessee_id IS NULL OR lessee_id IN (` + placeholders(len(filters.LesseeIDs)) + `)`
		for _, id := range filters.LesseeIDs {
			args = append(args, id)
		}
		if filters.OwnProjectID != "" {
			clause += ` OR project_id = ?`
			args = append(args, filters.OwnProjectID)
		}
		query += ` AND (` + clause + `)`
	}

	timeQuery, timeArgs := timeFilterClause(filters.StartTime, filters.EndTime, filters.TimeFilter)
	query += timeQuery
	args = append(args, timeArgs...)

	query += ` ORDER BY start_time ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list offers: %w", err)
	}
	defer rows.Close()

	offers := []*types.Offer{}
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}
		offers = append(offers, offer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating offers: %w", err)
	}
	return offers, nil
}

// OfferUpdate rewrites the mutable columns of an offer row.
func (s *SQLiteStore) OfferUpdate(ctx context.Context, offer *types.Offer) error {
	return s.offerUpdateOn(ctx, s.db, offer)
}

func (s *SQLiteStore) offerUpdateOn(ctx context.Context, ex execer, offer *types.Offer) error {
	props, err := marshalProperties(offer.Properties)
	if err != nil {
		return err
	}
	offer.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE offers
		SET name = ?, start_time = ?, end_time = ?, status = ?, lessee_id = ?,
		    properties = ?, updated_at = ?
		WHERE uuid = ?
	`
	result, err := ex.ExecContext(ctx, query,
		offer.Name,
		fmtTime(offer.StartTime),
		fmtTime(offer.EndTime),
		offer.Status,
		nullable(offer.LesseeID),
		props,
		fmtTime(offer.UpdatedAt),
		offer.UUID,
	)
	if err != nil {
		return fmt.Errorf("failed to update offer: %w", err)
	}
	return requireRow(result, "offer", offer.UUID)
}

// OfferDestroy removes an offer row.
func (s *SQLiteStore) OfferDestroy(ctx context.Context, uuid string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM offers WHERE uuid = ?`, uuid)
	if err != nil {
		return fmt.Errorf("failed to destroy offer: %w", err)
	}
	return requireRow(result, "offer", uuid)
}

// requireRow converts a zero-row mutation into a not-found error.
func requireRow(result sql.Result, what, ident string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return engine.NewNotFound(fmt.Sprintf("%s %s not found", what, ident))
	}
	return nil
}

// timeFilterClause builds the start/end filter per the configured matching
// mode. Overlap is the default: window intersects [start, end).
func timeFilterClause(start, end *time.Time, mode TimeFilterType) (string, []any) {
	if start == nil || end == nil {
		return "", nil
	}
	switch mode {
	case TimeFilterWithin:
		return ` AND start_time >= ? AND end_time <= ?`,
			[]any{fmtTime(*start), fmtTime(*end)}
	default:
		return ` AND start_time < ? AND end_time > ?`,
			[]any{fmtTime(*end), fmtTime(*start)}
	}
}
