package stores

import (
	"context"
	"fmt"

	"github.com/metalease/metalease/pkg/types"
)

// EventCreate appends one event to the journal. The monotonic id assigned by
// the store is written back into the event.
func (s *SQLiteStore) EventCreate(ctx context.Context, event *types.Event) error {
	return s.eventCreateOn(ctx, s.db, event)
}

func (s *SQLiteStore) eventCreateOn(ctx context.Context, ex execer, event *types.Event) error {
	query := `
		INSERT INTO events (event_type, event_time, object_type, object_uuid,
			resource_type, resource_uuid, lessee_id, owner_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := ex.ExecContext(ctx, query,
		event.EventType,
		fmtTime(event.EventTime),
		event.ObjectType,
		event.ObjectUUID,
		event.ResourceType,
		event.ResourceUUID,
		nullable(event.LesseeID),
		nullable(event.OwnerID),
		fmtTime(event.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event id: %w", err)
	}
	event.ID = id
	return nil
}

// EventGetAll lists events matching the filters, ordered by id.
func (s *SQLiteStore) EventGetAll(ctx context.Context, filters EventFilters) ([]*types.Event, error) {
	query := `
		SELECT id, event_type, event_time, object_type, object_uuid,
		       resource_type, resource_uuid, lessee_id, owner_id, created_at
		FROM events WHERE 1=1
	`
	var args []any

	if filters.LastEventID > 0 {
		query += ` AND id > ?`
		args = append(args, filters.LastEventID)
	}
	if filters.LastEventTime != nil {
		query += ` AND event_time > ?`
		args = append(args, fmtTime(*filters.LastEventTime))
	}
	if filters.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, filters.EventType)
	}
	if filters.ResourceType != "" {
		query += ` AND resource_type = ?`
		args = append(args, filters.ResourceType)
	}
	if filters.ResourceUUID != "" {
		query += ` AND resource_uuid = ?`
		args = append(args, filters.ResourceUUID)
	}
	if len(filters.LesseeOrOwnerIDs) > 0 {
		ph := placeholders(len(filters.LesseeOrOwnerIDs))
		query += ` AND (lessee_id IN (` + ph + `) OR owner_id IN (` + ph + `))`
		for i := 0; i < 2; i++ {
			for _, id := range filters.LesseeOrOwnerIDs {
				args = append(args, id)
			}
		}
	}

	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*types.Event{}
	for rows.Next() {
		var (
			e                 types.Event
			eventTime         string
			created           string
			lesseeID, ownerID *string
		)
		err := rows.Scan(&e.ID, &e.EventType, &eventTime, &e.ObjectType,
			&e.ObjectUUID, &e.ResourceType, &e.ResourceUUID,
			&lesseeID, &ownerID, &created)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if e.EventTime, err = parseTime(eventTime); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		e.LesseeID = fromNullable(lesseeID)
		e.OwnerID = fromNullable(ownerID)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}
