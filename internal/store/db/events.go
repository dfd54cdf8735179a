package db

import (
	"context"
	"fmt"

	"github.com/gatherapp/gather/internal/models"
)

// CreateEvent inserts an event into a group.
func (db *DB) CreateEvent(groupID int64, fields models.EventFields) (*models.Event, error) {
	return db.CreateEventContext(context.Background(), groupID, fields)
}

// CreateEventContext inserts an event with context support.
//
// The group must exist; otherwise ErrNotFound is returned and nothing is
// written. ErrInvalid is reserved for bad fields. The store assigns the id
// and createdAt.
func (db *DB) CreateEventContext(ctx context.Context, groupID int64, fields models.EventFields) (*models.Event, error) {
	if groupID <= 0 {
		return nil, fmt.Errorf("%w: group %d", ErrNotFound, groupID)
	}

	event := &models.Event{GroupID: groupID, EventFields: fields, CreatedAt: now()}
	if err := event.EventFields.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := groupExists(ctx, tx, groupID); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
	INSERT INTO events (groupId, title, date, location, description, createdAt)
	VALUES (?, ?, ?, ?, ?, ?)
	`,
		event.GroupID,
		event.Title,
		event.Date,
		event.Location,
		event.Description,
		formatTime(event.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read event id: %w", err)
	}
	event.ID = id

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return event, nil
}

// ListEvents returns a group's events ordered by id.
func (db *DB) ListEvents(groupID int64) ([]*models.Event, error) {
	return db.ListEventsContext(context.Background(), groupID)
}

// ListEventsContext returns a group's events with context support.
// Returns ErrNotFound if the group doesn't exist.
func (db *DB) ListEventsContext(ctx context.Context, groupID int64) ([]*models.Event, error) {
	if err := groupExists(ctx, db.conn, groupID); err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, `
	SELECT id, groupId, title, date, location, description, createdAt
	FROM events
	WHERE groupId = ?
	ORDER BY id
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		e := &models.Event{}
		var createdAt string
		if err := rows.Scan(&e.ID, &e.GroupID, &e.Title, &e.Date, &e.Location, &e.Description, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.CreatedAt = parseTime(createdAt)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	return events, nil
}

// GetEventCount returns the number of events across all groups.
func (db *DB) GetEventCount() (int, error) {
	return db.GetEventCountContext(context.Background())
}

// GetEventCountContext returns the number of events with context support.
func (db *DB) GetEventCountContext(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}
