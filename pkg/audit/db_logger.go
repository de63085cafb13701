package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// DBLogger writes audit events to the audit_events table created by the
// store migrations
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

// Log inserts event and sets its ID
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var metadata interface{}
	if len(event.Metadata) > 0 {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = string(data)
	}

	var actor interface{}
	if event.ActorUserID != nil {
		actor = *event.ActorUserID
	}

	err := l.db.QueryRowContext(ctx, `
		INSERT INTO audit_events (
			occurred_at, workspace_id, event_type, actor_user_id, request_id,
			resource_type, resource_id, message, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`,
		event.Timestamp, event.WorkspaceID, string(event.EventType), actor, event.RequestID,
		string(event.ResourceType), event.ResourceID, event.Message, metadata,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Search returns the events matching filter, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]Event, error) {
	var (
		conditions = []string{"workspace_id = $1"}
		args       = []interface{}{filter.WorkspaceID}
	)
	next := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.EventTypes) > 0 {
		placeholders := make([]string, len(filter.EventTypes))
		for i, t := range filter.EventTypes {
			placeholders[i] = next(string(t))
		}
		conditions = append(conditions, "event_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.Since != nil {
		conditions = append(conditions, "occurred_at >= "+next(filter.Since.UTC()))
	}

	query := `
		SELECT id, occurred_at, workspace_id, event_type, actor_user_id, request_id,
			resource_type, resource_id, message, metadata
		FROM audit_events
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY occurred_at DESC, id DESC
		LIMIT ` + next(filter.limit()) + ` OFFSET ` + next(filter.Offset)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			e         Event
			eventType string
			resource  string
			actor     sql.NullInt64
			requestID sql.NullString
			message   sql.NullString
			metadata  []byte
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.WorkspaceID, &eventType, &actor, &requestID,
			&resource, &e.ResourceID, &message, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.EventType = EventType(eventType)
		e.ResourceType = ResourceType(resource)
		e.RequestID = requestID.String
		e.Message = message.String
		if actor.Valid {
			id := actor.Int64
			e.ActorUserID = &id
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata of audit event %d: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit events: %w", err)
	}
	return events, nil
}
