package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Repository defines the data access contract for the audit trail.
// All SQL lives in the concrete implementation -- no SQL leaks out.
// There is deliberately no Update or Delete: the table is append-only.
type Repository interface {
	// Insert appends a new event row.
	Insert(ctx context.Context, event *Event) error

	// List returns paginated events, most recent first, with actor display
	// names joined from profiles. An empty actionType means no filter.
	// Returns the events, total count (for pagination), and any error.
	List(ctx context.Context, actionType string, limit, offset int) ([]Event, int, error)

	// GetStats returns the aggregate numbers for the security dashboard.
	GetStats(ctx context.Context) (*Stats, error)
}

// repository implements Repository with MariaDB queries.
type repository struct {
	db *sql.DB
}

// NewRepository creates a repository backed by the given DB pool.
func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

// Insert appends a new event. The details map is serialized to JSON before
// storage; nil details are stored as SQL NULL.
func (r *repository) Insert(ctx context.Context, event *Event) error {
	query := `INSERT INTO activity_logs
	          (action_type, actor_id, target_id, details, ip_address, user_agent, location, latitude, longitude, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var detailsJSON []byte
	if event.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshaling audit details: %w", err)
		}
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	// Use NULL for empty actor/target IDs (foreign key compatibility).
	var actorID, targetID any
	if event.ActorID != "" {
		actorID = event.ActorID
	}
	if event.TargetID != "" {
		targetID = event.TargetID
	}

	result, err := r.db.ExecContext(ctx, query,
		event.ActionType, actorID, targetID, detailsJSON,
		event.IPAddress, event.UserAgent, event.Location,
		event.Latitude, event.Longitude, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}

	id, _ := result.LastInsertId()
	event.ID = id
	return nil
}

// List returns paginated events with joined actor names.
func (r *repository) List(ctx context.Context, actionType string, limit, offset int) ([]Event, int, error) {
	countQuery := `SELECT COUNT(*) FROM activity_logs`
	countArgs := []any{}
	if actionType != "" {
		countQuery += ` WHERE action_type = ?`
		countArgs = append(countArgs, actionType)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting audit events: %w", err)
	}

	query := `SELECT a.id, a.action_type, COALESCE(a.actor_id, ''), COALESCE(a.target_id, ''),
	                 a.details, a.ip_address, COALESCE(a.user_agent, ''), COALESCE(a.location, ''),
	                 a.latitude, a.longitude, a.created_at,
	                 COALESCE(p.full_name, '') AS actor_name
	          FROM activity_logs a
	          LEFT JOIN profiles p ON p.id = a.actor_id`

	args := []any{}
	if actionType != "" {
		query += ` WHERE a.action_type = ?`
		args = append(args, actionType)
	}

	query += ` ORDER BY a.created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var detailsJSON sql.NullString
		if err := rows.Scan(
			&e.ID, &e.ActionType, &e.ActorID, &e.TargetID,
			&detailsJSON, &e.IPAddress, &e.UserAgent, &e.Location,
			&e.Latitude, &e.Longitude, &e.CreatedAt, &e.ActorName,
		); err != nil {
			return nil, 0, fmt.Errorf("scanning audit event: %w", err)
		}

		if detailsJSON.Valid && detailsJSON.String != "" {
			if jsonErr := json.Unmarshal([]byte(detailsJSON.String), &e.Details); jsonErr != nil {
				e.Details = map[string]any{"_parse_error": "invalid JSON"}
			}
		}

		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating audit events: %w", err)
	}

	return events, total, nil
}

// GetStats returns aggregate numbers for the security dashboard.
func (r *repository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity_logs`).Scan(&stats.TotalEvents); err != nil {
		return nil, fmt.Errorf("counting audit events: %w", err)
	}

	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activity_logs WHERE action_type = ? AND created_at >= DATE_SUB(NOW(), INTERVAL 24 HOUR)`,
		ActionLoginFailed,
	).Scan(&stats.FailedLogins24h); err != nil {
		return nil, fmt.Errorf("counting failed logins: %w", err)
	}

	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activity_logs WHERE action_type = ? AND created_at >= DATE_SUB(NOW(), INTERVAL 24 HOUR)`,
		ActionIPBlockedLogin,
	).Scan(&stats.BlockedLogins24h); err != nil {
		return nil, fmt.Errorf("counting blocked logins: %w", err)
	}

	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM profiles WHERE locked_until IS NOT NULL AND locked_until > NOW()`,
	).Scan(&stats.LockedAccounts); err != nil {
		return nil, fmt.Errorf("counting locked accounts: %w", err)
	}

	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT ip_address) FROM activity_logs WHERE created_at >= DATE_SUB(NOW(), INTERVAL 24 HOUR) AND ip_address != ''`,
	).Scan(&stats.UniqueIPs24h); err != nil {
		return nil, fmt.Errorf("counting unique IPs: %w", err)
	}

	return stats, nil
}
