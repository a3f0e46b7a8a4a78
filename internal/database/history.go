package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dialcore/dialcore/internal/database/models"
)

// historyRepo implements HistoryRepository.
type historyRepo struct {
	db *DB
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(db *DB) HistoryRepository {
	return &historyRepo{db: db}
}

// Create inserts a call log entry.
func (r *historyRepo) Create(ctx context.Context, e *models.CallHistoryEntry) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO call_history (call_id, phone, direction, number, name,
		 presentation, start_time, answer_time, end_time, duration, cause, missed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.CallID, e.Phone, e.Direction, e.Number, e.Name, e.Presentation,
		e.StartTime, e.AnswerTime, e.EndTime, e.Duration, e.Cause, e.Missed,
	)
	if err != nil {
		return fmt.Errorf("inserting call history entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	e.ID = id
	return nil
}

// GetByID returns a call log entry by ID.
func (r *historyRepo) GetByID(ctx context.Context, id int64) (*models.CallHistoryEntry, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, call_id, phone, direction, number, name, presentation,
		 start_time, answer_time, end_time, duration, cause, missed, created_at
		 FROM call_history WHERE id = ?`, id,
	))
}

// List returns call log entries matching the filter, along with the
// total count of matching rows.
func (r *historyRepo) List(ctx context.Context, filter HistoryListFilter) ([]models.CallHistoryEntry, int, error) {
	where := "1=1"
	args := []any{}

	if filter.Direction != "" {
		where += " AND direction = ?"
		args = append(args, filter.Direction)
	}
	if filter.Missed {
		where += " AND missed = 1"
	}
	if filter.Search != "" {
		where += " AND (number LIKE ? OR name LIKE ?)"
		s := "%" + filter.Search + "%"
		args = append(args, s, s)
	}
	if filter.StartDate != "" {
		where += " AND start_time >= ?"
		args = append(args, filter.StartDate)
	}
	if filter.EndDate != "" {
		where += " AND start_time <= ?"
		args = append(args, filter.EndDate)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM call_history WHERE " + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting call history: %w", err)
	}

	query := `SELECT id, call_id, phone, direction, number, name, presentation,
		 start_time, answer_time, end_time, duration, cause, missed, created_at
		 FROM call_history WHERE ` + where + ` ORDER BY start_time DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing call history: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// ListRecent returns the most recent entries up to the given limit.
func (r *historyRepo) ListRecent(ctx context.Context, limit int) ([]models.CallHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, call_id, phone, direction, number, name, presentation,
		 start_time, answer_time, end_time, duration, cause, missed, created_at
		 FROM call_history ORDER BY start_time DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing recent call history: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// CountByDirection returns the number of entries with the given direction.
func (r *historyRepo) CountByDirection(ctx context.Context, direction string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM call_history WHERE direction = ?`, direction).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting call history by direction: %w", err)
	}
	return count, nil
}

// CountMissed returns the number of missed calls.
func (r *historyRepo) CountMissed(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM call_history WHERE missed = 1`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting missed calls: %w", err)
	}
	return count, nil
}

// Delete removes an entry by ID.
func (r *historyRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM call_history WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting call history entry: %w", err)
	}
	return nil
}

// DeleteOlderThan removes entries older than the given number of days
// and returns how many were removed.
func (r *historyRepo) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM call_history WHERE start_time < datetime('now', '-' || ? || ' days')`, days)
	if err != nil {
		return 0, fmt.Errorf("deleting old call history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return n, nil
}

func (r *historyRepo) scanOne(row *sql.Row) (*models.CallHistoryEntry, error) {
	var e models.CallHistoryEntry
	err := row.Scan(&e.ID, &e.CallID, &e.Phone, &e.Direction, &e.Number, &e.Name,
		&e.Presentation, &e.StartTime, &e.AnswerTime, &e.EndTime, &e.Duration,
		&e.Cause, &e.Missed, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning call history entry: %w", err)
	}
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]models.CallHistoryEntry, error) {
	var entries []models.CallHistoryEntry
	for rows.Next() {
		var e models.CallHistoryEntry
		if err := rows.Scan(&e.ID, &e.CallID, &e.Phone, &e.Direction, &e.Number,
			&e.Name, &e.Presentation, &e.StartTime, &e.AnswerTime, &e.EndTime,
			&e.Duration, &e.Cause, &e.Missed, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning call history row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating call history rows: %w", err)
	}
	return entries, nil
}
