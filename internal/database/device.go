package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dialcore/dialcore/internal/database/models"
)

// deviceRepo implements DeviceRepository.
type deviceRepo struct {
	db *DB
}

// NewDeviceRepository creates a new DeviceRepository.
func NewDeviceRepository(db *DB) DeviceRepository {
	return &deviceRepo{db: db}
}

// Create inserts a paired device.
func (r *deviceRepo) Create(ctx context.Context, dev *models.PairedDevice) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO paired_devices (name, platform, push_token, secret_hash, created_at)
		 VALUES (?, ?, ?, ?, datetime('now'))`,
		dev.Name, dev.Platform, dev.PushToken, dev.SecretHash,
	)
	if err != nil {
		return fmt.Errorf("inserting paired device: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	dev.ID = id
	return nil
}

// GetByID returns a paired device by ID.
func (r *deviceRepo) GetByID(ctx context.Context, id int64) (*models.PairedDevice, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, name, platform, push_token, secret_hash, last_seen_at, created_at
		 FROM paired_devices WHERE id = ?`, id,
	))
}

// GetByName returns a paired device by its unique name.
func (r *deviceRepo) GetByName(ctx context.Context, name string) (*models.PairedDevice, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, name, platform, push_token, secret_hash, last_seen_at, created_at
		 FROM paired_devices WHERE name = ?`, name,
	))
}

// List returns all paired devices ordered by name.
func (r *deviceRepo) List(ctx context.Context) ([]models.PairedDevice, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, platform, push_token, secret_hash, last_seen_at, created_at
		 FROM paired_devices ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying paired devices: %w", err)
	}
	defer rows.Close()

	var devices []models.PairedDevice
	for rows.Next() {
		var d models.PairedDevice
		if err := rows.Scan(&d.ID, &d.Name, &d.Platform, &d.PushToken,
			&d.SecretHash, &d.LastSeenAt, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning paired device row: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// UpdatePushToken replaces the device's push token.
func (r *deviceRepo) UpdatePushToken(ctx context.Context, id int64, token string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE paired_devices SET push_token = ? WHERE id = ?`, token, id)
	if err != nil {
		return fmt.Errorf("updating push token: %w", err)
	}
	return nil
}

// TouchLastSeen stamps the device's last contact time.
func (r *deviceRepo) TouchLastSeen(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE paired_devices SET last_seen_at = datetime('now') WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("touching last seen: %w", err)
	}
	return nil
}

// Delete removes a paired device by ID.
func (r *deviceRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM paired_devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting paired device: %w", err)
	}
	return nil
}

// Count returns the number of paired devices.
func (r *deviceRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM paired_devices`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting paired devices: %w", err)
	}
	return count, nil
}

func (r *deviceRepo) scanOne(row *sql.Row) (*models.PairedDevice, error) {
	var d models.PairedDevice
	err := row.Scan(&d.ID, &d.Name, &d.Platform, &d.PushToken,
		&d.SecretHash, &d.LastSeenAt, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning paired device: %w", err)
	}
	return &d, nil
}
