package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/dialcore/dialcore/internal/database/models"
)

// Well-known setting keys shared between the API and the engine wiring.
const (
	// SettingExtraEmergencyNumbers is a comma-separated list of emergency
	// numbers beyond the built-in ones.
	SettingExtraEmergencyNumbers = "calling.extra_emergency_numbers"
	// SettingActivationCodes is a comma-separated list of carrier
	// provisioning codes.
	SettingActivationCodes = "calling.activation_codes"
	// SettingDockSpeaker holds "true" when docking should auto-enable the
	// speaker on call setup.
	SettingDockSpeaker = "audio.dock_speaker"
	// SettingHistoryRetentionDays bounds how long call log entries are
	// kept; "0" disables automatic pruning.
	SettingHistoryRetentionDays = "history.retention_days"
)

// settingsRepo implements SettingsRepository with an in-memory cache.
// The engine reads settings on its dispatch queue, so Get must never
// touch the database.
type settingsRepo struct {
	db    *DB
	mu    sync.RWMutex
	cache map[string]string
}

// NewSettingsRepository creates a SettingsRepository backed by the given
// database. All settings are loaded into memory on creation.
func NewSettingsRepository(ctx context.Context, db *DB) (SettingsRepository, error) {
	repo := &settingsRepo{
		db:    db,
		cache: make(map[string]string),
	}

	if err := repo.loadAll(ctx); err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	return repo, nil
}

// Get returns the value for the given key. Returns empty string if not
// found.
func (r *settingsRepo) Get(_ context.Context, key string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cache[key], nil
}

// Set inserts or updates a key-value pair in both the database and the
// cache.
func (r *settingsRepo) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at)
		 VALUES (?, ?, datetime('now'))
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("setting %q: %w", key, err)
	}

	r.mu.Lock()
	r.cache[key] = value
	r.mu.Unlock()

	return nil
}

// GetAll returns all settings.
func (r *settingsRepo) GetAll(ctx context.Context) ([]models.Setting, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, key, value, updated_at FROM settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("querying settings: %w", err)
	}
	defer rows.Close()

	var settings []models.Setting
	for rows.Next() {
		var s models.Setting
		if err := rows.Scan(&s.ID, &s.Key, &s.Value, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning setting row: %w", err)
		}
		settings = append(settings, s)
	}
	return settings, rows.Err()
}

// loadAll reads all settings from the database into the cache.
func (r *settingsRepo) loadAll(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return fmt.Errorf("querying settings: %w", err)
	}
	defer rows.Close()

	r.mu.Lock()
	defer r.mu.Unlock()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("scanning setting row: %w", err)
		}
		r.cache[key] = value
	}

	return rows.Err()
}
