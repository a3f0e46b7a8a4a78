package database

import (
	"context"

	"github.com/dialcore/dialcore/internal/database/models"
)

// SettingsRepository manages key-value daemon settings.
type SettingsRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	GetAll(ctx context.Context) ([]models.Setting, error)
}

// ContactRepository manages address-book entries.
type ContactRepository interface {
	Create(ctx context.Context, c *models.Contact) error
	GetByID(ctx context.Context, id int64) (*models.Contact, error)
	// FindByNumber matches a caller number against stored contacts,
	// exact normalized match first, then a trailing-digits match.
	FindByNumber(ctx context.Context, number string) (*models.Contact, error)
	List(ctx context.Context) ([]models.Contact, error)
	Update(ctx context.Context, c *models.Contact) error
	Delete(ctx context.Context, id int64) error
}

// HistoryListFilter specifies filtering and pagination for call history
// queries.
type HistoryListFilter struct {
	Limit     int
	Offset    int
	Search    string // matches number or name
	Direction string // "incoming", "outgoing", or "" for all
	Missed    bool   // only missed calls
	StartDate string // RFC3339 or YYYY-MM-DD
	EndDate   string // RFC3339 or YYYY-MM-DD
}

// HistoryRepository manages the call log.
type HistoryRepository interface {
	Create(ctx context.Context, entry *models.CallHistoryEntry) error
	GetByID(ctx context.Context, id int64) (*models.CallHistoryEntry, error)
	List(ctx context.Context, filter HistoryListFilter) ([]models.CallHistoryEntry, int, error)
	ListRecent(ctx context.Context, limit int) ([]models.CallHistoryEntry, error)
	CountByDirection(ctx context.Context, direction string) (int64, error)
	CountMissed(ctx context.Context) (int64, error)
	Delete(ctx context.Context, id int64) error
	DeleteOlderThan(ctx context.Context, days int) (int64, error)
}

// DeviceRepository manages paired companion devices.
type DeviceRepository interface {
	Create(ctx context.Context, dev *models.PairedDevice) error
	GetByID(ctx context.Context, id int64) (*models.PairedDevice, error)
	GetByName(ctx context.Context, name string) (*models.PairedDevice, error)
	List(ctx context.Context) ([]models.PairedDevice, error)
	UpdatePushToken(ctx context.Context, id int64, token string) error
	TouchLastSeen(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int64, error)
}
