package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dialcore/dialcore/internal/database/models"
)

// contactRepo implements ContactRepository.
type contactRepo struct {
	db *DB
}

// NewContactRepository creates a new ContactRepository.
func NewContactRepository(db *DB) ContactRepository {
	return &contactRepo{db: db}
}

// NormalizeNumber reduces a dialable number to its digits for matching.
// A leading + is kept so international forms stay distinct.
func NormalizeNumber(number string) string {
	var b strings.Builder
	for i, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Create inserts a new contact. The normalized number is derived from
// the stored number.
func (r *contactRepo) Create(ctx context.Context, c *models.Contact) error {
	c.NormalizedNumber = NormalizeNumber(c.Number)
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO contacts (name, number, normalized_number, label, starred, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, datetime('now'), datetime('now'))`,
		c.Name, c.Number, c.NormalizedNumber, c.Label, c.Starred,
	)
	if err != nil {
		return fmt.Errorf("inserting contact: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	c.ID = id
	return nil
}

// GetByID returns a contact by ID.
func (r *contactRepo) GetByID(ctx context.Context, id int64) (*models.Contact, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, name, number, normalized_number, label, starred, created_at, updated_at
		 FROM contacts WHERE id = ?`, id,
	))
}

// trailingMatchDigits is how many trailing digits must agree for a
// loose match when numbers differ in prefix (country code, trunk 0).
const trailingMatchDigits = 7

// FindByNumber matches a caller number: exact normalized match first,
// then by the last seven digits.
func (r *contactRepo) FindByNumber(ctx context.Context, number string) (*models.Contact, error) {
	normalized := NormalizeNumber(number)
	if normalized == "" {
		return nil, nil
	}

	c, err := r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, name, number, normalized_number, label, starred, created_at, updated_at
		 FROM contacts WHERE normalized_number = ? LIMIT 1`, normalized,
	))
	if err != nil || c != nil {
		return c, err
	}

	digits := strings.TrimPrefix(normalized, "+")
	if len(digits) < trailingMatchDigits {
		return nil, nil
	}
	suffix := digits[len(digits)-trailingMatchDigits:]

	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, name, number, normalized_number, label, starred, created_at, updated_at
		 FROM contacts
		 WHERE length(replace(normalized_number, '+', '')) >= ?
		 AND substr(replace(normalized_number, '+', ''), -?) = ?
		 ORDER BY length(normalized_number) LIMIT 1`,
		trailingMatchDigits, trailingMatchDigits, suffix,
	))
}

// List returns all contacts ordered by name.
func (r *contactRepo) List(ctx context.Context) ([]models.Contact, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, number, normalized_number, label, starred, created_at, updated_at
		 FROM contacts ORDER BY name COLLATE NOCASE`)
	if err != nil {
		return nil, fmt.Errorf("querying contacts: %w", err)
	}
	defer rows.Close()

	var contacts []models.Contact
	for rows.Next() {
		var c models.Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.Number, &c.NormalizedNumber,
			&c.Label, &c.Starred, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning contact row: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// Update modifies an existing contact.
func (r *contactRepo) Update(ctx context.Context, c *models.Contact) error {
	c.NormalizedNumber = NormalizeNumber(c.Number)
	_, err := r.db.ExecContext(ctx,
		`UPDATE contacts SET name = ?, number = ?, normalized_number = ?, label = ?,
		 starred = ?, updated_at = datetime('now') WHERE id = ?`,
		c.Name, c.Number, c.NormalizedNumber, c.Label, c.Starred, c.ID,
	)
	if err != nil {
		return fmt.Errorf("updating contact: %w", err)
	}
	return nil
}

// Delete removes a contact by ID.
func (r *contactRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM contacts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting contact: %w", err)
	}
	return nil
}

func (r *contactRepo) scanOne(row *sql.Row) (*models.Contact, error) {
	var c models.Contact
	err := row.Scan(&c.ID, &c.Name, &c.Number, &c.NormalizedNumber,
		&c.Label, &c.Starred, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning contact: %w", err)
	}
	return &c, nil
}
