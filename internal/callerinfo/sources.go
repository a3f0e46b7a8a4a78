package callerinfo

import (
	"context"
	"fmt"

	"github.com/dialcore/dialcore/internal/database/models"
	"github.com/dialcore/dialcore/internal/telephony"
)

// ContactFinder is the slice of the contacts store a lookup needs.
type ContactFinder interface {
	FindByNumber(ctx context.Context, number string) (*models.Contact, error)
}

// ContactsLookup resolves numbers against the local contacts store.
type ContactsLookup struct {
	contacts ContactFinder
}

// NewContactsLookup creates a contacts-backed lookup.
func NewContactsLookup(contacts ContactFinder) *ContactsLookup {
	return &ContactsLookup{contacts: contacts}
}

// Lookup implements the Lookup interface.
func (l *ContactsLookup) Lookup(ctx context.Context, number string) (*Info, error) {
	c, err := l.contacts.FindByNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("contacts lookup: %w", err)
	}
	if c == nil {
		return nil, nil
	}
	return &Info{
		Name:         c.Name,
		Number:       number,
		Presentation: telephony.PresentationAllowed,
		Source:       SourceContacts,
		ContactID:    c.ID,
	}, nil
}

// NameService is the slice of the gateway client a directory lookup
// needs.
type NameService interface {
	LookupName(ctx context.Context, number string) (string, error)
	Configured() bool
}

// DirectoryLookup resolves numbers against the hosted gateway's
// caller-name directory. An unconfigured gateway always misses.
type DirectoryLookup struct {
	gateway NameService
}

// NewDirectoryLookup creates a gateway-backed lookup.
func NewDirectoryLookup(gateway NameService) *DirectoryLookup {
	return &DirectoryLookup{gateway: gateway}
}

// Lookup implements the Lookup interface.
func (l *DirectoryLookup) Lookup(ctx context.Context, number string) (*Info, error) {
	if !l.gateway.Configured() {
		return nil, nil
	}
	name, err := l.gateway.LookupName(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("directory lookup: %w", err)
	}
	if name == "" {
		return nil, nil
	}
	return &Info{
		Name:         name,
		Number:       number,
		Presentation: telephony.PresentationAllowed,
		Source:       SourceDirectory,
	}, nil
}
