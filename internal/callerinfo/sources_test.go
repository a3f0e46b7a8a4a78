package callerinfo

import (
	"context"
	"errors"
	"testing"

	"github.com/dialcore/dialcore/internal/database/models"
	"github.com/dialcore/dialcore/internal/telephony"
)

type fakeContactFinder struct {
	contact *models.Contact
	err     error
	queried string
}

func (f *fakeContactFinder) FindByNumber(_ context.Context, number string) (*models.Contact, error) {
	f.queried = number
	return f.contact, f.err
}

func TestContactsLookup(t *testing.T) {
	t.Run("hit", func(t *testing.T) {
		finder := &fakeContactFinder{contact: &models.Contact{ID: 7, Name: "Alice", Number: "5551234"}}
		l := NewContactsLookup(finder)

		info, err := l.Lookup(context.Background(), "5551234")
		if err != nil {
			t.Fatalf("Lookup() error: %v", err)
		}
		if info == nil {
			t.Fatal("expected a hit")
		}
		if info.Name != "Alice" || info.Source != SourceContacts || info.ContactID != 7 {
			t.Errorf("info = %+v", info)
		}
		if info.Presentation != telephony.PresentationAllowed {
			t.Errorf("presentation = %v", info.Presentation)
		}
		if finder.queried != "5551234" {
			t.Errorf("queried %q", finder.queried)
		}
	})

	t.Run("miss", func(t *testing.T) {
		l := NewContactsLookup(&fakeContactFinder{})
		info, err := l.Lookup(context.Background(), "5559999")
		if err != nil {
			t.Fatalf("Lookup() error: %v", err)
		}
		if info != nil {
			t.Errorf("expected miss, got %+v", info)
		}
	})

	t.Run("store error", func(t *testing.T) {
		l := NewContactsLookup(&fakeContactFinder{err: errors.New("db locked")})
		_, err := l.Lookup(context.Background(), "5551234")
		if err == nil {
			t.Fatal("expected error")
		}
	})
}

type fakeNameService struct {
	name       string
	err        error
	configured bool
	queried    string
}

func (f *fakeNameService) LookupName(_ context.Context, number string) (string, error) {
	f.queried = number
	return f.name, f.err
}

func (f *fakeNameService) Configured() bool { return f.configured }

func TestDirectoryLookup(t *testing.T) {
	t.Run("hit", func(t *testing.T) {
		svc := &fakeNameService{name: "ACME Widgets", configured: true}
		l := NewDirectoryLookup(svc)

		info, err := l.Lookup(context.Background(), "+61400000000")
		if err != nil {
			t.Fatalf("Lookup() error: %v", err)
		}
		if info == nil || info.Name != "ACME Widgets" || info.Source != SourceDirectory {
			t.Fatalf("info = %+v", info)
		}
		if info.ContactID != 0 {
			t.Errorf("directory hit carries a contact ID: %d", info.ContactID)
		}
	})

	t.Run("miss", func(t *testing.T) {
		l := NewDirectoryLookup(&fakeNameService{configured: true})
		info, err := l.Lookup(context.Background(), "5551234")
		if err != nil || info != nil {
			t.Errorf("Lookup() = %+v, %v", info, err)
		}
	})

	t.Run("unconfigured gateway never queries", func(t *testing.T) {
		svc := &fakeNameService{name: "Should Not Appear"}
		l := NewDirectoryLookup(svc)
		info, err := l.Lookup(context.Background(), "5551234")
		if err != nil || info != nil {
			t.Errorf("Lookup() = %+v, %v", info, err)
		}
		if svc.queried != "" {
			t.Error("gateway was queried while unconfigured")
		}
	})

	t.Run("gateway error", func(t *testing.T) {
		l := NewDirectoryLookup(&fakeNameService{configured: true, err: errors.New("timeout")})
		_, err := l.Lookup(context.Background(), "5551234")
		if err == nil {
			t.Fatal("expected error")
		}
	})
}
