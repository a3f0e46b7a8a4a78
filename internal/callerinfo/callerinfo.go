// Package callerinfo resolves the identity behind a connection's address
// asynchronously: local contacts first, then the companion gateway's
// caller-name directory, falling back to whatever the network supplied.
package callerinfo

import (
	"context"

	"github.com/dialcore/dialcore/internal/telephony"
)

// Source says where resolved info came from.
type Source int

const (
	// SourceNetwork means no record matched and the network-supplied
	// name/presentation were kept.
	SourceNetwork Source = iota
	// SourceContacts is a local contacts-store match.
	SourceContacts
	// SourceDirectory is a companion-gateway caller-name match.
	SourceDirectory
)

// String returns the source name.
func (s Source) String() string {
	switch s {
	case SourceNetwork:
		return "network"
	case SourceContacts:
		return "contacts"
	case SourceDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// Info is the resolved identity for one connection.
type Info struct {
	Name         string
	Number       string
	Presentation telephony.Presentation
	Source       Source
	ContactID    int64 // local contact row, 0 when the match was not local
}

// Lookup resolves a number to identity info. Implementations run off the
// dispatch queue and must honor the context. A miss is (nil, nil).
type Lookup interface {
	Lookup(ctx context.Context, number string) (*Info, error)
}

// Chain tries each lookup in order and returns the first hit. Errors do
// not stop the chain; the first error is reported only when nothing hits.
type Chain []Lookup

// Lookup implements the Lookup interface over the chain.
func (c Chain) Lookup(ctx context.Context, number string) (*Info, error) {
	var firstErr error
	for _, l := range c {
		info, err := l.Lookup(ctx, number)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if info != nil {
			return info, nil
		}
	}
	return nil, firstErr
}
