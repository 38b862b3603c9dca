// Package directory resolves Ranger personnel records from an external
// source of truth. The server never writes personnel data; it reads
// Rangers (handles, emails, credentials, position membership) through a
// Provider and layers caching on top so a directory outage degrades
// reads instead of failing them.
package directory

import (
	"context"
	"errors"
	"strings"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/ims"
)

var (
	// ErrNoSuchUser is returned when a lookup matches no Ranger.
	ErrNoSuchUser = errors.New("no such user")

	// ErrUnavailable is returned when the personnel backend cannot be
	// reached and no cached snapshot exists to serve instead.
	ErrUnavailable = errors.New("personnel directory unavailable")
)

// Provider is a read-only personnel directory backend.
type Provider interface {
	// Personnel returns every known Ranger.
	Personnel(ctx context.Context) ([]ims.Ranger, error)

	// LookupUser finds a Ranger by handle or email address,
	// case-insensitively. Returns ErrNoSuchUser when nothing matches.
	LookupUser(ctx context.Context, searchTerm string) (*ims.Ranger, error)
}

// lookupIn is the shared search rule: handle first, then email, both
// case-insensitive. Backends without native search delegate to it.
func lookupIn(rangers []ims.Ranger, searchTerm string) (*ims.Ranger, error) {
	for i := range rangers {
		if strings.EqualFold(rangers[i].Handle, searchTerm) {
			out := rangers[i]

			return &out, nil
		}
	}

	for i := range rangers {
		for _, email := range rangers[i].Email {
			if strings.EqualFold(email, searchTerm) {
				out := rangers[i]

				return &out, nil
			}
		}
	}

	return nil, ErrNoSuchUser
}
