// Package identity resolves campus identities for the booking services and
// the HTTP layer.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/example/campus-facilities/internal/application"
	"github.com/example/campus-facilities/internal/persistence"
)

// ProfileDirectory resolves identities from the mirrored profiles table.
//
// VerifyToken treats the bearer token as a user ID. It is meant for local
// development and tests where no identity service is available.
type ProfileDirectory struct {
	profiles persistence.ProfileRepository
}

// NewProfileDirectory wraps the profile repository.
func NewProfileDirectory(profiles persistence.ProfileRepository) *ProfileDirectory {
	return &ProfileDirectory{profiles: profiles}
}

var _ application.IdentityProvider = (*ProfileDirectory)(nil)

// LookupIdentity returns the profile of userID or application.ErrNotFound.
func (d *ProfileDirectory) LookupIdentity(ctx context.Context, userID string) (application.Identity, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return application.Identity{}, application.ErrUnauthenticated
	}

	profile, err := d.profiles.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return application.Identity{}, fmt.Errorf("%w: profile %s", application.ErrNotFound, userID)
		}
		return application.Identity{}, err
	}
	return application.Identity{
		UserID:     profile.UserID,
		FullName:   profile.FullName,
		ExternalID: profile.ExternalID,
		Email:      profile.Email,
		Role:       profile.Role,
	}, nil
}

// VerifyToken resolves token as a user ID. Unknown users are unauthenticated.
func (d *ProfileDirectory) VerifyToken(ctx context.Context, token string) (application.Identity, error) {
	identity, err := d.LookupIdentity(ctx, token)
	if errors.Is(err, application.ErrNotFound) {
		return application.Identity{}, fmt.Errorf("%w: unknown user", application.ErrUnauthenticated)
	}
	return identity, err
}
