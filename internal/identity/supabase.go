package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	auth "github.com/supabase-community/auth-go"
	"github.com/supabase-community/auth-go/types"

	"github.com/example/campus-facilities/internal/application"
)

// SupabaseConfig locates the Supabase auth service.
type SupabaseConfig struct {
	// URL is the auth endpoint, e.g. https://<project>.supabase.co/auth/v1.
	URL            string
	AnonKey        string
	ServiceRoleKey string
}

// SupabaseProvider verifies bearer tokens and looks up users through the
// Supabase auth API. Campus profile fields live in user metadata and the role
// in app metadata.
type SupabaseProvider struct {
	client         auth.Client
	serviceRoleKey string
	logger         *slog.Logger
}

// NewSupabaseProvider builds a provider for cfg.
func NewSupabaseProvider(cfg SupabaseConfig, logger *slog.Logger) (*SupabaseProvider, error) {
	if strings.TrimSpace(cfg.URL) == "" || strings.TrimSpace(cfg.AnonKey) == "" {
		return nil, errors.New("identity: supabase url and anon key are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := auth.New("", cfg.AnonKey).WithCustomAuthURL(strings.TrimRight(cfg.URL, "/"))
	return &SupabaseProvider{
		client:         client,
		serviceRoleKey: cfg.ServiceRoleKey,
		logger:         logger,
	}, nil
}

var _ application.IdentityProvider = (*SupabaseProvider)(nil)

// VerifyToken returns the identity owning an access token.
func (p *SupabaseProvider) VerifyToken(ctx context.Context, token string) (application.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return application.Identity{}, application.ErrUnauthenticated
	}

	resp, err := p.client.WithToken(token).GetUser()
	if err != nil {
		if rejected(err) {
			return application.Identity{}, fmt.Errorf("%w: token rejected", application.ErrUnauthenticated)
		}
		return application.Identity{}, fmt.Errorf("identity: verify token: %w", err)
	}
	return toIdentity(resp.User), nil
}

// LookupIdentity fetches a user by ID with the service role key. Without a
// service role key every lookup reports application.ErrNotFound.
func (p *SupabaseProvider) LookupIdentity(ctx context.Context, userID string) (application.Identity, error) {
	if strings.TrimSpace(userID) == "" {
		return application.Identity{}, application.ErrUnauthenticated
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		return application.Identity{}, fmt.Errorf("%w: user %s", application.ErrNotFound, userID)
	}
	if p.serviceRoleKey == "" {
		p.logger.WarnContext(ctx, "supabase admin lookup skipped, no service role key", "user_id", userID)
		return application.Identity{}, fmt.Errorf("%w: user %s", application.ErrNotFound, userID)
	}

	resp, err := p.client.WithToken(p.serviceRoleKey).AdminGetUser(types.AdminGetUserRequest{UserID: id})
	if err != nil {
		if missing(err) {
			return application.Identity{}, fmt.Errorf("%w: user %s", application.ErrNotFound, userID)
		}
		return application.Identity{}, fmt.Errorf("identity: lookup user %s: %w", userID, err)
	}
	return toIdentity(resp.User), nil
}

func toIdentity(user types.User) application.Identity {
	role := metadataString(user.AppMetadata, "role")
	if role == "" {
		role = application.RoleStudent
	}
	return application.Identity{
		UserID:     user.ID.String(),
		FullName:   metadataString(user.UserMetadata, "full_name"),
		ExternalID: metadataString(user.UserMetadata, "external_id"),
		Email:      user.Email,
		Role:       role,
	}
}

func metadataString(metadata map[string]interface{}, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key].(string)
	if !ok {
		return ""
	}
	return value
}

// auth-go reports non-2xx responses as "response status code N: body".
func rejected(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "status code 401") || strings.Contains(msg, "status code 403")
}

func missing(err error) bool {
	return strings.Contains(err.Error(), "status code 404")
}
