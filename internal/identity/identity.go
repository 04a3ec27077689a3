package identity

import (
	"github.com/golang-jwt/jwt/v5"

	"learnhub-chat/internal/domain"
	apperrors "learnhub-chat/pkg/errors"
)

// Provider yields the current user's identity snapshot. Authentication and
// token refresh live with the auth collaborator; chat only reads identity.
type Provider interface {
	CurrentUser() (domain.Participant, error)
}

// StaticProvider returns a fixed participant. Used in tests and by hosts
// that already hold a resolved identity.
type StaticProvider struct {
	User domain.Participant
}

// Static wraps a participant in a Provider
func Static(user domain.Participant) *StaticProvider {
	return &StaticProvider{User: user}
}

// CurrentUser implements Provider
func (p *StaticProvider) CurrentUser() (domain.Participant, error) {
	if p.User.ID == "" {
		return domain.Participant{}, apperrors.InvalidParticipant("identity has no user id")
	}
	return p.User, nil
}

// TokenProvider derives identity from an access token's claims. The token
// signature is NOT verified here - verification is the auth collaborator's
// job; the chat engine only needs the identity fields.
type TokenProvider struct {
	raw string
}

// FromToken builds a provider around a raw access token
func FromToken(raw string) *TokenProvider {
	return &TokenProvider{raw: raw}
}

// CurrentUser parses the token claims into a participant snapshot
func (p *TokenProvider) CurrentUser() (domain.Participant, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()

	if _, _, err := parser.ParseUnverified(p.raw, claims); err != nil {
		return domain.Participant{}, apperrors.InvalidParticipant("malformed access token")
	}

	user := domain.Participant{
		ID:          stringClaim(claims, "sub"),
		DisplayName: stringClaim(claims, "name"),
		AvatarURL:   stringClaim(claims, "picture"),
		Email:       stringClaim(claims, "email"),
	}

	if user.ID == "" {
		return domain.Participant{}, apperrors.InvalidParticipant("access token has no subject")
	}

	return user, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
