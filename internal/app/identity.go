package app

import (
	"fmt"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"

	"github.com/huddlekit/huddle/internal/domain"
)

// Claims is the token payload issued by the account service.
type Claims struct {
	Key      string `json:"key,omitempty"`
	Name     string `json:"name,omitempty"`
	Admin    bool   `json:"admin,omitempty"`
	SID      string `json:"sid,omitempty"`
	ClientID string `json:"client,omitempty"`
	jwt.RegisteredClaims
}

// IdentityResolver derives a stable (userKey, userId, displayName) triple
// from an authenticated token plus an optional display-name override.
// Stateless; resolution never mutates anything.
type IdentityResolver struct {
	secret []byte
}

func NewIdentityResolver(secret string) *IdentityResolver {
	return &IdentityResolver{secret: []byte(secret)}
}

// Resolve validates the token and builds the identity. declaredSID is the
// session id the client claims to be; a conflict with the token's own
// session id is rejected so a stale tab cannot impersonate a newer session.
func (r *IdentityResolver) Resolve(tokenString, declaredSID, nameOverride string) (domain.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return domain.Identity{}, ErrAuthentication
	}
	if declaredSID != "" && claims.SID != "" && declaredSID != claims.SID {
		return domain.Identity{}, ErrSessionMismatch
	}

	key := claims.Key
	if key == "" {
		key = claims.Subject
	}
	name := nameOverride
	if name == "" {
		name = claims.Name
	}
	if name == "" {
		name = "guest"
	}
	if len(name) > domain.MaxDisplayNameLen {
		name = truncateName(name, domain.MaxDisplayNameLen)
	}

	return domain.Identity{
		Key:         domain.UserKey(key),
		UserID:      domain.UserID(claims.Subject),
		SessionID:   domain.SessionID(claims.SID),
		DisplayName: name,
		Admin:       claims.Admin,
		ClientID:    domain.ClientID(claims.ClientID),
	}, nil
}

// truncateName cuts to at most max bytes without splitting a rune.
func truncateName(name string, max int) string {
	cut := max
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}
