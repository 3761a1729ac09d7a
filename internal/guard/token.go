package guard

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/medforge/casgen/internal/domain"
)

// tokenClaims carries the key's identity and limits so token requests skip
// the database.
type tokenClaims struct {
	Label  string   `json:"label,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
	Rate   int      `json:"rate,omitempty"`
	jwt.RegisteredClaims
}

// MintToken exchanges a raw API key for a signed bearer token. The token
// carries the key's scopes and rate override and expires after the
// configured TTL.
func (g *Guard) MintToken(ctx context.Context, rawKey string) (string, time.Time, error) {
	p, err := g.VerifyKey(ctx, rawKey)
	if err != nil {
		return "", time.Time{}, err
	}

	now := time.Now()
	expires := now.Add(g.Config.TokenTTL)
	claims := &tokenClaims{
		Label:  p.Label,
		Scopes: p.Scopes,
		Rate:   p.RatePerMinute,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.KeyID,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(g.secret)
	if err != nil {
		return "", time.Time{}, domain.WrapEngineError(domain.ErrTokenInvalid.Code, "signing token", err)
	}
	return signed, expires, nil
}

// VerifyToken authenticates a bearer token minted by MintToken.
func (g *Guard) VerifyToken(raw string) (*Principal, error) {
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrTokenInvalid
		}
		return g.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, domain.ErrTokenInvalid
	}
	if !token.Valid || claims.Subject == "" {
		return nil, domain.ErrTokenInvalid
	}
	return &Principal{
		KeyID:         claims.Subject,
		Label:         claims.Label,
		Scopes:        claims.Scopes,
		RatePerMinute: claims.Rate,
	}, nil
}
