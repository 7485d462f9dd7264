package core

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenAudience scopes minted tokens to the redemption flow.
const TokenAudience = "redeem-scope"

// TokenTTL is the validity window of a minted token.
const TokenTTL = 60 * time.Second

// TokenPayload is the decoded content of a verified redemption token.
type TokenPayload struct {
	Subject   string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Codec mints and verifies HS256-signed, audience-scoped, short-lived
// redemption tokens carrying a fresh jti per issuance.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// NewCodec fails when secret is empty: falling back to a baked-in
// default would make every deployment's tokens forgeable.
func NewCodec(secret string, now func() time.Time) (*Codec, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if now == nil {
		now = time.Now
	}
	return &Codec{secret: []byte(secret), now: now}, nil
}

// Mint builds and signs a token for subject. Returns the serialized
// token and its expiry in epoch milliseconds.
func (c *Codec) Mint(subject string) (string, int64, error) {
	now := c.now()
	exp := now.Add(TokenTTL)
	claims := jwt.RegisteredClaims{
		Audience:  jwt.ClaimStrings{TokenAudience},
		Subject:   subject,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", 0, err
	}
	return signed, exp.UnixMilli(), nil
}

// Verify checks signature, signing method, audience, and expiry.
// Failures are expected traffic, not faults: the second return value is
// false and no error escapes.
func (c *Codec) Verify(serialized string) (*TokenPayload, bool) {
	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(serialized, claims,
		func(t *jwt.Token) (interface{}, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(TokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !tok.Valid {
		return nil, false
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, false
	}
	p := &TokenPayload{
		Subject: claims.Subject,
		TokenID: claims.ID,
	}
	if claims.IssuedAt != nil {
		p.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, true
}
