package integration

import (
	"maps"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestClaims holds the configurable claims for generating test JWT tokens.
type TestClaims struct {
	SubjectID string
	Roles     []string
	Extra     map[string]any
}

// tokenIssuer signs HS256 tokens with a shared secret.
type tokenIssuer struct {
	secret   []byte
	issuer   string
	audience string
}

func newTokenIssuer() *tokenIssuer {
	return &tokenIssuer{
		secret:   []byte("integration-signing-secret"),
		issuer:   "https://auth.lot.test",
		audience: "vehicleflow-test",
	}
}

func (ti *tokenIssuer) claims(c TestClaims, issuedAt, expires time.Time) jwt.MapClaims {
	mapClaims := jwt.MapClaims{
		"iss": ti.issuer,
		"aud": ti.audience,
		"iat": jwt.NewNumericDate(issuedAt),
		"exp": jwt.NewNumericDate(expires),
		"sub": c.SubjectID,
	}
	if len(c.Roles) > 0 {
		// Stored as []any to match JWT decode behavior.
		roles := make([]any, len(c.Roles))
		for i, r := range c.Roles {
			roles[i] = r
		}
		mapClaims["roles"] = roles
	}
	maps.Copy(mapClaims, c.Extra)
	return mapClaims
}

func (ti *tokenIssuer) sign(method jwt.SigningMethod, key []byte, claims jwt.MapClaims) string {
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		panic("sign JWT: " + err.Error())
	}
	return signed
}

// GenerateToken creates a valid, signed JWT token with the given claims.
func (ti *tokenIssuer) GenerateToken(c TestClaims) string {
	now := time.Now()
	return ti.sign(jwt.SigningMethodHS256, ti.secret, ti.claims(c, now, now.Add(time.Hour)))
}

// GenerateExpiredToken creates a JWT token that expired in the past.
func (ti *tokenIssuer) GenerateExpiredToken(c TestClaims) string {
	now := time.Now()
	return ti.sign(jwt.SigningMethodHS256, ti.secret, ti.claims(c, now.Add(-2*time.Hour), now.Add(-time.Hour)))
}

// GenerateForeignToken creates an otherwise valid token signed with a
// different secret.
func (ti *tokenIssuer) GenerateForeignToken(c TestClaims) string {
	now := time.Now()
	return ti.sign(jwt.SigningMethodHS256, []byte("someone-elses-secret"), ti.claims(c, now, now.Add(time.Hour)))
}
