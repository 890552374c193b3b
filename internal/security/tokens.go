package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"authplane/internal/clock"
)

var (
	// ErrInvalidToken is returned when a token is malformed, unsigned by an
	// accepted key, or otherwise fails verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned when a well-signed token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
)

// AccessClaims holds JWT claims for the access token. Subject is the user id.
// Generation records the session's refresh generation at issuance; it is never
// checked against the store (access tokens are stateless by design).
type AccessClaims struct {
	jwt.RegisteredClaims
	SessionID  string `json:"session_id"`
	Generation int64  `json:"gen"`
}

// RefreshClaims holds JWT claims for the refresh token. Generation binds the
// token to one rotation step of its session; the store accepts it only while
// it is the session's current generation.
type RefreshClaims struct {
	jwt.RegisteredClaims
	SessionID  string `json:"session_id"`
	Generation int64  `json:"gen"`
}

// TokenProvider issues and validates JWT access and refresh tokens using
// RS256 or ES256. It signs with a single private key and verifies against an
// ordered list of accepted public keys, so an old key keeps verifying
// outstanding tokens during a key rollover while new tokens carry the new
// signature.
type TokenProvider struct {
	privateKey crypto.Signer
	verifyKeys []crypto.PublicKey
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	clock      clock.Clock
}

// NewTokenProvider returns a TokenProvider that signs with privateKey and
// verifies against verifyKeys (newest first; must include privateKey's public
// key). clk drives issuance timestamps and expiry checks; pass clock.System{}
// outside tests.
func NewTokenProvider(privateKey crypto.Signer, verifyKeys []crypto.PublicKey, issuer, audience string, accessTTL, refreshTTL time.Duration, clk clock.Clock) *TokenProvider {
	if clk == nil {
		clk = clock.System{}
	}
	return &TokenProvider{
		privateKey: privateKey,
		verifyKeys: verifyKeys,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		clock:      clk,
	}
}

// IssueAccess issues a short-lived access JWT for the given session, user, and
// refresh generation. Returns the token string and its expiration time.
func (p *TokenProvider) IssueAccess(sessionID, userID string, generation int64) (token string, expiresAt time.Time, err error) {
	now := p.clock.Now()
	expiresAt = now.Add(p.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		SessionID:  sessionID,
		Generation: generation,
	}
	token, err = p.sign(claims)
	return token, expiresAt, err
}

// IssueRefresh issues a long-lived refresh JWT bound to the given session
// generation. The store accepts the token only while that generation is the
// session's current one, so each refresh permanently invalidates its
// predecessor.
func (p *TokenProvider) IssueRefresh(sessionID, userID string, generation int64) (token string, expiresAt time.Time, err error) {
	now := p.clock.Now()
	expiresAt = now.Add(p.refreshTTL)
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		SessionID:  sessionID,
		Generation: generation,
	}
	token, err = p.sign(claims)
	return token, expiresAt, err
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidToken
	}
	t := jwt.NewWithClaims(method, claims)
	return t.SignedString(p.privateKey)
}

// keyFunc hands the parser the full accepted-key set; it tries each in order.
func (p *TokenProvider) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); ok {
		return p.keySet(), nil
	}
	if _, ok := token.Method.(*jwt.SigningMethodECDSA); ok {
		return p.keySet(), nil
	}
	return nil, ErrInvalidToken
}

func (p *TokenProvider) keySet() jwt.VerificationKeySet {
	keys := make([]jwt.VerificationKey, len(p.verifyKeys))
	for i, k := range p.verifyKeys {
		keys[i] = k
	}
	return jwt.VerificationKeySet{Keys: keys}
}

// ValidateRefresh parses and validates a refresh token. Signature failures and
// malformed input map to ErrInvalidToken before any semantic check; a
// well-signed token past its expiry (per the injected clock) maps to
// ErrTokenExpired. Issuer and audience must match.
func (p *TokenProvider) ValidateRefresh(tokenString string) (*RefreshClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &RefreshClaims{}, p.keyFunc, jwt.WithTimeFunc(p.clock.Now))
	if err != nil {
		return nil, translateParseError(err)
	}
	claims, ok := token.Claims.(*RefreshClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if err := p.checkIssuerAudience(&claims.RegisteredClaims); err != nil {
		return nil, err
	}
	return claims, nil
}

// ValidateAccess parses and validates an access token. Error mapping matches
// ValidateRefresh.
func (p *TokenProvider) ValidateAccess(tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, p.keyFunc, jwt.WithTimeFunc(p.clock.Now))
	if err != nil {
		return nil, translateParseError(err)
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if err := p.checkIssuerAudience(&claims.RegisteredClaims); err != nil {
		return nil, err
	}
	return claims, nil
}

// translateParseError maps jwt parse errors onto the codec's taxonomy.
// Signature and structural failures win over expiry, so a tampered-but-expired
// token reports ErrInvalidToken.
func translateParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidToken
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrInvalidToken
	}
}

func (p *TokenProvider) checkIssuerAudience(claims *jwt.RegisteredClaims) error {
	if claims.Issuer != p.issuer {
		return ErrInvalidToken
	}
	for _, a := range claims.Audience {
		if a == p.audience {
			return nil
		}
	}
	return ErrInvalidToken
}
