package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"apicourse/internal/util"
)

const (
	defaultIssuer   = "apicourse-auth"
	defaultAudience = "apicourse-api"
)

var defaultLeeway = 30 * time.Second

var (
	// ErrInvalidToken covers malformed, expired, and wrongly signed tokens.
	ErrInvalidToken = errors.New("invalid session token")
	// ErrTokenRevoked is returned for tokens blacklisted at logout.
	ErrTokenRevoked = errors.New("session token revoked")
)

// Claims are the validated contents of an access token.
type Claims struct {
	UserID string
	Role   string
	JTI    string
	Expiry time.Time
}

// Options configures claim validation behavior.
type Options struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// TokenStore issues and validates HS256 access tokens.
// Revocation is delegated to an optional Revoker consulted on every Verify.
type TokenStore struct {
	secret   []byte
	ttl      time.Duration
	revoker  Revoker
	issuer   string
	audience string
	leeway   time.Duration
}

// NewTokenStore builds an HS256 token store.
func NewTokenStore(secret string, ttl time.Duration, revoker Revoker, opts Options) (*TokenStore, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) < 16 {
		return nil, errors.New("jwt secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if opts.Issuer == "" {
		opts.Issuer = defaultIssuer
	}
	if opts.Audience == "" {
		opts.Audience = defaultAudience
	}
	if opts.Leeway <= 0 {
		opts.Leeway = defaultLeeway
	}
	return &TokenStore{
		secret:   []byte(secret),
		ttl:      ttl,
		revoker:  revoker,
		issuer:   opts.Issuer,
		audience: opts.Audience,
		leeway:   opts.Leeway,
	}, nil
}

// TTL returns the configured access-token lifetime.
func (s *TokenStore) TTL() time.Duration {
	return s.ttl
}

type tokenClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Issue creates a signed access token for the user.
func (s *TokenStore) Issue(userID, role string) (string, error) {
	now := time.Now().UTC()
	claims := tokenClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        util.NewID(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, checking the revocation list.
func (s *TokenStore) Verify(raw string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithLeeway(s.leeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || claims.Subject == "" || claims.ID == "" {
		return Claims{}, ErrInvalidToken
	}
	if s.revoker != nil {
		revoked, err := s.revoker.IsRevoked(claims.ID)
		if err != nil {
			return Claims{}, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return Claims{}, ErrTokenRevoked
		}
	}
	var expiry time.Time
	if claims.ExpiresAt != nil {
		expiry = claims.ExpiresAt.Time
	}
	return Claims{
		UserID: claims.Subject,
		Role:   claims.Role,
		JTI:    claims.ID,
		Expiry: expiry,
	}, nil
}

// Revoke blacklists the token's jti until its natural expiry.
// Already-invalid tokens are ignored so logout stays idempotent.
func (s *TokenStore) Revoke(raw string) error {
	if s.revoker == nil {
		return errors.New("no revoker configured")
	}
	claims, err := s.Verify(raw)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrTokenRevoked) {
			return nil
		}
		return err
	}
	ttl := time.Until(claims.Expiry)
	if ttl <= 0 {
		return nil
	}
	return s.revoker.Revoke(claims.JTI, ttl+s.leeway)
}
