package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrTokenInvalid is returned for tokens that cannot be decoded or fail
	// signature, expiry, issuer or audience validation.
	ErrTokenInvalid = errors.New("JWT invalid")
	// ErrTokenMissingID is returned for valid tokens without a jti claim.
	ErrTokenMissingID = errors.New("JWT ID missing")
	// ErrTokenReused is returned when a token is redeemed a second time.
	ErrTokenReused = errors.New("JWT ID already used")
)

// DefaultTokenTTL is the lifetime of issued tokens.
const DefaultTokenTTL = 15 * time.Minute

// Claims represents the claims in our JWT tokens.
type Claims struct {
	jwt.RegisteredClaims
}

// UsedTokenStore remembers redeemed token IDs.
type UsedTokenStore interface {
	// MarkUsed records id as used until expiresAt. It returns false if the id
	// was already recorded. Implementations must make the check and the
	// insertion atomic.
	MarkUsed(ctx context.Context, id string, expiresAt time.Time) (bool, error)
	// Purge forgets ids whose tokens expired before now.
	Purge(ctx context.Context, now time.Time) (int, error)
}

// TokenConfig configures a TokenService.
type TokenConfig struct {
	Secret    string
	Algorithm string
	Issuer    string
	Audience  string
	TTL       time.Duration
}

// TokenService issues and redeems single-use tokens.
type TokenService struct {
	secret   []byte
	method   jwt.SigningMethod
	issuer   string
	audience string
	ttl      time.Duration
	store    UsedTokenStore
	now      func() time.Time
}

// NewTokenService creates a token service backed by store.
func NewTokenService(cfg TokenConfig, store UsedTokenStore) (*TokenService, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token secret is required")
	}
	alg := cfg.Algorithm
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported signing algorithm %q", alg)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	return &TokenService{
		secret:   []byte(cfg.Secret),
		method:   method,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      ttl,
		store:    store,
		now:      time.Now,
	}, nil
}

// Issue generates a fresh token with a random jti.
func (s *TokenService) Issue() (string, error) {
	now := s.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			Issuer:    s.issuer,
		},
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}

	token := jwt.NewWithClaims(s.method, claims)
	return token.SignedString(s.secret)
}

// Validate decodes and validates a token without redeeming it.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// RedeemAndInvalidate validates a token and records its jti so that it can
// never be redeemed again.
func (s *TokenService) RedeemAndInvalidate(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := s.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.ID == "" {
		return nil, ErrTokenMissingID
	}

	expiresAt := s.now().Add(s.ttl)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	fresh, err := s.store.MarkUsed(ctx, claims.ID, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("record token id: %w", err)
	}
	if !fresh {
		return nil, ErrTokenReused
	}
	return claims, nil
}
