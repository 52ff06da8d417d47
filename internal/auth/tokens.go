package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/lestrrat-go/jwx/v2/jws"

	"github.com/noah-isme/backend-properti/internal/common"
)

const (
	claimOrg   = "org"
	claimRoles = "roles"
)

// Claims carries the identity information extracted from an access token.
type Claims struct {
	UserID string
	OrgID  string
	Roles  []string
}

// TokenService parses and mints HS256 access tokens. Identity management
// itself lives in a separate service; this API only consumes its tokens.
type TokenService struct {
	secret    []byte
	issuer    string
	audience  string
	accessTTL time.Duration
	clockSkew time.Duration
	validator TokenValidator
	now       func() time.Time
}

// TokenConfig wires the token service parameters.
type TokenConfig struct {
	Secret    string
	Issuer    string
	Audience  string
	AccessTTL time.Duration
	ClockSkew time.Duration
	Now       func() time.Time
}

// NewTokenService validates the configuration and returns a TokenService.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("auth: secret is required")
	}
	ttl := cfg.AccessTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &TokenService{
		secret:    []byte(cfg.Secret),
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		accessTTL: ttl,
		clockSkew: cfg.ClockSkew,
		validator: TokenValidator{
			Issuer:    cfg.Issuer,
			Audience:  cfg.Audience,
			ClockSkew: cfg.ClockSkew,
			Algorithm: jwa.HS256,
		},
		now: now,
	}, nil
}

// ParseAccessToken validates an access token and returns its claims.
func (s *TokenService) ParseAccessToken(token string) (Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Claims{}, common.NewAppError("UNAUTHORIZED", "missing token", 401, nil)
	}
	algorithm, err := extractTokenAlgorithm(trimmed)
	if err != nil {
		return Claims{}, common.NewAppError("UNAUTHORIZED", "invalid token", 401, err)
	}
	if s.validator.Algorithm != "" && algorithm != s.validator.Algorithm {
		return Claims{}, common.NewAppError("UNAUTHORIZED", "invalid token", 401, fmt.Errorf("unexpected token algorithm %s", algorithm))
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(algorithm, s.secret))
	if err != nil {
		return Claims{}, common.NewAppError("UNAUTHORIZED", "invalid token", 401, err)
	}
	if err := s.validator.Validate(parsed, algorithm, s.now()); err != nil {
		return Claims{}, common.NewAppError("UNAUTHORIZED", "invalid token", 401, err)
	}
	claims := Claims{UserID: parsed.Subject()}
	if raw, ok := parsed.Get(claimOrg); ok {
		if orgID, ok := raw.(string); ok {
			claims.OrgID = strings.TrimSpace(orgID)
		}
	}
	if raw, ok := parsed.Get(claimRoles); ok {
		claims.Roles = toStringSlice(raw)
	}
	return claims, nil
}

// MintAccessToken signs an access token for the given identity.
func (s *TokenService) MintAccessToken(userID, orgID string, roles []string) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.accessTTL)
	builder := jwt.NewBuilder().
		Subject(userID).
		Issuer(s.issuer).
		Audience([]string{s.audience}).
		IssuedAt(now).
		NotBefore(now.Add(-s.clockSkew)).
		Expiration(expiresAt).
		Claim(claimOrg, orgID).
		Claim(claimRoles, roles)
	token, err := builder.Build()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, s.secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return string(signed), expiresAt, nil
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) == 0 {
		return "", errors.New("auth: token contains no signatures")
	}
	var algorithm jwa.SignatureAlgorithm
	for _, sig := range signatures {
		headers := sig.ProtectedHeaders()
		if headers == nil {
			return "", errors.New("auth: token missing protected headers")
		}
		alg := headers.Algorithm()
		if alg == "" {
			return "", errors.New("auth: token missing algorithm")
		}
		if alg == jwa.NoSignature {
			return "", errors.New("auth: token uses none algorithm")
		}
		if algorithm == "" {
			algorithm = alg
		} else if algorithm != alg {
			return "", fmt.Errorf("auth: mixed token algorithms detected")
		}
	}
	return algorithm, nil
}

func toStringSlice(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
