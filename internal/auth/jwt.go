package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
	Leeway   time.Duration
}

type tokenClaims struct {
	Tenant string   `json:"tenant"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// JWTValidator accepts HS256 bearer tokens carrying tenant and roles claims.
type JWTValidator struct {
	secret []byte
	parser *jwt.Parser
	logger *slog.Logger
}

func NewJWTValidator(cfg JWTConfig, logger *slog.Logger) (*JWTValidator, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if issuer := strings.TrimSpace(cfg.Issuer); issuer != "" {
		options = append(options, jwt.WithIssuer(issuer))
	}
	if audience := strings.TrimSpace(cfg.Audience); audience != "" {
		options = append(options, jwt.WithAudience(audience))
	}
	return &JWTValidator{secret: []byte(cfg.Secret), parser: jwt.NewParser(options...), logger: logger}, nil
}

func (v *JWTValidator) Validate(ctx context.Context, token string) (Identity, bool) {
	// API keys never contain the two dots of a compact JWS.
	if strings.Count(token, ".") != 2 {
		return Identity{}, false
	}

	claims := &tokenClaims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		v.logger.DebugContext(ctx, "jwt_rejected", slog.Any("error", err))
		return Identity{}, false
	}
	tenant := strings.TrimSpace(claims.Tenant)
	roles := normalizeRoles(claims.Roles)
	if tenant == "" || len(roles) == 0 {
		v.logger.DebugContext(ctx, "jwt_rejected", slog.String("reason", "missing tenant or roles claim"))
		return Identity{}, false
	}
	return Identity{TenantID: tenant, Subject: claims.Subject, Roles: roles, Method: "jwt"}, true
}

// IssueToken signs a token for the given identity. It backs querypilotctl and tests.
func IssueToken(cfg JWTConfig, subject, tenant string, roles []string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return "", fmt.Errorf("jwt secret is required")
	}
	claims := tokenClaims{
		Tenant: tenant,
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
