package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MinSecretLength is the minimum HMAC signing secret length in bytes
const MinSecretLength = 32

// wireClaims is the JSON payload of a token. Legacy tokens carry userId and
// tenantId instead of sub and tenant_id.
type wireClaims struct {
	TenantID     string   `json:"tenant_id,omitempty"`
	TenantUserID string   `json:"tenant_user_id,omitempty"`
	Email        string   `json:"email,omitempty"`
	Role         string   `json:"role"`
	Stores       []string `json:"stores"`
	SessionID    string   `json:"session_id,omitempty"`

	LegacyUserID   string `json:"userId,omitempty"`
	LegacyTenantID string `json:"tenantId,omitempty"`

	jwt.RegisteredClaims
}

// TokenService issues and verifies HS256-signed session tokens
type TokenService struct {
	secret []byte
	parser *jwt.Parser
	logger *logrus.Logger
	now    func() time.Time
}

// NewTokenService creates a token service bound to a process-wide signing secret
func NewTokenService(secret []byte, logger *logrus.Logger) (*TokenService, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	ts := &TokenService{
		secret: slices.Clone(secret),
		logger: logger,
		now:    time.Now,
	}
	ts.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		// A token is still valid at exactly its expiry second.
		jwt.WithLeeway(time.Nanosecond),
		jwt.WithTimeFunc(func() time.Time { return ts.now() }),
	)
	return ts, nil
}

// Generate signs a new token for the given claims. The token is valid for
// TokenValidity from now; a session id is minted when none is supplied.
func (ts *TokenService) Generate(in ClaimsInput) (token string, claims *TokenClaims, err error) {
	if in.SubjectID == "" {
		return "", nil, ErrMissingSubject
	}
	if !in.Role.Valid() {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownRole, in.Role)
	}

	sessionID := in.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	stores := slices.Clone(in.AccessibleStoreIDs)
	if stores == nil {
		stores = []string{}
	}

	issuedAt := ts.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(TokenValidity)

	wc := &wireClaims{
		TenantID:     in.TenantID,
		TenantUserID: in.TenantUserID,
		Email:        in.Email,
		Role:         string(in.Role),
		Stores:       stores,
		SessionID:    sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   in.SubjectID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, wc).SignedString(ts.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}

	claims = &TokenClaims{
		SubjectID:          in.SubjectID,
		TenantID:           in.TenantID,
		TenantUserID:       in.TenantUserID,
		Email:              in.Email,
		Role:               in.Role,
		AccessibleStoreIDs: slices.Clone(stores),
		SessionID:          sessionID,
		IssuedAt:           issuedAt,
		ExpiresAt:          expiresAt,
	}

	return signed, claims, nil
}

// Validate verifies a token and returns its claims. The signature over the
// header and payload is checked before any claim is interpreted; every failure
// returns ErrInvalidToken.
func (ts *TokenService) Validate(token string) (*TokenClaims, error) {
	wc := &wireClaims{}
	if _, err := ts.parser.ParseWithClaims(token, wc, ts.keyFunc); err != nil {
		ts.reject(reasonFromJWT(err), err)
		return nil, ErrInvalidToken
	}

	role, err := ParseRole(wc.Role)
	if err != nil {
		ts.reject("unknown_role", err)
		return nil, ErrInvalidToken
	}

	subject := wc.Subject
	if subject == "" {
		subject = wc.LegacyUserID
	}
	if subject == "" {
		ts.reject("missing_subject", nil)
		return nil, ErrInvalidToken
	}

	claims := &TokenClaims{
		SubjectID:          subject,
		TenantID:           wc.TenantID,
		TenantUserID:       wc.TenantUserID,
		Email:              wc.Email,
		Role:               role,
		AccessibleStoreIDs: slices.Clone(wc.Stores),
		SessionID:          wc.SessionID,
		ExpiresAt:          wc.ExpiresAt.Time.UTC(),
	}
	if wc.TenantID == "" {
		claims.LegacyTenantID = wc.LegacyTenantID
	}
	if wc.IssuedAt != nil {
		claims.IssuedAt = wc.IssuedAt.Time.UTC()
		if !claims.ExpiresAt.After(claims.IssuedAt) {
			ts.reject("expiry_before_issue", nil)
			return nil, ErrInvalidToken
		}
	}

	return claims, nil
}

func (ts *TokenService) keyFunc(t *jwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	}
	return ts.secret, nil
}

func (ts *TokenService) reject(reason string, err error) {
	entry := ts.logger.WithField("reason", reason)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Debug("token rejected")
}

func reasonFromJWT(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "bad_signature"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "unverifiable"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "missing_claim"
	default:
		return "invalid"
	}
}
