package auth

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService(testSecret, nil)
	require.NoError(t, err)
	return ts
}

func sampleInput() ClaimsInput {
	return ClaimsInput{
		SubjectID:          "user-42",
		TenantID:           "tenant-a",
		TenantUserID:       "tu-7",
		Email:              "cashier@example.com",
		Role:               RoleSalesperson,
		AccessibleStoreIDs: []string{"store-1", "store-2"},
		SessionID:          "sess-1",
	}
}

func TestNewTokenService_RejectsWeakSecret(t *testing.T) {
	ts, err := NewTokenService([]byte("short"), nil)
	assert.ErrorIs(t, err, ErrWeakSecret)
	assert.Nil(t, ts)
}

func TestTokenService_RoundTrip(t *testing.T) {
	ts := newTestTokenService(t)
	fixed := time.Date(2026, 3, 1, 9, 30, 15, 500, time.UTC)
	ts.now = func() time.Time { return fixed }

	token, issued, err := ts.Generate(sampleInput())
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3)

	claims, err := ts.Validate(token)
	require.NoError(t, err)

	assert.Equal(t, issued, claims)
	assert.Equal(t, "user-42", claims.SubjectID)
	assert.Equal(t, "tenant-a", claims.TenantID)
	assert.Equal(t, "tu-7", claims.TenantUserID)
	assert.Equal(t, RoleSalesperson, claims.Role)
	assert.Equal(t, []string{"store-1", "store-2"}, claims.AccessibleStoreIDs)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.Equal(t, fixed.Truncate(time.Second), claims.IssuedAt)
	assert.Equal(t, 8*time.Hour, claims.ExpiresAt.Sub(claims.IssuedAt))
	assert.True(t, claims.IsMultiTenant())
}

func TestTokenService_GenerateMintsSessionID(t *testing.T) {
	ts := newTestTokenService(t)
	in := sampleInput()
	in.SessionID = ""

	_, claims, err := ts.Generate(in)
	require.NoError(t, err)
	assert.NotEmpty(t, claims.SessionID)
}

func TestTokenService_GenerateValidation(t *testing.T) {
	ts := newTestTokenService(t)

	t.Run("missing subject", func(t *testing.T) {
		in := sampleInput()
		in.SubjectID = ""
		_, _, err := ts.Generate(in)
		assert.ErrorIs(t, err, ErrMissingSubject)
	})

	t.Run("unknown role", func(t *testing.T) {
		in := sampleInput()
		in.Role = "superuser"
		_, _, err := ts.Generate(in)
		assert.ErrorIs(t, err, ErrUnknownRole)
	})
}

func TestTokenService_TamperedPayload(t *testing.T) {
	ts := newTestTokenService(t)
	token, _, err := ts.Generate(sampleInput())
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)

	// Flip every bit of every byte, one at a time, keeping the original signature.
	for i := range payload {
		for bit := 0; bit < 8; bit++ {
			mutated := append([]byte(nil), payload...)
			mutated[i] ^= 1 << bit
			forged := parts[0] + "." + base64.RawURLEncoding.EncodeToString(mutated) + "." + parts[2]

			claims, err := ts.Validate(forged)
			if !assert.ErrorIs(t, err, ErrInvalidToken, "byte %d bit %d", i, bit) {
				return
			}
			assert.Nil(t, claims)
		}
	}
}

func TestTokenService_TamperedClaimValues(t *testing.T) {
	ts := newTestTokenService(t)
	token, _, err := ts.Generate(sampleInput())
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)

	replacements := map[string][2]string{
		"tenant id":  {`"tenant_id":"tenant-a"`, `"tenant_id":"tenant-b"`},
		"subject id": {`"sub":"user-42"`, `"sub":"user-43"`},
		"role":       {`"role":"salesperson"`, `"role":"owner"`},
		"store list": {`"stores":["store-1","store-2"]`, `"stores":["store-1","store-9"]`},
	}

	for name, r := range replacements {
		t.Run(name, func(t *testing.T) {
			require.Contains(t, string(payload), r[0])
			mutated := strings.Replace(string(payload), r[0], r[1], 1)
			forged := parts[0] + "." + base64.RawURLEncoding.EncodeToString([]byte(mutated)) + "." + parts[2]

			claims, err := ts.Validate(forged)
			assert.ErrorIs(t, err, ErrInvalidToken)
			assert.Nil(t, claims)
		})
	}
}

func TestTokenService_Expired(t *testing.T) {
	ts := newTestTokenService(t)
	ts.now = func() time.Time { return time.Now().Add(-9 * time.Hour) }

	token, _, err := ts.Generate(sampleInput())
	require.NoError(t, err)

	ts.now = time.Now
	claims, err := ts.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Nil(t, claims)
}

func TestTokenService_ExpiryBoundary(t *testing.T) {
	ts := newTestTokenService(t)
	fixed := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	ts.now = func() time.Time { return fixed }

	token, issued, err := ts.Generate(sampleInput())
	require.NoError(t, err)

	tests := []struct {
		name  string
		now   time.Time
		valid bool
	}{
		{name: "one second before expiry", now: issued.ExpiresAt.Add(-time.Second), valid: true},
		{name: "at expiry", now: issued.ExpiresAt, valid: true},
		{name: "just after expiry", now: issued.ExpiresAt.Add(time.Nanosecond), valid: false},
		{name: "one second after expiry", now: issued.ExpiresAt.Add(time.Second), valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts.now = func() time.Time { return tt.now }
			claims, err := ts.Validate(token)
			if tt.valid {
				require.NoError(t, err)
				assert.Equal(t, issued.ExpiresAt, claims.ExpiresAt)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidToken)
			assert.Nil(t, claims)
		})
	}
}

func TestTokenService_WrongSecret(t *testing.T) {
	issuer := newTestTokenService(t)
	token, _, err := issuer.Generate(sampleInput())
	require.NoError(t, err)

	other, err := NewTokenService([]byte("ffffffffffffffffffffffffffffffff"), nil)
	require.NoError(t, err)

	_, err = other.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_Malformed(t *testing.T) {
	ts := newTestTokenService(t)

	tests := []string{
		"",
		"abc",
		"a.b",
		"a.b.c.d",
		"!!!.???.###",
	}
	for _, token := range tests {
		t.Run(token, func(t *testing.T) {
			claims, err := ts.Validate(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
			assert.Nil(t, claims)
		})
	}
}

func TestTokenService_RejectsNoneAndOtherAlgorithms(t *testing.T) {
	ts := newTestTokenService(t)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub":       "user-42",
		"tenant_id": "tenant-a",
		"role":      "owner",
		"exp":       time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ts.Validate(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub":       "user-42",
		"tenant_id": "tenant-a",
		"role":      "owner",
		"exp":       time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	require.NoError(t, err)

	_, err = ts.Validate(hs512)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_RejectsUnknownRole(t *testing.T) {
	ts := newTestTokenService(t)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":       "user-42",
		"tenant_id": "tenant-a",
		"role":      "admin",
		"stores":    []string{},
		"iat":       time.Now().Unix(),
		"exp":       time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	require.NoError(t, err)

	_, err = ts.Validate(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_RequiresExpiry(t *testing.T) {
	ts := newTestTokenService(t)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":       "user-42",
		"tenant_id": "tenant-a",
		"role":      "owner",
	}).SignedString(testSecret)
	require.NoError(t, err)

	_, err = ts.Validate(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_LegacyPayload(t *testing.T) {
	ts := newTestTokenService(t)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId":   "legacy-user",
		"tenantId": "legacy-tenant",
		"email":    "old@example.com",
		"role":     "store_manager",
		"iat":      time.Now().Unix(),
		"exp":      time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	require.NoError(t, err)

	claims, err := ts.Validate(signed)
	require.NoError(t, err)

	assert.Equal(t, "legacy-user", claims.SubjectID)
	assert.Equal(t, "legacy-tenant", claims.LegacyTenantID)
	assert.Empty(t, claims.TenantID)
	assert.False(t, claims.IsMultiTenant())
	assert.False(t, IsMultiTenant(claims))
	assert.Equal(t, RoleStoreManager, claims.Role)
}

func TestTokenService_TenantsNeverCross(t *testing.T) {
	ts := newTestTokenService(t)

	inA := sampleInput()
	inA.TenantID = "tenant-A"
	inB := sampleInput()
	inB.TenantID = "tenant-B"

	tokenA, _, err := ts.Generate(inA)
	require.NoError(t, err)
	tokenB, _, err := ts.Generate(inB)
	require.NoError(t, err)

	claimsA, err := ts.Validate(tokenA)
	require.NoError(t, err)
	claimsB, err := ts.Validate(tokenB)
	require.NoError(t, err)

	assert.Equal(t, "tenant-A", claimsA.TenantID)
	assert.Equal(t, "tenant-B", claimsB.TenantID)
	assert.Equal(t, claimsA.SubjectID, claimsB.SubjectID)
}

func TestTokenClaims_Helpers(t *testing.T) {
	claims := &TokenClaims{AccessibleStoreIDs: []string{"s1", "s2"}}

	assert.True(t, claims.HasStore("s1"))
	assert.False(t, claims.HasStore("s3"))
	assert.False(t, claims.HasStore(""))

	stores := claims.Stores()
	stores[0] = "changed"
	assert.Equal(t, "s1", claims.AccessibleStoreIDs[0])

	var nilClaims *TokenClaims
	assert.False(t, nilClaims.IsMultiTenant())
	assert.False(t, nilClaims.HasStore("s1"))
	assert.Nil(t, nilClaims.Stores())
}
