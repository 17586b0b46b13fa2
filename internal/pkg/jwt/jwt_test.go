package jwt

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken("u1", []byte("k"), time.Minute)
	require.NoError(t, err)
	claims, err := ParseToken(token, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, "u1", claims.UserID)

	_, err = ParseToken(token, []byte("other"))
	require.Error(t, err)

	expired, err := GenerateToken("u1", []byte("k"), -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(expired, []byte("k"))
	require.Error(t, err)
}

func TestTokenIssuerAndUser(t *testing.T) {
	_, err := GenerateToken("  ", []byte("k"), time.Minute)
	require.ErrorIs(t, err, ErrEmptyUser)

	token, err := GenerateToken("annotator-7", []byte("k"), time.Minute)
	require.NoError(t, err)
	claims, err := ParseToken(token, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, Issuer, claims.Issuer)
	require.Equal(t, "annotator-7", claims.Subject)

	foreign := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, Claims{
		UserID:           "annotator-7",
		RegisteredClaims: jwtlib.RegisteredClaims{Issuer: "elsewhere", ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Minute))},
	})
	signed, err := foreign.SignedString([]byte("k"))
	require.NoError(t, err)
	_, err = ParseToken(signed, []byte("k"))
	require.Error(t, err)
}
