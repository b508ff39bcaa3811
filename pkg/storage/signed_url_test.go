package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerGenerateAndParse(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Generate("job-1", "averages_C1_2024-2025.csv")
	require.NoError(t, err)
	require.False(t, expiresAt.IsZero())

	jobID, path, parsedExpiry, err := signer.Parse(token, false)
	require.NoError(t, err)
	require.Equal(t, "job-1", jobID)
	require.Equal(t, "averages_C1_2024-2025.csv", path)
	require.True(t, expiresAt.Equal(parsedExpiry))
}

func TestSignedURLSignerExpired(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Minute)
	token, _, err := signer.Generate("job-1", "promotions_C1.pdf")
	require.NoError(t, err)
	signer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, _, _, err = signer.Parse(token, false)
	require.ErrorIs(t, err, ErrTokenExpired)

	jobID, path, _, err := signer.Parse(token, true)
	require.NoError(t, err)
	require.Equal(t, "job-1", jobID)
	require.Equal(t, "promotions_C1.pdf", path)
}

func TestSignedURLSignerRejectsTampering(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Generate("job-1", "a.csv")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	parts[0] = "job-2"
	_, _, _, err = signer.Parse(strings.Join(parts, "."), false)
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, _, _, err = NewSignedURLSigner("other", time.Hour).Parse(token, false)
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, _, _, err = signer.Parse("garbage", false)
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, _, err = NewSignedURLSigner("", time.Hour).Generate("job-1", "a.csv")
	require.Error(t, err)
}
