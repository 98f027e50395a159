package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerGenerateAndParse(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Generate("documents/team-1/2026/10/doc-1/report.pdf", 0)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 2*time.Second)

	key, parsedExpiry, err := signer.Parse(token, false)
	require.NoError(t, err)
	require.Equal(t, "documents/team-1/2026/10/doc-1/report.pdf", key)
	require.WithinDuration(t, expiresAt, parsedExpiry, time.Second)
}

func TestSignedURLSignerExpired(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Generate("a/b.bin", -time.Minute)
	require.NoError(t, err)

	// a negative ttl falls back to the signer default, so force expiry by hand
	parts := strings.Split(token, ".")
	expired := strings.Join([]string{parts[0], "1", signer.sign(parts[0], "1")}, ".")

	_, _, err = signer.Parse(expired, false)
	require.Error(t, err)

	key, _, err := signer.Parse(expired, true)
	require.NoError(t, err)
	require.Equal(t, "a/b.bin", key)
}

func TestSignedURLSignerRejectsTampering(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Generate("a/b.bin", 0)
	require.NoError(t, err)

	other := NewSignedURLSigner("other", time.Hour)
	_, _, err = other.Parse(token, false)
	require.Error(t, err)

	_, _, err = signer.Parse("garbage", false)
	require.Error(t, err)
}
