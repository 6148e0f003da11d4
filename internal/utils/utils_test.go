package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionTokenRoundTrip(t *testing.T) {
	tokens := NewSessionTokens("test-secret", time.Hour)

	token, err := tokens.Generate("p1", "ABCD")
	require.NoError(t, err)

	claims, err := tokens.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "p1", claims.PlayerID)
	assert.Equal(t, "ABCD", claims.RoomID)

	assert.NoError(t, tokens.Verify(token, token, "p1", "ABCD"))
	assert.ErrorIs(t, tokens.Verify(token, token, "p2", "ABCD"), ErrInvalidSessionToken)
	assert.ErrorIs(t, tokens.Verify(token, "other", "p1", "ABCD"), ErrInvalidSessionToken)
}

func TestSessionTokenRejectsOtherSecret(t *testing.T) {
	token, err := NewSessionTokens("one", time.Hour).Generate("p1", "ABCD")
	require.NoError(t, err)

	_, err = NewSessionTokens("two", time.Hour).Parse(token)
	assert.ErrorIs(t, err, ErrInvalidSessionToken)
}

func TestSessionTokenExpires(t *testing.T) {
	tokens := NewSessionTokens("s", time.Minute)
	tokens.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, err := tokens.Generate("p1", "ABCD")
	require.NoError(t, err)

	_, err = NewSessionTokens("s", time.Minute).Parse(token)
	assert.ErrorIs(t, err, ErrInvalidSessionToken)
}

func TestTokensAreUnique(t *testing.T) {
	tokens := NewSessionTokens("s", 0)
	a, _ := tokens.Generate("p1", "ABCD")
	b, _ := tokens.Generate("p1", "ABCD")
	assert.NotEqual(t, a, b)
}

func TestRoomCode(t *testing.T) {
	code := RoomCode(4)
	assert.Len(t, code, 4)
	for _, c := range code {
		assert.True(t, strings.ContainsRune(RoomCodeChars, c))
	}
	assert.Equal(t, "ABCD", NormalizeRoomCode("  abcd "))
}

func TestDeviceFingerprintIgnoresPort(t *testing.T) {
	a := DeviceFingerprint("192.168.1.20:5000", "Safari")
	b := DeviceFingerprint("192.168.1.20:6123", "Safari")
	c := DeviceFingerprint("192.168.1.21:5000", "Safari")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a, "fp-"))
}
