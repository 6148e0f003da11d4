package utils

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"net"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// RoomCodeChars leaves out characters that are easy to misread on a TV.
const RoomCodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// RandomID returns a fresh unguessable identifier.
func RandomID() string {
	return uuid.New().String()
}

// RoomCode returns a random code of length n.
func RoomCode(n int) string {
	code := make([]byte, n)
	for i := range code {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(RoomCodeChars))))
		if err != nil {
			// crypto/rand does not fail on supported platforms
			panic(err)
		}
		code[i] = RoomCodeChars[idx.Int64()]
	}
	return string(code)
}

// NormalizeRoomCode upper-cases and trims a user-typed code.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// DeviceFingerprint derives a stable device id from the transport address
// when the client did not send its own.
func DeviceFingerprint(remoteAddr, userAgent string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	sum := blake2b.Sum256([]byte(host + "|" + userAgent))
	return "fp-" + hex.EncodeToString(sum[:12])
}
