package utils

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt"
)

var ErrInvalidSessionToken = errors.New("invalid session token")

type SessionClaims struct {
	PlayerID string `json:"pid"`
	RoomID   string `json:"rid"`
	jwt.StandardClaims
}

// SessionTokens issues and checks the capability a client presents to
// reclaim its player after reconnecting.
type SessionTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionTokens signs tokens with secret; they expire after ttl.
func NewSessionTokens(secret string, ttl time.Duration) *SessionTokens {
	return &SessionTokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Generate issues a token bound to one player in one room.
func (s *SessionTokens) Generate(playerID, roomID string) (string, error) {
	nowTime := s.now()
	claims := SessionClaims{
		PlayerID: playerID,
		RoomID:   roomID,
		StandardClaims: jwt.StandardClaims{
			IssuedAt: nowTime.Unix(),
			Id:       RandomID(),
		},
	}
	if s.ttl > 0 {
		claims.ExpiresAt = nowTime.Add(s.ttl).Unix()
	}

	tokenClaims := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tokenClaims.SignedString(s.secret)
}

// Parse validates signature and expiry.
func (s *SessionTokens) Parse(token string) (*SessionClaims, error) {
	tokenClaims, err := jwt.ParseWithClaims(token, &SessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSessionToken
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidSessionToken
	}
	claims, ok := tokenClaims.Claims.(*SessionClaims)
	if !ok || !tokenClaims.Valid {
		return nil, ErrInvalidSessionToken
	}
	return claims, nil
}

// Verify checks presented against the stored token and that it names
// the expected player and room.
func (s *SessionTokens) Verify(presented, stored, playerID, roomID string) error {
	if stored == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(stored)) != 1 {
		return ErrInvalidSessionToken
	}
	claims, err := s.Parse(presented)
	if err != nil {
		return err
	}
	if claims.PlayerID != playerID || claims.RoomID != roomID {
		return ErrInvalidSessionToken
	}
	return nil
}
