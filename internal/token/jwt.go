package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dtroode/electorate-server/internal/model"
)

// Claims represents JWT claims with token type and device ID.
type Claims struct {
	jwt.RegisteredClaims
	DeviceID  string `json:"device_id"`
	TokenType string `json:"typ"`
}

// JWT implements TokenManager backed by symmetric HMAC.
type JWT struct {
	secretKey string
}

// NewJWT creates a new JWT token manager with the provided secret key.
func NewJWT(secretKey string) model.TokenManager {
	return &JWT{secretKey: secretKey}
}

const typeDevice = "device"

// GenerateDeviceToken creates a device-session token whose lifetime matches
// the device registration TTL.
func (j *JWT) GenerateDeviceToken(deviceID string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		DeviceID:  deviceID,
		TokenType: typeDevice,
	})

	tokenString, err := token.SignedString([]byte(j.secretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign device token: %w", err)
	}

	return tokenString, nil
}

// ParseDeviceToken validates and extracts the device ID from a session token.
func (j *JWT) ParseDeviceToken(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("wrong signing method %v", t.Header["alg"])
		}
		return []byte(j.secretKey), nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to parse device token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("device token is invalid")
	}
	if claims.TokenType != typeDevice {
		return "", fmt.Errorf("token type mismatch: %s", claims.TokenType)
	}
	return claims.DeviceID, nil
}
