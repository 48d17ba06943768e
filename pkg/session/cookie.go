package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// cookieIssuer はセッションCookieのJWT発行者。
const cookieIssuer = "hrgate"

// cookieClaims はセッションCookieに格納するJWTクレーム。
type cookieClaims struct {
	jwt.RegisteredClaims
	// SessionID はセッションID。
	SessionID string `json:"sid"`
}

// signSessionID はセッションIDを含むJWTを生成する。
func signSessionID(secret, sessionID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := cookieClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    cookieIssuer,
		},
		SessionID: sessionID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("セッションCookieの署名に失敗: %w", err)
	}
	return signed, nil
}

// parseSessionID はJWTを検証してセッションIDを取り出す。
func parseSessionID(secret, tokenString string) (string, error) {
	claims := &cookieClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cookieIssuer),
	)
	if err != nil || !token.Valid {
		return "", fmt.Errorf("セッションCookieが無効です: %w", err)
	}
	if claims.SessionID == "" {
		return "", fmt.Errorf("セッションCookieにセッションIDがありません")
	}
	return claims.SessionID, nil
}
