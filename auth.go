package main

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/dgrijalva/jwt-go"
)

// Claims is decoded exactly once, at handshake time. The identity it
// carries is bound to the connection for its whole lifetime; no frame
// after the upgrade is re-authenticated.
type Claims struct {
	UserID string `json:"uid"`
	Role   string `json:"role"`

	jwt.StandardClaims
}

var errBadToken = errors.New("invalid token")

// ParseToken verifies an HMAC-signed session token issued by the external
// session layer and returns the claims it carries.
func ParseToken(secret, token string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := t.Claims.(*Claims)
	if !ok || !t.Valid || claims.UserID == "" {
		return nil, errBadToken
	}
	return claims, nil
}

// CheckSignMD5 verifies the signature on internal publish requests coming
// from the CRUD handlers.
func CheckSignMD5(secret, data, timestamp, pk string) bool {
	h := md5.New()
	h.Write([]byte(secret + data + timestamp))
	return hex.EncodeToString(h.Sum(nil)) == pk
}
