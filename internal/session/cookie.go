package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

var errBadCookieSignature = errors.New("session cookie signature mismatch")

// UnsignCookie returns the session id carried by a connect-style session
// cookie ("s:<sid>.<signature>"). Unsigned values are rejected.
func UnsignCookie(value, secret string) (string, error) {
	if value == "" {
		return "", ErrSessionNotFound
	}
	if !strings.HasPrefix(value, "s:") {
		return "", errBadCookieSignature
	}
	body := strings.TrimPrefix(value, "s:")
	dot := strings.LastIndex(body, ".")
	if dot <= 0 || secret == "" {
		return "", errBadCookieSignature
	}
	sid, sig := body[:dot], body[dot+1:]
	if !hmac.Equal([]byte(sig), []byte(SignCookie(sid, secret))) {
		return "", errBadCookieSignature
	}
	return sid, nil
}

// SignCookie returns the signature part for sid.
func SignCookie(sid, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(sid))
	return strings.TrimRight(base64.StdEncoding.EncodeToString(mac.Sum(nil)), "=")
}
