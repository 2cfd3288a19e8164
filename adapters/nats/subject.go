package nats

import (
	"encoding/base64"
	"strings"
)

// subjectToken makes s safe to use as a single subject token. Tokens that
// already are safe pass through; anything else is base64url encoded behind a
// '~' marker so distinct inputs never collide.
func subjectToken(s string) string {
	if s != "" && !strings.ContainsAny(s, ".*> \t\r\n~") {
		return s
	}
	return "~" + base64.RawURLEncoding.EncodeToString([]byte(s))
}

func joinSubject(parts ...string) string {
	return strings.Join(parts, ".")
}
