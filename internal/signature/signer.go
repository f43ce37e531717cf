// Package signature computes the HMAC-SHA256 signature sent with every webhook request.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
)

// Content returns the signed string "{timestamp}.{payload}".
func Content(timestampMs int64, payload []byte) []byte {
	ts := strconv.FormatInt(timestampMs, 10)
	b := make([]byte, 0, len(ts)+1+len(payload))
	b = append(b, ts...)
	b = append(b, '.')
	return append(b, payload...)
}

// Sign returns base64(HMAC-SHA256(secret, "{timestamp}.{payload}")).
func Sign(secret string, timestampMs int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(Content(timestampMs, payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks sig in constant time. Receivers use it; the gateway only signs.
func Verify(secret string, timestampMs int64, payload []byte, sig string) bool {
	want, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(Content(timestampMs, payload))
	return hmac.Equal(mac.Sum(nil), want)
}
