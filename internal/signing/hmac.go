package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Sign returns a "v1=" signature over "<timestamp>.<payload>". An empty
// secret yields an empty signature; the sender omits the header then.
func Sign(secret string, payload []byte) (signature string, timestamp int64) {
	timestamp = time.Now().Unix()
	return SignAt(secret, payload, timestamp), timestamp
}

func SignAt(secret string, payload []byte, timestamp int64) string {
	if secret == "" {
		return ""
	}
	toSign := fmt.Sprintf("%d.%s", timestamp, string(payload))

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(toSign))
	return fmt.Sprintf("v1=%s", hex.EncodeToString(mac.Sum(nil)))
}

func Verify(secret string, payload []byte, timestamp int64, signature string) bool {
	expected := SignAt(secret, payload, timestamp)
	if expected == "" {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}
