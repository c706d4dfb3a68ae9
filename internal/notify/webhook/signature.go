package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Sign computes the HMAC-SHA256 signature over "timestamp.body" using
// secret, returning the header value in the
// "t=<unix>,v1=<hex signature>" form webhook consumers verify against.
func Sign(secret string, timestamp time.Time, body []byte) string {
	ts := strconv.FormatInt(timestamp.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%s,v1=%s", ts, sig)
}

// Verify checks header against secret and body, rejecting signatures
// older than maxAge to bound replay windows.
func Verify(secret, header string, body []byte, maxAge time.Duration) error {
	ts, sig, err := parseHeader(header)
	if err != nil {
		return err
	}
	age := time.Since(time.Unix(ts, 0))
	if age > maxAge || age < -maxAge {
		return fmt.Errorf("webhook: signature timestamp outside allowed window")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return fmt.Errorf("webhook: signature mismatch")
	}
	return nil
}

func parseHeader(header string) (int64, string, error) {
	var ts int64
	var sig string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			parsed, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return 0, "", fmt.Errorf("webhook: invalid timestamp in signature header")
			}
			ts = parsed
		case "v1":
			sig = kv[1]
		}
	}
	if ts == 0 || sig == "" {
		return 0, "", fmt.Errorf("webhook: malformed signature header")
	}
	return ts, sig, nil
}
