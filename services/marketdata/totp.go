package marketdata

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// TOTP parameters used by the primary provider's login flow.
const (
	totpPeriod = 30 * time.Second
	totpDigits = 6
)

// TOTPCode derives the one-time code for time t from a base32 shared
// secret. windowOffset shifts the 30-second window, which lets login
// retry the adjacent window when the provider rejects a code due to
// clock skew.
func TOTPCode(secret string, t time.Time, windowOffset int) (string, error) {
	key, err := decodeTOTPSecret(secret)
	if err != nil {
		return "", err
	}

	counter := uint64(t.Unix()/int64(totpPeriod/time.Second)) + uint64(int64(windowOffset))

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	// Dynamic truncation per RFC 4226
	offset := sum[len(sum)-1] & 0x0f
	code := (uint32(sum[offset])&0x7f)<<24 |
		uint32(sum[offset+1])<<16 |
		uint32(sum[offset+2])<<8 |
		uint32(sum[offset+3])

	code %= 1000000
	return fmt.Sprintf("%0*d", totpDigits, code), nil
}

// decodeTOTPSecret decodes a base32 secret, tolerating lowercase,
// spaces and missing padding as issued by provider dashboards.
func decodeTOTPSecret(secret string) ([]byte, error) {
	s := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
	if s == "" {
		return nil, fmt.Errorf("totp secret is empty")
	}
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, fmt.Errorf("invalid totp secret: %w", err)
	}
	return key, nil
}
