package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the webhook signature as "t=<unix>,v1=<hex>".
const SignatureHeader = "X-Signature"

// DefaultTolerance bounds how old a signed request may be.
const DefaultTolerance = 5 * time.Minute

var ErrInvalidSignature = errors.New("invalid signature")

// Sign returns the header value for payload signed with secret at t.
func Sign(payload []byte, secret string, t time.Time) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	return "t=" + ts + ",v1=" + hmacSHA256(ts, payload, secret)
}

// Verify checks header against payload. A zero tolerance disables the
// timestamp check.
func Verify(header string, payload []byte, secret string, tolerance time.Duration, now time.Time) error {
	ts, sigs := parseHeader(header)
	if ts == "" || len(sigs) == 0 {
		return ErrInvalidSignature
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(unix, 0))
		if age > tolerance || age < -tolerance {
			return ErrInvalidSignature
		}
	}

	expected := []byte(hmacSHA256(ts, payload, secret))
	for _, sig := range sigs {
		if hmac.Equal([]byte(sig), expected) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// parseHeader accepts several v1 entries so secrets can be rotated.
func parseHeader(header string) (ts string, sigs []string) {
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts = value
		case "v1":
			sigs = append(sigs, value)
		}
	}
	return ts, sigs
}

func hmacSHA256(ts string, payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
