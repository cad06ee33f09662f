package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/companionspay/ledgerd/internal/apperrors"
)

// DefaultTolerance is how far a webhook timestamp may drift before the event
// is rejected as a possible replay
const DefaultTolerance = 5 * time.Minute

// VerifySignature checks the Stripe-Signature header against the raw payload.
// The header format is 't=<unix>,v1=<hex hmac>[,v1=...]'; the signed message
// is '<t>.<payload>' with HMAC-SHA256 keyed by the webhook secret.
// Every failure mode returns apperrors.ErrSignatureInvalid
func VerifySignature(payload []byte, header string, secret string, tolerance time.Duration) error {
	return verifySignatureAt(payload, header, secret, tolerance, time.Now())
}

func verifySignatureAt(payload []byte, header string, secret string, tolerance time.Duration, now time.Time) error {
	if header == "" {
		return fmt.Errorf("%w: signature header missing", apperrors.ErrSignatureInvalid)
	}

	var timestamp int64
	var signatures [][]byte

	for _, pair := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found {
			continue
		}

		switch key {
		case "t":
			t, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: bad timestamp: %q", apperrors.ErrSignatureInvalid, value)
			}
			timestamp = t
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}

	if timestamp == 0 || len(signatures) == 0 {
		return fmt.Errorf("%w: header has no timestamp or v1 signature", apperrors.ErrSignatureInvalid)
	}

	if tolerance > 0 {
		drift := now.Sub(time.Unix(timestamp, 0)).Abs()
		if drift > tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance (%s)", apperrors.ErrSignatureInvalid, drift)
		}
	}

	expected := computeSignature(payload, secret, timestamp)
	for _, sig := range signatures {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}

	return fmt.Errorf("%w: no matching v1 signature", apperrors.ErrSignatureInvalid)
}

func computeSignature(payload []byte, secret string, timestamp int64) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}
