package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/viralforge/affiliate-ledger/internal/domain"
)

// StripeVerifier checks the Stripe v1 webhook signature scheme:
// Stripe-Signature: t={unix},v1={hex hmac-sha256(secret, "{t}.{payload}")}.
type StripeVerifier struct {
	Secret    string
	Tolerance time.Duration
	nowFn     func() time.Time
}

func NewStripeVerifier(secret string, tolerance time.Duration) *StripeVerifier {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &StripeVerifier{Secret: secret, Tolerance: tolerance, nowFn: time.Now}
}

func (v *StripeVerifier) Verify(payload []byte, header string) error {
	if v == nil || v.Secret == "" {
		return fmt.Errorf("%w: webhook secret not configured", domain.ErrInvalidSignature)
	}
	var timestamp int64 = -1
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: bad timestamp", domain.ErrInvalidSignature)
			}
			timestamp = ts
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp < 0 || len(signatures) == 0 {
		return fmt.Errorf("%w: malformed header", domain.ErrInvalidSignature)
	}
	age := v.nowFn().Sub(time.Unix(timestamp, 0))
	if age > v.Tolerance || age < -v.Tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", domain.ErrInvalidSignature)
	}
	expected := []byte(computeStripeSignature(timestamp, payload, v.Secret))
	for _, sig := range signatures {
		if hmac.Equal(expected, []byte(sig)) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching v1 signature", domain.ErrInvalidSignature)
}

func computeStripeSignature(timestamp int64, payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeCheckoutSession struct {
	ID          string            `json:"id"`
	AmountTotal int64             `json:"amount_total"`
	Currency    string            `json:"currency"`
	Metadata    map[string]string `json:"metadata"`
}
