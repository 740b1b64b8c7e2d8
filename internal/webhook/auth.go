package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ductor/ductor/internal/log"
)

// ValidateBearer checks an "Authorization: Bearer <token>" header value
// in constant time.
func ValidateBearer(authorization, expected string) bool {
	const prefix = "Bearer "
	if !strings.HasPrefix(authorization, prefix) {
		return false
	}
	return hmac.Equal([]byte(authorization[len(prefix):]), []byte(expected))
}

// ValidateHMAC checks a request signature against the hook's HMAC
// configuration. The signature is extracted from the header value by
// regex group 1 when a sig regex is set, otherwise by stripping the
// prefix. When a payload prefix regex is set, its group 1 is prepended
// to the body with a "." separator before signing, the way Stripe and
// Slack sign "{timestamp}.{body}".
func ValidateHMAC(body []byte, signatureValue string, hook Entry) bool {
	if signatureValue == "" || hook.HMACSecret == "" {
		log.Warn(log.CatWebhook, "hmac auth failed: missing signature or secret", "hook", hook.ID)
		return false
	}

	sig := signatureValue
	switch {
	case hook.HMACSigRegex != "":
		re, err := regexp.Compile(hook.HMACSigRegex)
		if err != nil {
			log.Warn(log.CatWebhook, "hmac auth failed: bad sig regex", "hook", hook.ID, "error", err)
			return false
		}
		m := re.FindStringSubmatch(signatureValue)
		if len(m) < 2 || m[1] == "" {
			log.Warn(log.CatWebhook, "hmac auth failed: sig regex did not match", "hook", hook.ID)
			return false
		}
		sig = m[1]
	case hook.sigPrefix() != "":
		sig = strings.TrimPrefix(signatureValue, hook.sigPrefix())
	}

	signed := body
	if hook.HMACPayloadPrefixRegex != "" {
		re, err := regexp.Compile(hook.HMACPayloadPrefixRegex)
		if err != nil {
			log.Warn(log.CatWebhook, "hmac auth failed: bad payload prefix regex", "hook", hook.ID, "error", err)
			return false
		}
		if m := re.FindStringSubmatch(signatureValue); len(m) >= 2 && m[1] != "" {
			signed = append(append([]byte(m[1]), '.'), body...)
		}
	}

	mac := hmac.New(hashFor(hook.HMACAlgorithm), []byte(hook.HMACSecret))
	mac.Write(signed)

	var expected string
	if hook.HMACEncoding == "base64" {
		expected = base64.StdEncoding.EncodeToString(mac.Sum(nil))
	} else {
		expected = hex.EncodeToString(mac.Sum(nil))
	}

	valid := hmac.Equal([]byte(sig), []byte(expected))
	if !valid {
		log.Warn(log.CatWebhook, "hmac auth failed: signature mismatch",
			"hook", hook.ID, "algorithm", hook.HMACAlgorithm, "encoding", hook.HMACEncoding)
	}
	return valid
}

// Authorize applies the hook's auth scheme: HMAC when a secret is set,
// otherwise the global bearer token.
func Authorize(hook Entry, authorization, signatureValue string, body []byte, globalToken string) bool {
	if hook.HMACSecret != "" {
		return ValidateHMAC(body, signatureValue, hook)
	}
	if globalToken == "" {
		log.Warn(log.CatWebhook, "auth failed: no bearer token configured", "hook", hook.ID)
		return false
	}
	if !ValidateBearer(authorization, globalToken) {
		log.Warn(log.CatWebhook, "auth failed: invalid bearer token", "hook", hook.ID)
		return false
	}
	return true
}

func (e Entry) sigPrefix() string {
	if e.HMACSigPrefix != "" {
		return e.HMACSigPrefix
	}
	return "sha256="
}

func hashFor(algorithm string) func() hash.Hash {
	switch algorithm {
	case "sha1":
		return sha1.New
	case "sha512":
		return sha512.New
	default:
		return sha256.New
	}
}

// RateLimiter tracks request timestamps per hook over a sliding 60s
// window.
type RateLimiter struct {
	mu      sync.Mutex
	stamps  map[string][]time.Time
	perMin  int
	now     func() time.Time
	maxKeys int
}

const rateLimiterMaxKeys = 1000

// NewRateLimiter creates a limiter with the given default per-minute
// budget. Hooks with their own RatePerMinute override it.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		stamps:  make(map[string][]time.Time),
		perMin:  perMinute,
		now:     time.Now,
		maxKeys: rateLimiterMaxKeys,
	}
}

// Allow reports whether a request for the given hook fits its window,
// recording the request when it does.
func (r *RateLimiter) Allow(hookID string, limit int) bool {
	if limit <= 0 {
		limit = r.perMin
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-time.Minute)
	kept := r.stamps[hookID][:0]
	for _, ts := range r.stamps[hookID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= limit {
		r.stamps[hookID] = kept
		log.Warn(log.CatWebhook, "rate limit exceeded", "hook", hookID, "limit", limit)
		return false
	}
	r.stamps[hookID] = append(kept, now)

	if len(r.stamps) > r.maxKeys {
		r.pruneLocked(cutoff)
	}
	return true
}

// Reset drops all recorded timestamps.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stamps = make(map[string][]time.Time)
}

func (r *RateLimiter) pruneLocked(cutoff time.Time) {
	for id, stamps := range r.stamps {
		live := false
		for _, ts := range stamps {
			if ts.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(r.stamps, id)
		}
	}
}
