package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func signHex(t *testing.T, secret string, payload []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestValidateBearer(t *testing.T) {
	require.True(t, ValidateBearer("Bearer tok-123", "tok-123"))
	require.False(t, ValidateBearer("Bearer wrong", "tok-123"))
	require.False(t, ValidateBearer("tok-123", "tok-123"))
	require.False(t, ValidateBearer("", "tok-123"))
}

func TestValidateHMAC_GithubStyle(t *testing.T) {
	body := []byte(`{"action":"completed"}`)
	hook := Entry{ID: "gh", HMACSecret: "s3cret", HMACHeader: "X-Hub-Signature-256"}

	sig := "sha256=" + signHex(t, "s3cret", body)
	require.True(t, ValidateHMAC(body, sig, hook))
	require.False(t, ValidateHMAC(body, "sha256=deadbeef", hook))
	require.False(t, ValidateHMAC([]byte("tampered"), sig, hook))
	require.False(t, ValidateHMAC(body, "", hook))
}

func TestValidateHMAC_Base64AndSha1(t *testing.T) {
	body := []byte(`{"ok":true}`)
	mac := hmac.New(sha1.New, []byte("s3cret"))
	mac.Write(body)

	hook := Entry{
		ID:            "legacy",
		HMACSecret:    "s3cret",
		HMACAlgorithm: "sha1",
		HMACEncoding:  "base64",
		HMACSigPrefix: "sig=",
	}
	sig := "sig=" + base64.StdEncoding.EncodeToString(mac.Sum(nil))
	require.True(t, ValidateHMAC(body, sig, hook))
}

func TestValidateHMAC_StripeStyle(t *testing.T) {
	// Stripe signs "{timestamp}.{body}" and packs both into one header.
	body := []byte(`{"type":"invoice.paid"}`)
	signed := append([]byte("1724660000."), body...)
	sig := signHex(t, "whsec", signed)

	hook := Entry{
		ID:                     "stripe",
		HMACSecret:             "whsec",
		HMACSigRegex:           `v1=([0-9a-f]+)`,
		HMACPayloadPrefixRegex: `t=(\d+)`,
	}
	header := "t=1724660000,v1=" + sig
	require.True(t, ValidateHMAC(body, header, hook))
	require.False(t, ValidateHMAC(body, "t=1724660001,v1="+sig, hook))
}

func TestValidateHMAC_SigRegexMustMatch(t *testing.T) {
	hook := Entry{ID: "x", HMACSecret: "s", HMACSigRegex: `v1=([0-9a-f]+)`}
	require.False(t, ValidateHMAC([]byte("{}"), "nothing here", hook))
}

func TestAuthorize_SchemeSelection(t *testing.T) {
	body := []byte(`{}`)

	bearerHook := Entry{ID: "b"}
	require.True(t, Authorize(bearerHook, "Bearer tok", "", body, "tok"))
	require.False(t, Authorize(bearerHook, "Bearer nope", "", body, "tok"))
	require.False(t, Authorize(bearerHook, "Bearer tok", "", body, ""))

	hmacHook := Entry{ID: "h", HMACSecret: "s3cret", HMACHeader: "X-Sig"}
	sig := "sha256=" + signHex(t, "s3cret", body)
	// HMAC hooks ignore the bearer header entirely.
	require.True(t, Authorize(hmacHook, "", sig, body, "tok"))
	require.False(t, Authorize(hmacHook, "Bearer tok", "", body, "tok"))
}

func TestRateLimiter_Window(t *testing.T) {
	rl := NewRateLimiter(2)
	now := time.Now()
	rl.now = func() time.Time { return now }

	require.True(t, rl.Allow("gh", 0))
	require.True(t, rl.Allow("gh", 0))
	require.False(t, rl.Allow("gh", 0))

	// Other hooks track their own windows.
	require.True(t, rl.Allow("stripe", 0))

	// The window slides.
	now = now.Add(61 * time.Second)
	require.True(t, rl.Allow("gh", 0))
}

func TestRateLimiter_PerHookOverride(t *testing.T) {
	rl := NewRateLimiter(1)
	now := time.Now()
	rl.now = func() time.Time { return now }

	require.True(t, rl.Allow("busy", 3))
	require.True(t, rl.Allow("busy", 3))
	require.True(t, rl.Allow("busy", 3))
	require.False(t, rl.Allow("busy", 3))
}

func TestRateLimiter_Reset(t *testing.T) {
	rl := NewRateLimiter(1)
	require.True(t, rl.Allow("gh", 0))
	require.False(t, rl.Allow("gh", 0))
	rl.Reset()
	require.True(t, rl.Allow("gh", 0))
}
