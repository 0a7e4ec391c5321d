package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMissingSignature is returned when no signature header accompanied the request.
	ErrMissingSignature = errors.New("signature header missing")
	// ErrNoSecret is returned when verification is attempted without a configured secret.
	ErrNoSecret = errors.New("webhook secret not configured")
	// ErrSignatureMismatch is returned when no header entry matches the computed digest.
	ErrSignatureMismatch = errors.New("signature mismatch")
	// ErrSignatureExpired is returned when every matching entry falls outside the freshness window.
	ErrSignatureExpired = errors.New("signature timestamp outside freshness window")
)

// signatureEntry is one timestamp/digest pair parsed from the header.
type signatureEntry struct {
	timestamp string
	digest    string
}

// Verifier authenticates provider webhook deliveries. The provider signs the
// concatenation of a unix timestamp and the raw request body with
// HMAC-SHA256; during secret rotation the header carries one entry per
// active secret and verification succeeds when at least one entry matches.
type Verifier struct {
	secret []byte
	// maxAge bounds how old a signed timestamp may be; zero disables the
	// check, which matches the provider's documented behaviour.
	maxAge time.Duration
	now    func() time.Time
}

// VerifierConfig configures a webhook Verifier.
type VerifierConfig struct {
	Secret string
	MaxAge time.Duration
	Now    func() time.Time
}

// NewVerifier constructs a Verifier. An empty secret is permitted at
// construction so boot can proceed, but every verification then fails closed.
func NewVerifier(cfg VerifierConfig) *Verifier {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Verifier{
		secret: []byte(cfg.Secret),
		maxAge: cfg.MaxAge,
		now:    now,
	}
}

// Verify authenticates the raw request body against the signature header.
// It returns nil when at least one well-formed header entry carries a digest
// matching the configured secret (and, when a freshness window is set, a
// timestamp within it). Malformed entries are skipped rather than failing the
// whole check.
func (v *Verifier) Verify(header string, body []byte) error {
	if v == nil || len(v.secret) == 0 {
		return ErrNoSecret
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingSignature
	}

	entries := parseSignatureHeader(header)
	if len(entries) == 0 {
		return ErrSignatureMismatch
	}

	sawFresh := false
	sawMatch := false
	for _, entry := range entries {
		if !v.digestMatches(entry, body) {
			continue
		}
		sawMatch = true
		if v.timestampFresh(entry.timestamp) {
			sawFresh = true
			break
		}
	}
	switch {
	case sawFresh:
		return nil
	case sawMatch:
		return ErrSignatureExpired
	default:
		return ErrSignatureMismatch
	}
}

func (v *Verifier) digestMatches(entry signatureEntry, body []byte) bool {
	expected, err := hex.DecodeString(entry.digest)
	if err != nil || len(expected) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%s.%s", entry.timestamp, body)
	return hmac.Equal(mac.Sum(nil), expected)
}

func (v *Verifier) timestampFresh(timestamp string) bool {
	if v.maxAge <= 0 {
		return true
	}
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	signedAt := time.Unix(unix, 0)
	age := v.now().Sub(signedAt)
	return age >= 0 && age <= v.maxAge
}

// parseSignatureHeader splits a header of comma-separated key=value pairs
// into timestamp/digest entries. A new entry starts at each t= pair; pairs
// missing their counterpart produce incomplete entries that are dropped.
func parseSignatureHeader(header string) []signatureEntry {
	var (
		entries []signatureEntry
		current signatureEntry
		started bool
	)
	flush := func() {
		if started && current.timestamp != "" && current.digest != "" {
			entries = append(entries, current)
		}
	}
	for _, pair := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found {
			continue
		}
		switch strings.TrimSpace(key) {
		case "t":
			flush()
			current = signatureEntry{timestamp: strings.TrimSpace(value)}
			started = true
		case "v1":
			if started && current.digest == "" {
				current.digest = strings.TrimSpace(value)
			}
		}
	}
	flush()
	return entries
}

// ComputeSignature produces a header entry for the given timestamp and body,
// used by tests and by the provider stub to sign synthetic deliveries.
func ComputeSignature(secret string, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s.%s", timestamp, body)
	return fmt.Sprintf("t=%s,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}
