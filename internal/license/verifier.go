package license

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"

	apperrors "clausecli/internal/errors"
)

// codeEpoch anchors the 16-bit expiry day count embedded in expiring codes.
var codeEpoch = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

const (
	// Expiring payload layout: 8 value characters (40 bits: 16-bit expiry
	// day count, 24-bit serial) followed by 4 signature characters (20-bit
	// truncated HMAC).
	valueChars     = 8
	signatureChars = 4

	signingKeyInfo = "clausecli/activation-code/v1"
)

// VerificationResult describes an accepted activation code. Rejections are
// reported as errors from Verify, never as a partially filled result.
type VerificationResult struct {
	Class  CodeClass
	Expiry *time.Time // nil for permanent codes
	Serial uint32
}

// Verifier validates parsed codes against one distribution's secret and
// reserved permanent literal.
type Verifier struct {
	signingKey []byte
	permanent  string
}

// NewVerifier derives the code-signing key from the distribution secret and
// records the normalized permanent literal for that distribution.
func NewVerifier(secret []byte, permanentCode string) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("distribution secret is empty")
	}
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, secret, nil, []byte(signingKeyInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	return &Verifier{
		signingKey: key,
		permanent:  NormalizeCode(permanentCode),
	}, nil
}

// Verify checks a parsed code against this distribution. Permanent codes are
// accepted by constant-time comparison with the reserved literal; the literal
// itself is the secret on that path. Expiring codes must carry a valid keyed
// signature and a stamped day that has not yet fully passed: the code works
// through the whole stamped day and lapses at the following UTC midnight.
func (v *Verifier) Verify(parsed *ParsedCode, now time.Time) (*VerificationResult, error) {
	if parsed == nil {
		return nil, apperrors.ErrMalformedCode
	}

	if parsed.Class() == ClassPermanent {
		if v.permanent != "" &&
			subtle.ConstantTimeCompare([]byte(parsed.Normalized()), []byte(v.permanent)) == 1 {
			return &VerificationResult{Class: ClassPermanent}, nil
		}
		// A permanent-shaped code that is not this distribution's literal is
		// indistinguishable from a forgery.
		return nil, apperrors.ErrInvalidSignature
	}

	payload := parsed.Payload()
	value := payload[:valueChars]
	signature := payload[valueChars:]

	expected := v.sign(value)
	if subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) != 1 {
		return nil, apperrors.ErrInvalidSignature
	}

	days, serial, err := decodeValue(value)
	if err != nil {
		return nil, apperrors.ErrInvalidSignature
	}

	// The code stays valid through the whole stamped day; it lapses at the
	// following UTC midnight.
	expiry := codeEpoch.AddDate(0, 0, int(days)+1).Add(-time.Nanosecond)
	if now.After(expiry) {
		return nil, fmt.Errorf("expired %s: %w", expiry.Format("2006-01-02"), apperrors.ErrCodeExpired)
	}

	return &VerificationResult{Class: ClassExpiring, Expiry: &expiry, Serial: serial}, nil
}

// IssueCode produces a valid expiring code for the distribution whose secret
// backs this verifier. Used by the keygen tool and tests.
func (v *Verifier) IssueCode(expiry time.Time, serial uint32) (string, error) {
	days := int(expiry.UTC().Sub(codeEpoch).Hours() / 24)
	if days < 0 || days > 0xFFFF {
		return "", fmt.Errorf("expiry %s outside the encodable range", expiry.Format("2006-01-02"))
	}
	if serial > 0xFFFFFF {
		return "", fmt.Errorf("serial %d exceeds 24 bits", serial)
	}

	value := encodeValue(uint16(days), serial)
	payload := value + v.sign(value)
	return FormatCode(payload + checksumSegment(payload)), nil
}

// NewPermanentCode generates a random, checksum-valid permanent literal. Each
// distribution variant gets its own literal at build time.
func NewPermanentCode() (string, error) {
	buf := make([]byte, permanentLen-checksumLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	chars := make([]byte, len(buf))
	for i, b := range buf {
		chars[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	payload := string(chars)
	return FormatCode(payload + checksumSegment(payload)), nil
}

// sign computes the 4-character signature segment: HMAC-SHA256 over the value
// characters, truncated to 20 bits and alphabet-encoded.
func (v *Verifier) sign(value string) string {
	mac := hmac.New(sha256.New, v.signingKey)
	mac.Write([]byte(value))
	sum := mac.Sum(nil)

	// First 20 bits of the MAC, 5 bits per character.
	bits := []byte{
		sum[0] >> 3,
		(sum[0]&0x07)<<2 | sum[1]>>6,
		(sum[1] >> 1) & 0x1F,
		(sum[1]&0x01)<<4 | sum[2]>>4,
	}
	out := make([]byte, signatureChars)
	for i, b := range bits {
		out[i] = codeAlphabet[b]
	}
	return string(out)
}

// encodeValue packs the expiry day count and serial into 8 alphabet
// characters, big-endian, 5 bits each.
func encodeValue(days uint16, serial uint32) string {
	v := uint64(days)<<24 | uint64(serial)
	out := make([]byte, valueChars)
	for i := valueChars - 1; i >= 0; i-- {
		out[i] = codeAlphabet[v&0x1F]
		v >>= 5
	}
	return string(out)
}

// decodeValue unpacks the 40-bit value field.
func decodeValue(value string) (days uint16, serial uint32, err error) {
	var v uint64
	for _, r := range value {
		idx := strings.IndexRune(codeAlphabet, r)
		if idx < 0 {
			return 0, 0, fmt.Errorf("invalid value character %q", r)
		}
		v = v<<5 | uint64(idx)
	}
	return uint16(v >> 24), uint32(v & 0xFFFFFF), nil
}
