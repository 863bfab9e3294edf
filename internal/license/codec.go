// Package license implements the offline activation core: the activation
// code codec and verifier, the device-binding ledger, and the activation
// gate the host application queries for its single licensed/unlicensed
// decision.
package license

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	apperrors "clausecli/internal/errors"
)

// Activation codes use a 32-character alphabet that drops the four letters
// most often confused with digits (I, L, O, U).
const codeAlphabet = "ABCDEFGHJKMNPQRSTVWXYZ0123456789"

const (
	segmentLen  = 4
	checksumLen = 4

	// Expiring codes: 12 payload characters plus the trailing checksum
	// segment, displayed XXXX-XXXX-XXXX-XXXX.
	expiringLen = 16
	// Permanent codes: 16 payload characters plus the checksum segment. The
	// extra segment keeps the two code spaces disjoint by construction.
	permanentLen = 20
)

// CodeClass distinguishes the two activation code shapes.
type CodeClass int

const (
	ClassExpiring CodeClass = iota
	ClassPermanent
)

func (c CodeClass) String() string {
	if c == ClassPermanent {
		return "permanent"
	}
	return "expiring"
}

// ParsedCode is an activation code that passed the structural grammar and
// the checksum. Immutable once parsed.
type ParsedCode struct {
	normalized string
	class      CodeClass
}

// Class returns the code's shape classification.
func (p *ParsedCode) Class() CodeClass { return p.class }

// Normalized returns the separator-free uppercase form of the code.
func (p *ParsedCode) Normalized() string { return p.normalized }

// Payload returns the non-checksum characters.
func (p *ParsedCode) Payload() string {
	return p.normalized[:len(p.normalized)-checksumLen]
}

// Fingerprint returns the SHA-256 fingerprint recorded in the ledger in
// place of the raw code.
func (p *ParsedCode) Fingerprint() string {
	sum := sha256.Sum256([]byte(p.normalized))
	return hex.EncodeToString(sum[:])
}

// String formats the code with dash separators for display.
func (p *ParsedCode) String() string {
	return FormatCode(p.normalized)
}

// ParseCode validates raw against the code grammar: separators stripped,
// uppercase 32-character alphabet, one of the two fixed lengths, and a
// matching trailing checksum segment. The checksum is a typo catch only; it
// carries no cryptographic weight.
func ParseCode(raw string) (*ParsedCode, error) {
	normalized := NormalizeCode(raw)
	if normalized == "" {
		return nil, fmt.Errorf("empty code: %w", apperrors.ErrMalformedCode)
	}

	var class CodeClass
	switch len(normalized) {
	case expiringLen:
		class = ClassExpiring
	case permanentLen:
		class = ClassPermanent
	default:
		return nil, fmt.Errorf("code length %d: %w", len(normalized), apperrors.ErrMalformedCode)
	}

	for i, r := range normalized {
		if strings.IndexRune(codeAlphabet, r) < 0 {
			return nil, fmt.Errorf("invalid character at position %d: %w", i, apperrors.ErrMalformedCode)
		}
	}

	payload := normalized[:len(normalized)-checksumLen]
	if checksumSegment(payload) != normalized[len(normalized)-checksumLen:] {
		return nil, apperrors.ErrChecksumMismatch
	}

	return &ParsedCode{normalized: normalized, class: class}, nil
}

// NormalizeCode strips separators and whitespace and uppercases the input.
func NormalizeCode(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', '\t':
			return -1
		}
		return r
	}, raw)
	return strings.ToUpper(strings.TrimSpace(cleaned))
}

// FormatCode groups a normalized code into dash-separated segments for
// display. Codes of unexpected length are returned unchanged.
func FormatCode(normalized string) string {
	normalized = NormalizeCode(normalized)
	if len(normalized)%segmentLen != 0 {
		return normalized
	}
	segments := make([]string, 0, len(normalized)/segmentLen)
	for i := 0; i < len(normalized); i += segmentLen {
		segments = append(segments, normalized[i:i+segmentLen])
	}
	return strings.Join(segments, "-")
}

// checksumSegment computes the trailing checksum segment for a payload: four
// positional weighted sums mod 32, one per checksum character. Deterministic
// and public; its only job is catching fat-finger entry before verification.
func checksumSegment(payload string) string {
	sums := make([]int, checksumLen)
	for j, r := range payload {
		v := strings.IndexRune(codeAlphabet, r)
		if v < 0 {
			v = 0
		}
		for i := 0; i < checksumLen; i++ {
			sums[i] += v * (j + 1 + i)
		}
	}

	out := make([]byte, checksumLen)
	for i := 0; i < checksumLen; i++ {
		out[i] = codeAlphabet[sums[i]%len(codeAlphabet)]
	}
	return string(out)
}
