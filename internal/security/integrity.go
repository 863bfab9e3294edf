package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// IntegrityChecker verifies the running binary against an expected hash.
type IntegrityChecker struct {
	expectedHash string
}

// IntegrityResult holds the outcome of a binary integrity verification.
type IntegrityResult struct {
	IsValid      bool
	ActualHash   string
	ExpectedHash string
	BinaryPath   string
	BinarySize   int64
	ErrorMessage string
}

// NewIntegrityChecker creates an integrity checker for the given expected
// SHA-256 hash (hex, case-insensitive).
func NewIntegrityChecker(expectedHash string) *IntegrityChecker {
	return &IntegrityChecker{expectedHash: strings.ToLower(expectedHash)}
}

// Verify hashes the running executable and compares it to the expected hash.
func (ic *IntegrityChecker) Verify() (*IntegrityResult, error) {
	binaryPath, err := os.Executable()
	if err != nil {
		return &IntegrityResult{
			IsValid:      false,
			ErrorMessage: fmt.Sprintf("resolve executable path: %v", err),
		}, err
	}

	actualHash, size, err := hashFile(binaryPath)
	if err != nil {
		return &IntegrityResult{
			IsValid:      false,
			BinaryPath:   binaryPath,
			ErrorMessage: fmt.Sprintf("hash binary: %v", err),
		}, err
	}

	result := &IntegrityResult{
		IsValid:      actualHash == ic.expectedHash,
		ActualHash:   actualHash,
		ExpectedHash: ic.expectedHash,
		BinaryPath:   binaryPath,
		BinarySize:   size,
	}
	if !result.IsValid {
		result.ErrorMessage = "binary hash mismatch"
	}
	return result, nil
}

func hashFile(path string) (string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", 0, err
	}

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(hasher.Sum(nil)), info.Size(), nil
}
