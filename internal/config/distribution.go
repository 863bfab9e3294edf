package config

import (
	"errors"
	"os"
)

// Distribution holds the constants baked into a single build variant. The
// secret scopes every cryptographic derivation for that variant, the storage
// namespace keeps two variants built from the same source from ever seeing
// each other's ledgers, and the permanent code is the reserved literal
// accepted without a signature check.
type Distribution struct {
	Name             string
	StorageNamespace string
	PermanentCode    string
	Secret           []byte
}

// Stamped at build time via -ldflags "-X clausecli/internal/config.distName=..."
// The variant builder replaces these defaults when producing a distribution
// artifact; the defaults below are development-only values.
var (
	distName      = "dev"
	distNamespace = "clausecli-dev"
	distSecret    = "dev-distribution-secret-not-for-release"
	distPermanent = ""
)

// GetDistribution returns the distribution constants for this build.
// Environment variables take precedence so development builds can emulate a
// specific variant without relinking.
func GetDistribution() (*Distribution, error) {
	d := &Distribution{
		Name:             envOr("CLAUSECLI_DIST_NAME", distName),
		StorageNamespace: envOr("CLAUSECLI_DIST_NAMESPACE", distNamespace),
		PermanentCode:    envOr("CLAUSECLI_DIST_PERMANENT_CODE", distPermanent),
		Secret:           []byte(envOr("CLAUSECLI_DIST_SECRET", distSecret)),
	}
	if len(d.Secret) == 0 {
		return nil, errors.New("distribution secret is empty - build was produced without variant stamping")
	}
	if d.StorageNamespace == "" {
		return nil, errors.New("distribution storage namespace is empty")
	}
	return d, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
