// Command variantbuild produces a distribution-specific artifact from the
// canonical source artifact: fresh secret, storage namespace, and permanent
// code, a protective rewrite of the activation logic, and the defensive
// prelude. Target distributions come from a YAML manifest. It runs
// non-interactively, exits non-zero with a diagnostic on any structural or
// substitution failure, and prints a size summary on success.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"clausecli/internal/variant"
)

func main() {
	name := flag.String("variant", "", "target distribution variant")
	manifestPath := flag.String("config", "variants.yaml", "variant manifest file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	variants, err := variant.LoadManifest(*manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "variantbuild: %v\n", err)
		os.Exit(1)
	}

	cfg, ok := variants[*name]
	if !ok {
		fmt.Fprintf(os.Stderr, "variantbuild: unknown variant %q (known: %s)\n", *name, variant.VariantNames(variants))
		os.Exit(2)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "variantbuild: create output directory: %v\n", err)
		os.Exit(1)
	}

	result, err := variant.BuildFile(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "variantbuild: %s: %v\n", cfg.Name, err)
		os.Exit(1)
	}

	fmt.Printf("built %s -> %s (%d bytes, %d substitutions, %d identifiers renamed, %d strings folded, %d sections stripped)\n",
		cfg.Name, cfg.OutputPath, result.OutputSize, result.Substitutions,
		result.RenamedIdentifiers, result.FoldedStrings, result.StrippedSections)
}
