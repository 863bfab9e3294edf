package variant

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	functionDecl = regexp.MustCompile(`\bfunction\s+([A-Za-z_$][A-Za-z0-9_$]*)`)
	variableDecl = regexp.MustCompile(`\b(?:var|let|const)\s+([A-Za-z_$][A-Za-z0-9_$]*)`)
	stringLit    = regexp.MustCompile(`"(?:[^"\\]|\\.)*"`)
)

const stringTableName = "_zs"

// obfuscate rewrites the activation block: internal identifiers get opaque
// names and string literals are folded into an indexed table. Names on the
// entry-point allow-list are never touched, and their survival is verified
// afterwards.
func obfuscate(block string, cfg Config) (string, int, int, error) {
	allowed := make(map[string]bool, len(cfg.EntryPoints))
	for _, name := range cfg.EntryPoints {
		if name == "" {
			return "", 0, 0, fmt.Errorf("empty entry-point name in allow-list: %w", ErrObfuscationFailed)
		}
		allowed[name] = true
	}

	block, renamed, err := renameIdentifiers(block, cfg.Name, allowed)
	if err != nil {
		return "", 0, 0, err
	}

	block, folded := foldStrings(block)

	// Post-condition: every allow-listed entry point must still appear
	// verbatim in the transformed block.
	for _, name := range cfg.EntryPoints {
		if !regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`).MatchString(block) {
			return "", 0, 0, fmt.Errorf("entry point %q lost during transform: %w", name, ErrObfuscationFailed)
		}
	}

	return block, renamed, folded, nil
}

// renameIdentifiers collects declared function and variable names and maps
// each to a deterministic opaque alias derived from the variant name, so
// re-running the builder is idempotent.
func renameIdentifiers(block, variantName string, allowed map[string]bool) (string, int, error) {
	declared := make(map[string]bool)
	for _, m := range functionDecl.FindAllStringSubmatch(block, -1) {
		declared[m[1]] = true
	}
	for _, m := range variableDecl.FindAllStringSubmatch(block, -1) {
		declared[m[1]] = true
	}

	names := make([]string, 0, len(declared))
	for name := range declared {
		if allowed[name] || strings.HasPrefix(name, "_z") {
			continue
		}
		names = append(names, name)
	}
	// Longest names first so a short name never clobbers part of a longer one.
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })

	renamed := 0
	for _, name := range names {
		alias := opaqueAlias(name, variantName)
		if allowed[alias] {
			return "", 0, fmt.Errorf("alias %q collides with an entry point: %w", alias, ErrObfuscationFailed)
		}
		pattern := regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`)
		block = replaceOutsideStrings(block, pattern, alias)
		renamed++
	}
	return block, renamed, nil
}

// replaceOutsideStrings applies the replacement to the code between string
// literals. Literal contents stay intact so DOM ids and storage keys keep
// their spelled-out values.
func replaceOutsideStrings(block string, pattern *regexp.Regexp, replacement string) string {
	var b strings.Builder
	last := 0
	for _, loc := range stringLit.FindAllStringIndex(block, -1) {
		b.WriteString(pattern.ReplaceAllString(block[last:loc[0]], replacement))
		b.WriteString(block[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(pattern.ReplaceAllString(block[last:], replacement))
	return b.String()
}

// foldStrings hoists double-quoted string literals into a shared table and
// replaces each occurrence with an indexed lookup. Duplicate literals share
// one slot.
func foldStrings(block string) (string, int) {
	var table []string
	index := make(map[string]int)

	out := stringLit.ReplaceAllStringFunc(block, func(lit string) string {
		i, seen := index[lit]
		if !seen {
			i = len(table)
			table = append(table, lit)
			index[lit] = i
		}
		return fmt.Sprintf("%s[%d]", stringTableName, i)
	})

	if len(table) == 0 {
		return block, 0
	}

	header := "var " + stringTableName + "=[" + strings.Join(table, ",") + "];\n"
	return header + out, len(table)
}

// opaqueAlias derives a stable replacement name for an identifier.
func opaqueAlias(name, variantName string) string {
	sum := sha256.Sum256([]byte(variantName + ":" + name))
	return "_z" + hex.EncodeToString(sum[:4])
}
