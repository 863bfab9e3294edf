// Package variant implements the offline build transform that turns the
// canonical web artifact into a distribution-specific one: fresh secret,
// storage namespace, and permanent code, plus a protective rewrite of the
// activation logic. The transform runs once, ahead of distribution, and
// either completes fully or aborts without partial output.
package variant

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Build errors. All of them are fatal: a variant that silently shipped
// without its substitutions or protection layer would be worse than no
// build at all.
var (
	ErrDelimiterNotFound         = errors.New("activation block delimiter not found")
	ErrSubstitutionTargetMissing = errors.New("substitution target literal not found")
	ErrObfuscationFailed         = errors.New("obfuscation pass failed")
)

// Delimiters bounding the single activation logic block inside the artifact.
const (
	blockBegin = "/* ==ACTIVATION-CORE-BEGIN== */"
	blockEnd   = "/* ==ACTIVATION-CORE-END== */"
)

// Literals are the three per-distribution constants stamped into a build.
type Literals struct {
	Secret           string
	StorageNamespace string
	PermanentCode    string
}

// Config describes one target distribution.
type Config struct {
	// Name selects which variant-tagged UI sections survive the build.
	Name string

	// Prior holds the literals currently present in the source artifact;
	// New holds their replacements. Substitution is exact-string-match and
	// fails closed when a prior literal is absent.
	Prior Literals
	New   Literals

	// EntryPoints is the explicit allow-list of names the surrounding markup
	// depends on. The obfuscation pass must never touch them.
	EntryPoints []string

	// GuardSnippet overrides the built-in defensive prelude when non-empty.
	GuardSnippet string

	// Fixed per-variant artifact paths, used by BuildFile.
	SourcePath string
	OutputPath string
}

// Result summarizes a completed build.
type Result struct {
	OutputSize         int
	Substitutions      int
	RenamedIdentifiers int
	FoldedStrings      int
	StrippedSections   int
}

// Build transforms the canonical source artifact into the distribution
// artifact for cfg. Any step failure aborts the whole build.
func Build(source []byte, cfg Config) ([]byte, *Result, error) {
	text := string(source)

	prefix, block, suffix, err := locateBlock(text)
	if err != nil {
		return nil, nil, err
	}

	block, substitutions, err := substituteLiterals(block, cfg.Prior, cfg.New)
	if err != nil {
		return nil, nil, err
	}

	block, renamed, folded, err := obfuscate(block, cfg)
	if err != nil {
		return nil, nil, err
	}

	block = guardSnippet(cfg) + "\n" + block

	out := prefix + blockBegin + "\n" + block + "\n" + blockEnd + suffix
	out, stripped := stripVariantSections(out, cfg.Name)

	result := &Result{
		OutputSize:         len(out),
		Substitutions:      substitutions,
		RenamedIdentifiers: renamed,
		FoldedStrings:      folded,
		StrippedSections:   stripped,
	}
	return []byte(out), result, nil
}

// BuildFile runs Build over the fixed source path and writes the output
// artifact only on full success.
func BuildFile(cfg Config, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	source, err := os.ReadFile(cfg.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("read source artifact %s: %w", cfg.SourcePath, err)
	}

	out, result, err := Build(source, cfg)
	if err != nil {
		return nil, err
	}

	tmp := cfg.OutputPath + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return nil, fmt.Errorf("write output artifact: %w", err)
	}
	if err := os.Rename(tmp, cfg.OutputPath); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("commit output artifact: %w", err)
	}

	logger.Info("variant artifact built",
		slog.String("variant", cfg.Name),
		slog.String("output", cfg.OutputPath),
		slog.Int("size_bytes", result.OutputSize),
		slog.Int("substitutions", result.Substitutions),
		slog.Int("renamed_identifiers", result.RenamedIdentifiers),
		slog.Int("folded_strings", result.FoldedStrings),
	)
	return result, nil
}

// locateBlock splits the artifact around the delimited activation block. A
// missing delimiter means the structural assumption no longer holds; fail
// loudly instead of proceeding.
func locateBlock(text string) (prefix, block, suffix string, err error) {
	begin := strings.Index(text, blockBegin)
	if begin < 0 {
		return "", "", "", fmt.Errorf("%q: %w", blockBegin, ErrDelimiterNotFound)
	}
	rest := text[begin+len(blockBegin):]
	end := strings.Index(rest, blockEnd)
	if end < 0 {
		return "", "", "", fmt.Errorf("%q: %w", blockEnd, ErrDelimiterNotFound)
	}
	return text[:begin], strings.Trim(rest[:end], "\n"), rest[end+len(blockEnd):], nil
}

// substituteLiterals replaces the prior secret, namespace, and permanent code
// with the new variant's values. Every expected prior literal must be present
// and every replacement non-empty.
func substituteLiterals(block string, prior, next Literals) (string, int, error) {
	pairs := []struct {
		what string
		old  string
		new  string
	}{
		{"secret", prior.Secret, next.Secret},
		{"storage namespace", prior.StorageNamespace, next.StorageNamespace},
		{"permanent code", prior.PermanentCode, next.PermanentCode},
	}

	count := 0
	for _, p := range pairs {
		if p.old == "" || p.new == "" {
			return "", 0, fmt.Errorf("%s literal not configured: %w", p.what, ErrSubstitutionTargetMissing)
		}
		occurrences := strings.Count(block, p.old)
		if occurrences == 0 {
			return "", 0, fmt.Errorf("%s: %w", p.what, ErrSubstitutionTargetMissing)
		}
		block = strings.ReplaceAll(block, p.old, p.new)
		count += occurrences
	}
	return block, count, nil
}

var sectionPattern = regexp.MustCompile(`(?s)[ \t]*<!-- variant:([A-Za-z0-9_-]+) -->\n?(.*?)[ \t]*<!-- /variant:([A-Za-z0-9_-]+) -->\n?`)

// stripVariantSections removes UI sections tagged for other variants and
// unwraps the sections tagged for this one.
func stripVariantSections(text, variantName string) (string, int) {
	stripped := 0
	out := sectionPattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := sectionPattern.FindStringSubmatch(match)
		if groups[1] != groups[3] {
			// Mismatched markers; leave untouched rather than guessing.
			return match
		}
		if groups[1] == variantName {
			return groups[2]
		}
		stripped++
		return ""
	})
	return out, stripped
}

// guardSnippet returns the defensive prelude prepended to the activation
// block: shortcut and context-menu suppression, a periodic viewport-delta
// inspection heuristic with escalation, and an inert breakpoint speed bump.
// Typed text and clipboard use are deliberately left alone.
func guardSnippet(cfg Config) string {
	if cfg.GuardSnippet != "" {
		return cfg.GuardSnippet
	}
	return defaultGuardSnippet
}

const defaultGuardSnippet = `(function(){"use strict";
var hits=0;
document.addEventListener("contextmenu",function(e){e.preventDefault();});
document.addEventListener("keydown",function(e){
  var k=e.key;
  if(k==="F12"||(e.ctrlKey&&e.shiftKey&&(k==="I"||k==="J"||k==="C"))||(e.ctrlKey&&k==="u")||(e.ctrlKey&&k==="U")){
    e.preventDefault();e.stopPropagation();
  }
});
setInterval(function(){
  var dw=window.outerWidth-window.innerWidth,dh=window.outerHeight-window.innerHeight;
  if(dw>160||dh>160){hits++;}else{hits=0;}
  if(hits>=3){document.body.innerHTML="<div style='padding:4em;text-align:center;font-family:sans-serif'>This page has been disabled.</div>";}
},2000);
setInterval(function(){debugger;},4000);
})();`
