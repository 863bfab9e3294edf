package variant

import (
	"fmt"
	"os"
	"sort"
	"strings"

	yaml "gopkg.in/yaml.v2"

	"clausecli/internal/license"
)

// manifest is the on-disk YAML shape enumerating the target distributions.
// Prior literals are declared once: they describe the canonical source, which
// is the same for every variant.
type manifest struct {
	Source      string                     `yaml:"source"`
	EntryPoints []string                   `yaml:"entry_points"`
	Prior       manifestLiterals           `yaml:"prior"`
	Variants    map[string]manifestVariant `yaml:"variants"`
}

type manifestLiterals struct {
	Secret           string `yaml:"secret"`
	StorageNamespace string `yaml:"storage_namespace"`
	PermanentCode    string `yaml:"permanent_code"`
}

type manifestVariant struct {
	Secret           string `yaml:"secret"`
	StorageNamespace string `yaml:"storage_namespace"`
	PermanentCode    string `yaml:"permanent_code"`
	Output           string `yaml:"output"`
	GuardSnippet     string `yaml:"guard_snippet"`
}

// LoadManifest reads the variant manifest at path and expands it into one
// Config per declared variant. Permanent code literals are parsed up front so
// a mistyped code fails the build instead of shipping unredeemable.
func LoadManifest(path string) (map[string]Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m manifest
	if err := yaml.UnmarshalStrict(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	if m.Source == "" {
		return nil, fmt.Errorf("manifest %s: source is required", path)
	}
	if len(m.Variants) == 0 {
		return nil, fmt.Errorf("manifest %s: no variants declared", path)
	}
	if err := m.Prior.validate("prior"); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}

	configs := make(map[string]Config, len(m.Variants))
	for name, v := range m.Variants {
		lits := manifestLiterals{
			Secret:           v.Secret,
			StorageNamespace: v.StorageNamespace,
			PermanentCode:    v.PermanentCode,
		}
		if err := lits.validate("variant " + name); err != nil {
			return nil, fmt.Errorf("manifest %s: %w", path, err)
		}
		if v.Output == "" {
			return nil, fmt.Errorf("manifest %s: variant %s: output is required", path, name)
		}
		configs[name] = Config{
			Name: name,
			Prior: Literals{
				Secret:           m.Prior.Secret,
				StorageNamespace: m.Prior.StorageNamespace,
				PermanentCode:    m.Prior.PermanentCode,
			},
			New: Literals{
				Secret:           v.Secret,
				StorageNamespace: v.StorageNamespace,
				PermanentCode:    v.PermanentCode,
			},
			EntryPoints:  m.EntryPoints,
			GuardSnippet: v.GuardSnippet,
			SourcePath:   m.Source,
			OutputPath:   v.Output,
		}
	}
	return configs, nil
}

func (l manifestLiterals) validate(where string) error {
	if l.Secret == "" {
		return fmt.Errorf("%s: secret is required", where)
	}
	if l.StorageNamespace == "" {
		return fmt.Errorf("%s: storage_namespace is required", where)
	}
	parsed, err := license.ParseCode(l.PermanentCode)
	if err != nil {
		return fmt.Errorf("%s: permanent_code %q: %w", where, l.PermanentCode, err)
	}
	if parsed.Class() != license.ClassPermanent {
		return fmt.Errorf("%s: permanent_code %q has the expiring shape", where, l.PermanentCode)
	}
	return nil
}

// VariantNames lists the declared variants in stable order, for diagnostics.
func VariantNames(configs map[string]Config) string {
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
