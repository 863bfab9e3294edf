package variant

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSource = `<!DOCTYPE html>
<html>
<body>
  <!-- variant:retail -->
  <p id="retail-banner">Retail edition</p>
  <!-- /variant:retail -->
  <!-- variant:enterprise -->
  <p id="enterprise-banner">Enterprise edition</p>
  <!-- /variant:enterprise -->
  <button onclick="activateLicense()">Activate</button>
<script>
/* ==ACTIVATION-CORE-BEGIN== */
var storageNamespace = "dev-namespace";
var distributionSecret = "dev-secret-value";
var permanentCode = "DEV0-PERM-CODE-0000-0000";
function normalizeInput(raw) {
  return raw.replace(/-/g, "").toUpperCase();
}
function activateLicense() {
  var code = normalizeInput(document.getElementById("code").value);
  return code !== permanentCode;
}
function checkLicense() {
  return localStorage.getItem(storageNamespace) !== null;
}
/* ==ACTIVATION-CORE-END== */
</script>
</body>
</html>
`

func testConfig() Config {
	return Config{
		Name: "retail",
		Prior: Literals{
			Secret:           "dev-secret-value",
			StorageNamespace: "dev-namespace",
			PermanentCode:    "DEV0-PERM-CODE-0000-0000",
		},
		New: Literals{
			Secret:           "retail-secret-value",
			StorageNamespace: "retail-namespace",
			PermanentCode:    "RET0-PERM-CODE-1111-1111",
		},
		EntryPoints: []string{"activateLicense", "checkLicense"},
	}
}

func TestBuildStampsNewLiterals(t *testing.T) {
	out, result, err := Build([]byte(testSource), testConfig())
	require.NoError(t, err)

	text := string(out)
	assert.Contains(t, text, "retail-secret-value")
	assert.Contains(t, text, "retail-namespace")
	assert.Contains(t, text, "RET0-PERM-CODE-1111-1111")

	// No prior literal survives in the delivered artifact.
	assert.NotContains(t, text, "dev-secret-value")
	assert.NotContains(t, text, "dev-namespace")
	assert.NotContains(t, text, "DEV0-PERM-CODE-0000-0000")

	assert.Equal(t, 3, result.Substitutions)
}

func TestBuildFailsClosedOnMissingDelimiter(t *testing.T) {
	source := strings.Replace(testSource, "/* ==ACTIVATION-CORE-END== */", "", 1)
	_, _, err := Build([]byte(source), testConfig())
	assert.ErrorIs(t, err, ErrDelimiterNotFound)
}

func TestBuildFailsClosedOnMissingPriorLiteral(t *testing.T) {
	cfg := testConfig()
	cfg.Prior.Secret = "never-present-in-source"
	_, _, err := Build([]byte(testSource), cfg)
	assert.ErrorIs(t, err, ErrSubstitutionTargetMissing)
}

func TestBuildFailsClosedOnUnconfiguredLiteral(t *testing.T) {
	cfg := testConfig()
	cfg.New.PermanentCode = ""
	_, _, err := Build([]byte(testSource), cfg)
	assert.ErrorIs(t, err, ErrSubstitutionTargetMissing)
}

func TestBuildPreservesEntryPoints(t *testing.T) {
	out, result, err := Build([]byte(testSource), testConfig())
	require.NoError(t, err)

	text := string(out)
	for _, name := range []string{"activateLicense", "checkLicense"} {
		assert.Regexp(t, regexp.MustCompile(`\bfunction `+name+`\b`), text,
			"entry point %s must survive the transform verbatim", name)
	}

	// Internal names are renamed; the markup-facing ones are not.
	assert.NotContains(t, text, "normalizeInput")
	assert.NotContains(t, text, "distributionSecret")
	assert.Equal(t, 5, result.RenamedIdentifiers)
	// The DOM id the renamed code looks up is spelled out in a string and
	// must not be rewritten along with the identifier of the same name.
	assert.Contains(t, text, `"code"`)
}

func TestBuildRejectsLostEntryPoint(t *testing.T) {
	cfg := testConfig()
	cfg.EntryPoints = append(cfg.EntryPoints, "functionThatDoesNotExist")
	_, _, err := Build([]byte(testSource), cfg)
	assert.ErrorIs(t, err, ErrObfuscationFailed)
}

func TestBuildFoldsStringLiterals(t *testing.T) {
	out, result, err := Build([]byte(testSource), testConfig())
	require.NoError(t, err)

	text := string(out)
	assert.Contains(t, text, "var _zs=[")
	assert.Contains(t, text, "_zs[0]")
	assert.Greater(t, result.FoldedStrings, 0)
}

func TestBuildIsDeterministic(t *testing.T) {
	first, _, err := Build([]byte(testSource), testConfig())
	require.NoError(t, err)
	second, _, err := Build([]byte(testSource), testConfig())
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestBuildStripsOtherVariantSections(t *testing.T) {
	out, result, err := Build([]byte(testSource), testConfig())
	require.NoError(t, err)

	text := string(out)
	assert.Contains(t, text, "retail-banner")
	assert.NotContains(t, text, "enterprise-banner")
	// Marker comments are consumed either way.
	assert.NotContains(t, text, "<!-- variant:")
	assert.Equal(t, 1, result.StrippedSections)
}

func TestBuildPrependsGuardSnippet(t *testing.T) {
	out, _, err := Build([]byte(testSource), testConfig())
	require.NoError(t, err)
	text := string(out)
	assert.Contains(t, text, "contextmenu")
	assert.Contains(t, text, "debugger")

	cfg := testConfig()
	cfg.GuardSnippet = "/* custom guard */"
	out, _, err = Build([]byte(testSource), cfg)
	require.NoError(t, err)
	assert.Contains(t, string(out), "/* custom guard */")
	assert.NotContains(t, string(out), "contextmenu")
}

func TestBuildFileWritesOutputAtomically(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.SourcePath = filepath.Join(dir, "activation.src.html")
	cfg.OutputPath = filepath.Join(dir, "activation.html")
	require.NoError(t, os.WriteFile(cfg.SourcePath, []byte(testSource), 0o644))

	result, err := BuildFile(cfg, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(cfg.OutputPath)
	require.NoError(t, err)
	assert.Len(t, data, result.OutputSize)
	assert.NoFileExists(t, cfg.OutputPath+".tmp")
}

func TestBuildFileLeavesNoOutputOnFailure(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Prior.Secret = "never-present-in-source"
	cfg.SourcePath = filepath.Join(dir, "activation.src.html")
	cfg.OutputPath = filepath.Join(dir, "activation.html")
	require.NoError(t, os.WriteFile(cfg.SourcePath, []byte(testSource), 0o644))

	_, err := BuildFile(cfg, nil)
	require.Error(t, err)
	assert.NoFileExists(t, cfg.OutputPath)
}
