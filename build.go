// build.go - clausecli build system
// Usage: go run build.go [-target=TARGET]
// Targets: all, web, variantbuild, keygen, variants, clean, test, release, package

package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const (
	version = "0.3.0"
	module  = "clausecli"
)

// BuildContext holds configuration for the build process.
type BuildContext struct {
	Verbose bool

	// Distribution stamping. When DistSecret is set the binaries are linked
	// with variant-specific constants instead of the dev defaults.
	DistName      string
	DistNamespace string
	DistSecret    string
	DistPermanent string
}

var (
	rootDir string
	distDir string

	// Executable names (key = source dir name, value = output exe name)
	executables = map[string]string{
		"web":          exeName("clausecli-web"),
		"variantbuild": exeName("variantbuild"),
		"keygen":       exeName("keygen"),
	}

	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
)

func exeName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}

func init() {
	cwd, err := os.Getwd()
	if err != nil {
		panic(fmt.Sprintf("Failed to get current directory: %v", err))
	}
	rootDir = cwd
	distDir = filepath.Join(rootDir, "dist")

	if _, err := os.Stat(filepath.Join(rootDir, "go.mod")); os.IsNotExist(err) {
		panic("go.mod not found - run build.go from the repository root")
	}
}

func main() {
	target := flag.String("target", "all", "Build target")
	verbose := flag.Bool("v", false, "Verbose output")
	distName := flag.String("dist-name", "", "Distribution variant name to stamp into the binaries")
	distNamespace := flag.String("dist-namespace", "", "Storage namespace for the distribution variant")
	distSecret := flag.String("dist-secret", "", "Distribution secret for the variant")
	distPermanent := flag.String("dist-permanent-code", "", "Permanent activation code literal for the variant")
	flag.Parse()

	if runtime.GOOS == "windows" {
		enableWindowsColors()
	}

	printHeader()

	startTime := time.Now()

	ctx := &BuildContext{
		Verbose:       *verbose,
		DistName:      *distName,
		DistNamespace: *distNamespace,
		DistSecret:    *distSecret,
		DistPermanent: *distPermanent,
	}

	switch *target {
	case "all":
		buildAll(ctx)
	case "web":
		buildExecutable("web", ctx)
	case "variantbuild":
		buildExecutable("variantbuild", ctx)
	case "keygen":
		buildExecutable("keygen", ctx)
	case "variants":
		buildVariantArtifacts(ctx)
	case "clean":
		clean(ctx.Verbose)
	case "test":
		runTests(ctx.Verbose)
	case "release":
		buildRelease(ctx)
	case "package":
		createPackage(ctx)
	default:
		showHelp()
		os.Exit(1)
	}

	duration := time.Since(startTime)
	printSuccess(fmt.Sprintf("Build completed in %s", duration.Round(time.Millisecond)))
}

func printHeader() {
	fmt.Println(colorCyan + "===========================================" + colorReset)
	fmt.Println(colorCyan + "        clausecli - Build System           " + colorReset)
	fmt.Println(colorCyan + "===========================================" + colorReset)
	fmt.Println()
}

func printInfo(msg string) {
	fmt.Printf("%s[INFO]%s %s\n", colorBlue, colorReset, msg)
}

func printSuccess(msg string) {
	fmt.Printf("%s[SUCCESS]%s %s\n", colorGreen, colorReset, msg)
}

func printError(msg string) {
	fmt.Printf("%s[ERROR]%s %s\n", colorRed, colorReset, msg)
}

func printWarning(msg string) {
	fmt.Printf("%s[WARNING]%s %s\n", colorYellow, colorReset, msg)
}

func enableWindowsColors() {
	cmd := exec.Command("cmd", "/c", "echo", "")
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	cmd.Run()
}

// Build all components
func buildAll(ctx *BuildContext) {
	printInfo("Building all components...")

	if err := checkPrerequisites(); err != nil {
		printError(fmt.Sprintf("Prerequisites check failed: %v", err))
		os.Exit(1)
	}

	prepareDirectories()

	for name := range executables {
		buildExecutable(name, ctx)
	}

	printSuccess("All components built successfully!")
}

// Build a specific executable
func buildExecutable(name string, ctx *BuildContext) {
	outName, ok := executables[name]
	if !ok {
		printError(fmt.Sprintf("Unknown executable: %s", name))
		os.Exit(1)
	}

	printInfo(fmt.Sprintf("Building %s...", name))

	outputPath := filepath.Join(distDir, outName)
	sourcePath := "./cmd/" + name

	ldflags := fmt.Sprintf("-s -w -X main.Version=%s -X main.BuildTime=%s",
		version, time.Now().Format(time.RFC3339))

	// Stamp distribution constants when a variant is requested. The web
	// binary falls back to dev defaults otherwise.
	if ctx.DistSecret != "" {
		if ctx.DistName == "" || ctx.DistNamespace == "" {
			printError("-dist-name and -dist-namespace are required when stamping a distribution secret")
			os.Exit(1)
		}
		ldflags += fmt.Sprintf(" -X %s/internal/config.distName=%s", module, ctx.DistName)
		ldflags += fmt.Sprintf(" -X %s/internal/config.distNamespace=%s", module, ctx.DistNamespace)
		ldflags += fmt.Sprintf(" -X %s/internal/config.distSecret=%s", module, ctx.DistSecret)
		if ctx.DistPermanent != "" {
			ldflags += fmt.Sprintf(" -X %s/internal/config.distPermanent=%s", module, ctx.DistPermanent)
		}
		printInfo(fmt.Sprintf("Stamping distribution variant %q", ctx.DistName))
	}

	args := []string{
		"build",
		"-ldflags", ldflags,
		"-o", outputPath,
		sourcePath,
	}
	if ctx.Verbose {
		args = append([]string{"build", "-v"}, args[1:]...)
	}

	cmd := exec.Command("go", args...)
	cmd.Dir = rootDir
	if ctx.Verbose {
		fmt.Printf("Running: go %s\n", strings.Join(args, " "))
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Run(); err != nil {
		printError(fmt.Sprintf("Failed to build %s: %v", name, err))
		os.Exit(1)
	}

	if info, err := os.Stat(outputPath); err == nil {
		sizeMB := float64(info.Size()) / 1024 / 1024
		printSuccess(fmt.Sprintf("Built %s (%.1f MB)", outName, sizeMB))
	}
}

// Build the web artifacts for every known variant via the variant builder.
func buildVariantArtifacts(ctx *BuildContext) {
	printInfo("Building variant web artifacts...")

	builder := filepath.Join(distDir, executables["variantbuild"])
	if _, err := os.Stat(builder); os.IsNotExist(err) {
		printWarning("variantbuild not built, building now...")
		buildExecutable("variantbuild", ctx)
	}

	// Variants declared in the manifest; keep this list in sync.
	for _, variant := range []string{"retail", "enterprise"} {
		printInfo(fmt.Sprintf("Building %s artifact...", variant))
		cmd := exec.Command(builder, "-variant", variant, "-config", "variants.yaml")
		cmd.Dir = rootDir
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			printError(fmt.Sprintf("Variant build for %s failed: %v", variant, err))
			os.Exit(1)
		}
	}

	printSuccess("Variant artifacts built")
}

// Clean build artifacts
func clean(verbose bool) {
	printInfo("Cleaning build artifacts and logs...")

	clearLogs(verbose)

	if err := cleanDir(distDir); err != nil && !os.IsNotExist(err) {
		printError(fmt.Sprintf("Failed to clean dist directory: %v", err))
	}

	printSuccess("Build artifacts cleaned")
}

// Run tests
func runTests(verbose bool) {
	printInfo("Running Go tests...")
	args := []string{"test", "-race"}
	if verbose {
		args = append(args, "-v")
	}
	args = append(args, "./...")

	cmd := exec.Command("go", args...)
	cmd.Dir = rootDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		printError(fmt.Sprintf("Go tests failed: %v", err))
		os.Exit(1)
	}

	printSuccess("All tests passed")
}

// Build release version with optimizations
func buildRelease(ctx *BuildContext) {
	printInfo("Building release version...")

	if ctx.DistSecret == "" {
		printError("Release builds require distribution stamping: pass -dist-name, -dist-namespace and -dist-secret")
		os.Exit(1)
	}

	clean(ctx.Verbose)

	os.Setenv("CGO_ENABLED", "0")

	buildAll(ctx)
	buildVariantArtifacts(ctx)

	versionFile := filepath.Join(distDir, "VERSION.txt")
	content := fmt.Sprintf("clausecli v%s\nVariant: %s\nBuilt: %s\n",
		version, ctx.DistName, time.Now().Format("2006-01-02 15:04:05"))
	os.WriteFile(versionFile, []byte(content), 0644)

	printSuccess("Release build completed")
}

// Create distribution package
func createPackage(ctx *BuildContext) {
	printInfo("Creating distribution package...")

	if _, err := os.Stat(filepath.Join(distDir, executables["web"])); os.IsNotExist(err) {
		printWarning("No release build found, building now...")
		buildRelease(ctx)
	}

	packageName := fmt.Sprintf("clausecli-v%s", version)
	if ctx.DistName != "" {
		packageName += "-" + ctx.DistName
	}
	packageDir := filepath.Join(rootDir, packageName)

	os.RemoveAll(packageDir)

	if err := copyDir(distDir, packageDir); err != nil {
		printError(fmt.Sprintf("Failed to create package: %v", err))
		os.Exit(1)
	}

	if _, err := os.Stat("README.md"); err == nil {
		copyFile("README.md", filepath.Join(packageDir, "README.txt"))
	}

	printInfo(fmt.Sprintf("Package created in %s", packageDir))
	printSuccess("Distribution package ready")
}

// Helper functions

func checkPrerequisites() error {
	if err := exec.Command("go", "version").Run(); err != nil {
		return fmt.Errorf("Go is not installed or not in PATH")
	}
	return nil
}

func prepareDirectories() {
	dirs := []string{
		distDir,
		filepath.Join(distDir, "retail"),
		filepath.Join(distDir, "enterprise"),
		filepath.Join(distDir, "logs"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			printError(fmt.Sprintf("Failed to create directory %s: %v", dir, err))
		}
	}
}

func copyFile(src, dest string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	return os.WriteFile(dest, input, 0644)
}

func copyDir(src, dest string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		destPath := filepath.Join(dest, relPath)
		if info.IsDir() {
			return os.MkdirAll(destPath, 0755)
		}
		return copyFile(path, destPath)
	})
}

// Clear all log files
func clearLogs(verbose bool) {
	printInfo("Clearing log files...")

	logDirs := []string{
		filepath.Join(distDir, "logs"),
		filepath.Join(rootDir, "logs"),
	}

	for _, dir := range logDirs {
		if _, err := os.Stat(dir); err == nil {
			filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
				if err != nil {
					return nil
				}
				if !info.IsDir() && strings.HasSuffix(path, ".log") {
					if verbose {
						fmt.Printf("  Removing: %s\n", path)
					}
					os.Remove(path)
				}
				return nil
			})
		}
	}

	rootLogs, _ := filepath.Glob(filepath.Join(rootDir, "*.log"))
	for _, logFile := range rootLogs {
		if verbose {
			fmt.Printf("  Removing: %s\n", logFile)
		}
		os.Remove(logFile)
	}

	printSuccess("Log files cleared")
}

func cleanDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()

	names, err := d.Readdirnames(-1)
	if err != nil {
		return err
	}

	for _, name := range names {
		if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

func showHelp() {
	fmt.Println("Usage: go run build.go [-target=TARGET] [-v] [distribution flags]")
	fmt.Println()
	fmt.Println("Targets:")
	fmt.Println("  all               Build all executables (default)")
	fmt.Println("  web               Build the licensed web server")
	fmt.Println("  variantbuild      Build the variant artifact builder")
	fmt.Println("  keygen            Build the activation code generator")
	fmt.Println("  variants          Build the per-variant web artifacts")
	fmt.Println("  clean             Clean build artifacts")
	fmt.Println("  test              Run all tests")
	fmt.Println("  release           Build a stamped release")
	fmt.Println("  package           Create distribution package")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -v                     Verbose output")
	fmt.Println("  -dist-name             Variant name stamped into the binaries")
	fmt.Println("  -dist-namespace        Storage namespace for the variant")
	fmt.Println("  -dist-secret           Distribution secret for the variant")
	fmt.Println("  -dist-permanent-code   Permanent code literal for the variant")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  go run build.go -target=release -dist-name=retail -dist-namespace=clausecli-retail -dist-secret=...")
	fmt.Println("  go run build.go -target=variants")
}
