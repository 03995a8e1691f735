//go:build ignore

// build.go - notiflogger activation daemon build script
// Usage: go run build.go [-target=TARGET] [-v]
// Targets: build, test, release, clean

package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	version = "0.1.0"
	module  = "notiflogger"
	binary  = "notiflogger-activation"
)

// BuildContext holds configuration for the build process
type BuildContext struct {
	Verbose bool
	Version string
}

var (
	distDir = "dist"

	// release platforms as GOOS/GOARCH
	platforms = []string{"linux/amd64", "linux/arm64", "linux/arm", "darwin/arm64", "windows/amd64"}

	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorBlue  = "\033[34m"
	colorCyan  = "\033[36m"
)

func main() {
	target := flag.String("target", "build", "Build target")
	verbose := flag.Bool("v", false, "Verbose output")
	ver := flag.String("version", version, "Version stamped into the binary")
	flag.Parse()

	printHeader()
	startTime := time.Now()

	ctx := &BuildContext{Verbose: *verbose, Version: *ver}

	var err error
	switch *target {
	case "build":
		err = buildBinary(ctx, "", "")
	case "test":
		err = runTests(ctx)
	case "release":
		err = buildRelease(ctx)
	case "clean":
		err = os.RemoveAll(distDir)
	default:
		showHelp()
		os.Exit(1)
	}
	if err != nil {
		printError(err.Error())
		os.Exit(1)
	}

	printSuccess(fmt.Sprintf("Completed %s in %s", *target, time.Since(startTime).Round(time.Millisecond)))
}

func printHeader() {
	fmt.Println(colorCyan + "===========================================" + colorReset)
	fmt.Println(colorCyan + "   notiflogger activation - Build System   " + colorReset)
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

// buildBinary compiles the daemon. Empty goos/goarch build for the host.
func buildBinary(ctx *BuildContext, goos, goarch string) error {
	name := binary
	if goos != "" {
		name = fmt.Sprintf("%s-%s-%s", binary, goos, goarch)
	}
	if goos == "windows" {
		name += ".exe"
	}
	output := filepath.Join(distDir, name)
	printInfo(fmt.Sprintf("Building %s...", name))

	ldflags := fmt.Sprintf("-s -w -X %s/internal/app.Version=%s -X %s/internal/app.BuildTime=%s",
		module, ctx.Version, module, time.Now().UTC().Format(time.RFC3339))

	args := []string{"build", "-trimpath", "-ldflags", ldflags, "-o", output, "./cmd/" + binary}
	if ctx.Verbose {
		args = append([]string{"build", "-v"}, args[1:]...)
		fmt.Printf("Running: go %s\n", strings.Join(args, " "))
	}

	cmd := exec.Command("go", args...)
	cmd.Env = os.Environ()
	if goos != "" {
		cmd.Env = append(cmd.Env, "GOOS="+goos, "GOARCH="+goarch, "CGO_ENABLED=0")
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to build %s: %w", name, err)
	}

	if info, err := os.Stat(output); err == nil {
		printSuccess(fmt.Sprintf("Built %s (%.1f MB)", name, float64(info.Size())/1024/1024))
	}
	return nil
}

func buildRelease(ctx *BuildContext) error {
	for _, p := range platforms {
		goos, goarch, _ := strings.Cut(p, "/")
		if err := buildBinary(ctx, goos, goarch); err != nil {
			return err
		}
	}
	return nil
}

func runTests(ctx *BuildContext) error {
	printInfo("Running Go tests...")
	args := []string{"test", "-race"}
	if ctx.Verbose {
		args = append(args, "-v")
	}
	args = append(args, "./...")

	cmd := exec.Command("go", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go tests failed: %w", err)
	}
	return nil
}

func showHelp() {
	fmt.Println("Usage: go run build.go -target=<target> [-v] [-version=X.Y.Z]")
	fmt.Println()
	fmt.Println("Targets:")
	fmt.Println("  build    Build the daemon for this platform into dist/")
	fmt.Println("  test     Run go test -race ./...")
	fmt.Println("  release  Cross-compile the daemon for every release platform")
	fmt.Println("  clean    Remove dist/")
}
