package registry

import (
	"context"
	"os"
	"regexp"
	"strings"

	"apex-build/internal/broker"
	"apex-build/internal/process"
)

// initializeDescriptor runs the version-probe command against a local
// compiler, matches it against the descriptor's version regex, and
// discovers argument-parser capabilities by invoking the compiler with a
// help flag and scraping supported options. Descriptors whose probe fails
// entirely are dropped by the caller; descriptors are never mutated after
// this returns and the result is published.
func initializeDescriptor(ctx context.Context, d *broker.CompilerDescriptor) error {
	dir := os.TempDir()

	probeArgs := []string{d.VersionProbe}
	res, err := process.Run(ctx, d.Exe, probeArgs, process.Options{Dir: dir, TimeoutMs: 5000})
	if err != nil {
		return err
	}
	combined := res.Stdout + res.Stderr

	re, err := regexp.Compile(d.VersionRegex)
	if err == nil {
		if m := re.FindStringSubmatch(combined); m != nil && len(m) > 1 {
			d.DiscoveredVersion = m[1]
		} else {
			d.DiscoveredVersion = strings.TrimSpace(firstLine(combined))
		}
	} else {
		d.DiscoveredVersion = strings.TrimSpace(firstLine(combined))
	}

	discoverCapabilities(ctx, d, dir)
	return nil
}

// discoverCapabilities invokes the compiler with --help and scrapes the
// output for option tokens that indicate support for particular features,
// standing in for a full argument-parser introspection.
func discoverCapabilities(ctx context.Context, d *broker.CompilerDescriptor, dir string) {
	res, err := process.Run(ctx, d.Exe, []string{"--help"}, process.Options{Dir: dir, TimeoutMs: 5000})
	help := ""
	if err == nil {
		help = res.Stdout + res.Stderr
	}

	isClang := strings.Contains(strings.ToLower(d.DiscoveredVersion), "clang") ||
		strings.Contains(strings.ToLower(d.Name), "clang")

	d.Caps.SupportsBinary = true
	d.Caps.SupportsExecute = true
	d.Caps.SupportsObjdump = true
	d.Caps.SupportsIntelAsm = isClang || strings.Contains(help, "-masm=intel")
	d.Caps.SupportsASTDump = isClang
	d.Caps.SupportsOptRecord = isClang && strings.Contains(help, "opt-record")
	d.Caps.SupportsCFG = d.SupportsCFGFamily() || isClang || strings.Contains(strings.ToLower(d.Name), "g++")

	if isClang && d.IntelAsmFlag == "" {
		d.IntelAsmFlag = "-masm=intel"
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
