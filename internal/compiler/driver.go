// Package compiler implements the Compiler Driver (C5): for one compiler
// descriptor, it translates a request into an argument vector, runs the
// Process Runner, drives objdump/AST/opt-record passes and demangling,
// invokes the Assembly Cleaner and CFG Builder, and optionally the
// Sandbox.
package compiler

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"apex-build/internal/asmclean"
	"apex-build/internal/broker"
	"apex-build/internal/brokerconfig"
	"apex-build/internal/cfgbuild"
	"apex-build/internal/logging"
	"apex-build/internal/metrics"
	"apex-build/internal/process"
	"apex-build/internal/sandbox"
	"apex-build/internal/workspace"
)

// Driver runs the per-compiler compile pipeline described in §4.5.
type Driver struct {
	cfg        *brokerconfig.Config
	workspaces *workspace.Manager
	sandbox    sandbox.Sandbox
	forbidden  map[string]bool

	// lane is the bounded-concurrency enqueue lane: a buffered channel
	// used as a counting semaphore, FIFO within the width it admits.
	lane chan struct{}
}

// New creates a Driver. forbidden is the configured bad-option set (empty
// disables the screen).
func New(cfg *brokerconfig.Config, workspaces *workspace.Manager, sb sandbox.Sandbox, forbidden []string) *Driver {
	forbiddenSet := make(map[string]bool, len(forbidden))
	for _, f := range forbidden {
		forbiddenSet[f] = true
	}
	width := cfg.EnqueueLaneWidth
	if width <= 0 {
		width = 1
	}
	return &Driver{
		cfg:        cfg,
		workspaces: workspaces,
		sandbox:    sb,
		forbidden:  forbiddenSet,
		lane:       make(chan struct{}, width),
	}
}

// Compile runs the full pipeline for one (descriptor, request) pair. On
// success it returns the *workspace.Handle backing OutputFilePath when the
// result is cacheable and has a binary output, nil otherwise. The driver
// has already dropped its own reference to that handle, so its directory
// becomes eligible for sweeping unless a holder calls Retain — the Result
// Cache does so on Put and releases it on eviction.
func (d *Driver) Compile(ctx context.Context, desc *broker.CompilerDescriptor, req broker.CompileRequest) (result *broker.CompileResult, handle *workspace.Handle, err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		} else if result != nil && !result.OkToCache {
			outcome = "not-cacheable"
		}
		metrics.Get().RecordCompile(desc.ID, outcome, time.Since(start))
	}()

	req.Filters = req.Filters.Normalize(desc.Caps.SupportsBinary)

	if err := checkForbiddenOptions(req.UserArguments, d.forbidden); err != nil {
		return nil, nil, err
	}
	if err := checkIncludeGuard(req.Source); err != nil {
		return nil, nil, err
	}

	source := req.Source
	if desc.StubRegex != "" {
		if re, reErr := regexp.Compile(desc.StubRegex); reErr == nil && needsStub(source, req.Filters, re) {
			source = source + "\n" + desc.StubText + "\n"
		}
	}

	// Enqueue lane: bounded-concurrency, FIFO within one lane.
	select {
	case d.lane <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	defer func() { <-d.lane }()
	metrics.Get().CompilesInFlight.Inc()
	defer metrics.Get().CompilesInFlight.Dec()

	h, err := d.workspaces.Acquire()
	if err != nil {
		return nil, nil, fmt.Errorf("compiler: acquire workspace: %w", err)
	}
	completed := false
	defer func() {
		if !completed {
			d.workspaces.ReleaseCompile(h)
		}
	}()

	if err := os.WriteFile(h.InputPath(), []byte(source), 0o644); err != nil {
		return nil, nil, fmt.Errorf("compiler: write source: %w", err)
	}

	result, err = d.runPipeline(ctx, desc, req, h)
	if err != nil {
		return nil, nil, err
	}

	completed = true
	if result.OkToCache {
		// The Result Cache owns the handle's lifetime from here; the
		// workspace itself is released only when it's evicted or
		// never retained at all (no binary output to serve).
		d.workspaces.ReleaseCompile(h)
		if result.OutputFilePath == "" {
			return result, nil, nil
		}
		return result, h, nil
	}
	d.workspaces.ReleaseCompile(h)
	return result, nil, nil
}

// runPipeline drives the main compile, the parallel AST probe, the
// post-compile transformation chain, and optional sandboxed execution.
func (d *Driver) runPipeline(ctx context.Context, desc *broker.CompilerDescriptor, req broker.CompileRequest, h *workspace.Handle) (*broker.CompileResult, error) {
	args := assembleArgs(desc, req, h)

	var mainRes *process.Result
	var mainErr error
	var astOutput string

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		mainRes, mainErr = process.Run(ctx, desc.Exe, args, process.Options{
			Dir:       h.Dir,
			TimeoutMs: d.cfg.CompileTimeoutMs,
			MaxOutput: d.cfg.MaxErrorOutput,
		})
	}()

	wantAst := req.BackendOptions.ProduceAst && desc.Caps.SupportsASTDump && clangAtLeast(desc.DiscoveredVersion, 3, 3)
	if wantAst {
		wg.Add(1)
		go func() {
			defer wg.Done()
			astArgs := astProbeArgs(desc, req, h)
			astRes, err := process.Run(ctx, desc.Exe, astArgs, process.Options{
				Dir:       h.Dir,
				TimeoutMs: d.cfg.CompileTimeoutMs,
				MaxOutput: astProbeMaxOutput,
			})
			if err == nil {
				astOutput = filterAstOutput(astRes.Stdout, workspace.InputFilename)
			}
		}()
	}

	wg.Wait()

	if mainErr != nil {
		return nil, fmt.Errorf("compiler: spawn main compile: %w", mainErr)
	}

	result := &broker.CompileResult{
		Stdout:    linesFromText(mainRes.Stdout),
		Stderr:    linesFromText(mainRes.Stderr),
		Status:    mainRes.Status,
		Signal:    mainRes.Signal,
		OkToCache: mainRes.OkToCache,
		Truncated: mainRes.Truncated,
		AstOutput: astOutput,
	}

	if mainRes.Status == nil || *mainRes.Status != 0 {
		result.RawAsm = "<Compilation failed>"
		return result, nil
	}

	if err := d.postProcessAsm(ctx, desc, req, h, result); err != nil {
		logging.L().Sugar().Warnw("compiler: post-process failed", "compiler_id", desc.ID, "err", err)
		result.RawAsm = "<Compilation failed>"
		result.OkToCache = false
		return result, nil
	}

	if req.BackendOptions.ProduceOptInfo && desc.Caps.SupportsOptRecord {
		optPath := h.OutputPath() + ".opt.yaml"
		records, err := parseOptRecords(ctx, optPath, workspace.InputFilename, desc.Demangler)
		if err != nil {
			logging.L().Sugar().Debugw("compiler: opt-record parse skipped", "err", err)
		}
		result.OptOutput = records
	}

	if req.Filters.Demangle && result.OkToCache && desc.Demangler != "" {
		demangleAsmLines(ctx, desc.Demangler, result)
	}

	if desc.Caps.SupportsCFG || desc.SupportsCFGFamily() {
		result.CFG = cfgbuild.Build(result.Asm)
	}

	if req.Filters.Execute {
		execRes, err := d.sandbox.Execute(ctx, h.Dir, workspace.OutputFilename, sandbox.Options{
			TimeoutMs: d.cfg.CompileTimeoutMs,
			MaxOutput: d.cfg.MaxExecutableOutputSize,
		})
		if err != nil {
			msg := err.Error()
			result.ExecResult = &broker.ExecResult{Stderr: []broker.Line{{Text: msg}}}
		} else {
			result.ExecResult = execRes
		}
	}

	if req.Filters.Binary {
		result.OutputFilePath = h.OutputPath()
		result.IsObject = req.Filters.BinaryObject
	}

	return result, nil
}

// postProcessAsm implements the "after the main compile" branch of §4.5:
// objdump for binaries, or stat+postprocess-pipeline+read for plain asm.
func (d *Driver) postProcessAsm(ctx context.Context, desc *broker.CompilerDescriptor, req broker.CompileRequest, h *workspace.Handle, result *broker.CompileResult) error {
	if req.Filters.Binary && desc.Caps.SupportsObjdump {
		args := []string{"-d", "-l", "--insn-width=16"}
		if req.Filters.Demangle {
			args = append(args, "-C")
		}
		if req.Filters.Intel {
			args = append(args, "-M", "intel")
		}
		args = append(args, h.OutputPath())

		res, err := process.Run(ctx, desc.Objdumper, args, process.Options{
			Dir:       h.Dir,
			TimeoutMs: d.cfg.CompileTimeoutMs,
			MaxOutput: d.cfg.MaxAsmSize,
		})
		if err != nil {
			return fmt.Errorf("objdump: %w", err)
		}
		if res.Status == nil || *res.Status != 0 {
			// Any non-zero objdump exit sets okToCache=false (open
			// question decision #2).
			result.OkToCache = false
		}
		result.Asm = asmclean.Clean(res.Stdout, req.Filters)
		return nil
	}

	info, err := os.Stat(h.OutputPath())
	if err != nil {
		return fmt.Errorf("stat output: %w", err)
	}
	if int(info.Size()) > d.cfg.MaxAsmSize {
		result.RawAsm = asmTooLargeSentinel
		return nil
	}

	raw, err := os.ReadFile(h.OutputPath())
	if err != nil {
		return fmt.Errorf("read output: %w", err)
	}

	if len(desc.PostProcess) > 0 {
		processed, err := runPostProcessPipeline(ctx, desc.PostProcess, raw, d.cfg.MaxAsmSize)
		if err != nil {
			return err
		}
		raw = processed
	}

	result.Asm = asmclean.Clean(string(raw), req.Filters)
	return nil
}

// demangleAsmLines pipes every asm line's text, newline-joined, through
// the demangler, splicing demangled lines back while preserving each
// line's source annotation.
func demangleAsmLines(ctx context.Context, demanglerExe string, result *broker.CompileResult) {
	texts := make([]string, len(result.Asm))
	for i, l := range result.Asm {
		texts[i] = l.Text
	}
	demangled := runDemangler(ctx, demanglerExe, texts)
	if len(demangled) != len(result.Asm) {
		return
	}
	for i := range result.Asm {
		result.Asm[i].Text = demangled[i]
	}
}

func linesFromText(s string) []broker.Line {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	parts := strings.Split(s, "\n")
	out := make([]broker.Line, len(parts))
	for i, p := range parts {
		out[i] = broker.Line{Text: p}
	}
	return out
}

// clangAtLeast reports whether a discovered version string represents
// clang >= major.minor, the gate for offering the AST-dump probe.
func clangAtLeast(version string, major, minor int) bool {
	if version == "" {
		return false
	}
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return false
	}
	maj, err1 := strconv.Atoi(parts[0])
	min, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return false
	}
	if maj != major {
		return maj > major
	}
	return min >= minor
}
