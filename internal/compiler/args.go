package compiler

import (
	"apex-build/internal/broker"
	"apex-build/internal/workspace"
)

// assembleArgs builds the compiler argument vector per §4.5's five-step
// recipe: base flags, conditional intel-asm flag, binary-mode -c/-S,
// descriptor defaults + user options + input filename, and the opt-record
// flag when requested and supported.
func assembleArgs(d *broker.CompilerDescriptor, req broker.CompileRequest, h *workspace.Handle) []string {
	var args []string

	args = append(args, "-g", "-o", h.OutputPath())

	if req.Filters.Intel && !req.Filters.Binary && d.IntelAsmFlag != "" {
		args = append(args, d.IntelAsmFlag)
	}

	if req.Filters.Binary {
		if req.Filters.BinaryObject || !req.Filters.Link {
			args = append(args, "-c")
		}
	} else {
		args = append(args, "-S")
	}

	args = append(args, d.DefaultOptions...)
	args = append(args, req.UserArguments...)
	args = append(args, h.InputPath())

	if req.BackendOptions.ProduceOptInfo && d.Caps.SupportsOptRecord {
		args = append(args, optRecordFlag)
	}

	return args
}

const optRecordFlag = "-fsave-optimization-record"

// astProbeArgs builds the secondary AST-dump invocation's argument
// vector, run in parallel with the main compile when requested against a
// clang new enough to support it.
func astProbeArgs(d *broker.CompilerDescriptor, req broker.CompileRequest, h *workspace.Handle) []string {
	args := []string{"-Xclang", "-ast-dump", "-fsyntax-only"}
	args = append(args, d.DefaultOptions...)
	args = append(args, req.UserArguments...)
	args = append(args, h.InputPath())
	return args
}

const astProbeMaxOutput = 1 << 30 // ~1GiB, to accommodate headers
