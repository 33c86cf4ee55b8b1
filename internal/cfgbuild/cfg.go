// Package cfgbuild implements the CFG Builder (C7): it parses cleaned
// assembly into a basic-block control-flow graph per function, for the
// compiler families the Compiler Driver knows how to scope (clang* and
// g++-prefixed).
package cfgbuild

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"apex-build/internal/broker"
)

var (
	funcLabelRe = regexp.MustCompile(`^([A-Za-z_.$][A-Za-z0-9_.$]*):\s*$`)
	jmpRe       = regexp.MustCompile(`^\s*jmp\s+([A-Za-z_.$][A-Za-z0-9_.$]*)`)
	condJmpRe   = regexp.MustCompile(`^\s*j(ne|e|z|nz|l|le|g|ge|a|ae|b|be|s|ns|o|no)\s+([A-Za-z_.$][A-Za-z0-9_.$]*)`)
	retRe       = regexp.MustCompile(`^\s*ret\b`)
	prologueRe  = regexp.MustCompile(`^\s*push\w*\s+%?[er]?bp|^\s*endbr`)
)

// Build groups cleaned asm lines into function scopes and partitions
// each into basic blocks at branch/target boundaries, recording directed
// edges for fall-through, unconditional, and conditional branches.
func Build(lines []broker.Line) map[string]broker.CFGFunction {
	funcs := splitFunctions(lines)
	out := make(map[string]broker.CFGFunction, len(funcs))
	for name, body := range funcs {
		out[name] = buildFunction(body)
	}
	return out
}

// splitFunctions scopes lines by top-level symbol labels: a new function
// begins at any label whose name does not start with '.', continuing
// until the next such label. Dot-prefixed local labels (".L1:") stay in
// the current function; lines before the first function label are
// dropped.
func splitFunctions(lines []broker.Line) map[string][]broker.Line {
	funcs := make(map[string][]broker.Line)
	current := ""
	for _, l := range lines {
		if m := funcLabelRe.FindStringSubmatch(strings.TrimRight(l.Text, " \t")); m != nil && !strings.HasPrefix(m[1], ".") {
			current = m[1]
			funcs[current] = append(funcs[current], l)
			continue
		}
		if current == "" {
			continue
		}
		funcs[current] = append(funcs[current], l)
	}
	return funcs
}

func buildFunction(lines []broker.Line) broker.CFGFunction {
	blockOf := map[int]string{}
	starts := findBlockBoundaries(lines)

	nodes := make([]broker.CFGNode, 0, len(starts))
	blockID := func(idx int) string {
		return "B" + strconv.Itoa(idx)
	}

	for i, startLine := range starts {
		end := len(lines)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		id := blockID(i)
		var b strings.Builder
		for _, l := range lines[startLine:end] {
			b.WriteString(l.Text)
			b.WriteByte('\n')
		}
		nodes = append(nodes, broker.CFGNode{ID: id, Label: b.String()})
		for j := startLine; j < end; j++ {
			blockOf[j] = id
		}
	}

	labelToBlock := map[string]string{}
	for i, startLine := range starts {
		if m := funcLabelRe.FindStringSubmatch(strings.TrimRight(lines[startLine].Text, " \t")); m != nil {
			labelToBlock[m[1]] = blockID(i)
		}
	}

	var edges []broker.CFGEdge
	for i := range starts {
		end := len(lines)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		from := blockID(i)
		lastLine := lines[end-1].Text

		switch {
		case retRe.MatchString(lastLine):
			// no outgoing edge
		case jmpRe.MatchString(lastLine):
			target := jmpRe.FindStringSubmatch(lastLine)[1]
			if to, ok := labelToBlock[target]; ok {
				edges = append(edges, broker.CFGEdge{From: from, To: to})
			}
		case condJmpRe.MatchString(lastLine):
			m := condJmpRe.FindStringSubmatch(lastLine)
			if to, ok := labelToBlock[m[2]]; ok {
				edges = append(edges, broker.CFGEdge{From: from, To: to, Arrows: "true"})
			}
			if i+1 < len(starts) {
				edges = append(edges, broker.CFGEdge{From: from, To: blockID(i + 1), Arrows: "false"})
			}
		default:
			if i+1 < len(starts) {
				edges = append(edges, broker.CFGEdge{From: from, To: blockID(i + 1)})
			}
		}
	}

	return broker.CFGFunction{Nodes: nodes, Edges: edges}
}

// findBlockBoundaries returns the line indices where a new basic block
// begins: the function's first line, any label, any function-prologue
// line (push of the frame pointer, endbr), and the line immediately
// following a branch or return instruction.
func findBlockBoundaries(lines []broker.Line) []int {
	if len(lines) == 0 {
		return nil
	}
	boundarySet := map[int]bool{0: true}
	for i, l := range lines {
		t := strings.TrimRight(l.Text, " \t")
		if funcLabelRe.MatchString(t) || prologueRe.MatchString(t) {
			boundarySet[i] = true
		}
		if jmpRe.MatchString(t) || condJmpRe.MatchString(t) || retRe.MatchString(t) {
			if i+1 < len(lines) {
				boundarySet[i+1] = true
			}
		}
	}
	out := make([]int, 0, len(boundarySet))
	for idx := range boundarySet {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}
