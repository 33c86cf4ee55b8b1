// Package asmclean implements the Assembly Cleaner (C6): a pure function
// of (raw asm text, filter set) that tokenizes compiler output line by
// line and applies label/directive/comment stripping and AT&T<->Intel
// annotation swapping. Running it twice on the same input always yields
// byte-identical output.
package asmclean

import (
	"regexp"
	"strings"

	"apex-build/internal/broker"
)

type lineKind int

const (
	kindBlank lineKind = iota
	kindLabel
	kindDirective
	kindInstruction
	kindComment
)

type token struct {
	raw   string
	kind  lineKind
	label string // for kindLabel: the label name
	file  string // tracked current source file, from .file/line directives
	line  int    // tracked current source line
}

var (
	labelRe     = regexp.MustCompile(`^([A-Za-z_.$][A-Za-z0-9_.$]*):`)
	directiveRe = regexp.MustCompile(`^\s*\.`)
	fileLineRe  = regexp.MustCompile(`^\s*\.file\s+\d*\s*"([^"]+)"`)
	locRe       = regexp.MustCompile(`^\s*\.loc\s+\d+\s+(\d+)`)
	cfiRe       = regexp.MustCompile(`^\s*\.cfi_`)
	labelRefRe  = regexp.MustCompile(`[A-Za-z_.$][A-Za-z0-9_.$]*`)
)

// Clean tokenizes raw compiler assembly and applies filters, returning
// the structured {text, source?} records the Compiler Driver attaches to
// a CompileResult's Asm field.
func Clean(raw string, filters broker.FilterSet) []broker.Line {
	rawLines := strings.Split(raw, "\n")
	toks := tokenize(rawLines)

	reachable := computeReachableLabels(toks)

	out := make([]broker.Line, 0, len(toks))
	for _, t := range toks {
		text := t.raw

		switch t.kind {
		case kindBlank:
			continue
		case kindLabel:
			if filters.Labels && !reachable[t.label] {
				continue
			}
		case kindDirective:
			if isFileOrLocDirective(t.raw) {
				// Kept long enough to track source lines above; never
				// emitted itself.
				continue
			}
			if filters.Directives {
				continue
			}
		case kindComment:
			if filters.CommentOnly {
				continue
			}
		}

		if filters.Intel {
			text = swapSyntaxHint(text)
		}

		line := broker.Line{Text: text}
		if t.file != "" && t.line > 0 {
			line.Source = &broker.SourceRef{File: t.file, Line: t.line}
		}
		out = append(out, line)
	}
	return out
}

// tokenize tags each input line with a kind and threads the current
// {file, line} position forward from .file/.loc directives so later
// instructions can be annotated with their originating source location.
func tokenize(rawLines []string) []token {
	toks := make([]token, 0, len(rawLines))
	curFile := ""
	curLine := 0

	for _, raw := range rawLines {
		trimmed := strings.TrimSpace(raw)

		if m := fileLineRe.FindStringSubmatch(raw); m != nil {
			curFile = m[1]
			toks = append(toks, token{raw: raw, kind: kindDirective, file: curFile, line: curLine})
			continue
		}
		if m := locRe.FindStringSubmatch(raw); m != nil {
			if n := atoiSafe(m[1]); n > 0 {
				curLine = n
			}
			toks = append(toks, token{raw: raw, kind: kindDirective, file: curFile, line: curLine})
			continue
		}

		t := token{raw: raw, file: curFile, line: curLine}
		switch {
		case trimmed == "":
			t.kind = kindBlank
		case strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "//"):
			t.kind = kindComment
		case labelRe.MatchString(trimmed):
			// Checked before directives so local labels such as ".L1:"
			// are not mistaken for directives.
			t.kind = kindLabel
			t.label = labelRe.FindStringSubmatch(trimmed)[1]
		case cfiRe.MatchString(raw) || directiveRe.MatchString(raw):
			t.kind = kindDirective
		default:
			if m := labelRe.FindStringSubmatch(trimmed); m != nil {
				t.kind = kindLabel
				t.label = m[1]
			} else {
				t.kind = kindInstruction
				if idx := strings.IndexAny(raw, "#"); idx >= 0 {
					// trailing comment on an instruction line; kept as
					// part of the instruction text unless commentOnly
					// strips whole comment lines (this is a same-line
					// trailer, left alone — matches compilers that emit
					// "mov eax, 1  # comment").
					_ = idx
				}
			}
		}
		toks = append(toks, t)
	}
	return toks
}

func isFileOrLocDirective(raw string) bool {
	return fileLineRe.MatchString(raw) || locRe.MatchString(raw)
}

// computeReachableLabels finds every label textually referenced by a
// kept (non-directive, non-comment) instruction line, so filters.labels
// can drop unreferenced labels. Only the label line itself is dropped;
// the instructions that follow an unreferenced label are kept.
func computeReachableLabels(toks []token) map[string]bool {
	reachable := make(map[string]bool)
	for _, t := range toks {
		if t.kind != kindInstruction {
			continue
		}
		for _, ref := range labelRefRe.FindAllString(t.raw, -1) {
			reachable[ref] = true
		}
	}
	return reachable
}

// swapSyntaxHint flips the limited set of AT&T/Intel annotation markers
// compilers emit alongside asm (e.g. ".intel_syntax noprefix" toggles);
// actual instruction syntax comes from the compiler's own flags, not this
// post-process step.
func swapSyntaxHint(text string) string {
	switch {
	case strings.Contains(text, ".att_syntax"):
		return strings.Replace(text, ".att_syntax", ".intel_syntax noprefix", 1)
	case strings.Contains(text, ".intel_syntax"):
		return strings.Replace(text, ".intel_syntax noprefix", ".att_syntax", 1)
	default:
		return text
	}
}

func atoiSafe(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
