package compiler

import (
	"regexp"
	"strings"
)

var (
	addressRe      = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	invalidSlocRe  = regexp.MustCompile(`<invalid sloc>`)
	topLevelLocRe  = regexp.MustCompile(`<([^:>]+\.[a-zA-Z]+):`)
)

// filterAstOutput keeps only top-level declarations whose location
// traces back to the user's own input file, dropping subtrees rooted at
// a system header; addresses and <invalid sloc> markers are scrubbed so
// the output is deterministic across runs.
func filterAstOutput(raw, inputFilename string) string {
	lines := strings.Split(raw, "\n")
	var out []string

	keep := true
	mostRecentFile := inputFilename

	for _, line := range lines {
		trimmed := strings.TrimLeft(line, " |`-")
		depth := len(line) - len(trimmed)

		if m := topLevelLocRe.FindStringSubmatch(line); m != nil {
			// <invalid sloc> lines don't update the "most recent file"
			// tracker — they inherit whatever file was last seen.
			if !invalidSlocRe.MatchString(line) {
				mostRecentFile = m[1]
			}
		}

		// A new top-level declaration (a direct child of the
		// TranslationUnitDecl, prefixed "|-" or "`-") decides whether the
		// following subtree is kept.
		if depth <= 2 && isDeclStart(trimmed) {
			keep = strings.Contains(mostRecentFile, inputFilename) || invalidSlocRe.MatchString(line)
		}

		if !keep {
			continue
		}

		cleaned := addressRe.ReplaceAllString(line, "")
		cleaned = invalidSlocRe.ReplaceAllString(cleaned, "")
		out = append(out, cleaned)
	}

	return strings.Join(out, "\n")
}

func isDeclStart(trimmed string) bool {
	return strings.HasPrefix(trimmed, "FunctionDecl") ||
		strings.HasPrefix(trimmed, "VarDecl") ||
		strings.HasPrefix(trimmed, "RecordDecl") ||
		strings.HasPrefix(trimmed, "TypedefDecl")
}
