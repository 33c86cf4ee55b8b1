package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"apex-build/internal/broker"
)

// includeGuardRe matches the best-effort forbidden-include pattern from
// §4.5: an #include/#import (optionally _next) pulling an absolute path
// or a parent-relative one. The sandbox remains the real trust boundary;
// this only blocks trivial attempts.
var includeGuardRe = regexp.MustCompile(`^\s*#\s*i(?:nclude|mport)(?:_next)?\s+["<](?:/|.*\.\.)`)

// checkForbiddenOptions rejects a request if any user-supplied token
// appears in the forbidden set, enumerating every offender in the error.
func checkForbiddenOptions(args []string, forbidden map[string]bool) error {
	if len(forbidden) == 0 {
		return nil
	}
	var bad []string
	for _, a := range args {
		if forbidden[a] {
			bad = append(bad, a)
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("%w: %s", broker.ErrForbiddenOption, strings.Join(bad, ", "))
	}
	return nil
}

// checkIncludeGuard scans source lines for the forbidden include pattern,
// returning a diagnostic identical in shape to scenario 4 in the core
// spec's testable properties: "<stdin>:LINE:1: no absolute or relative
// includes please".
func checkIncludeGuard(source string) error {
	lines := strings.Split(source, "\n")
	for i, line := range lines {
		if includeGuardRe.MatchString(line) {
			return fmt.Errorf("%w: <stdin>:%d:1: no absolute or relative includes please", broker.ErrForbiddenInclude, i+1)
		}
	}
	return nil
}

// needsStub reports whether source should have the descriptor's stub
// snippet appended: binary mode is requested and the source doesn't
// already match the configured stub regex (commonly "does it define
// main already").
func needsStub(source string, filters broker.FilterSet, stubRe *regexp.Regexp) bool {
	if !filters.Binary || stubRe == nil {
		return false
	}
	return !stubRe.MatchString(source)
}
