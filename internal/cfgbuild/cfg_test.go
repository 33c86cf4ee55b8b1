package cfgbuild

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apex-build/internal/broker"
)

func lines(texts ...string) []broker.Line {
	out := make([]broker.Line, len(texts))
	for i, t := range texts {
		out[i] = broker.Line{Text: t}
	}
	return out
}

func TestBuildSimpleFunctionNoBranches(t *testing.T) {
	cfg := Build(lines(
		"f:",
		"	mov eax, 42",
		"	ret",
	))
	fn, ok := cfg["f"]
	require.True(t, ok)
	assert.Len(t, fn.Nodes, 1)
	assert.Empty(t, fn.Edges)
}

func TestBuildConditionalBranch(t *testing.T) {
	cfg := Build(lines(
		"g:",
		"	cmp eax, 0",
		"	je .L1",
		"	mov eax, 1",
		".L1:",
		"	ret",
	))
	fn, ok := cfg["g"]
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(fn.Nodes), 2)

	var trueEdges, falseEdges int
	for _, e := range fn.Edges {
		switch e.Arrows {
		case "true":
			trueEdges++
		case "false":
			falseEdges++
		}
	}
	assert.Equal(t, 1, trueEdges)
	assert.Equal(t, 1, falseEdges)
}
