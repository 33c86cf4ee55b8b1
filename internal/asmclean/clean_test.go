package asmclean

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"apex-build/internal/broker"
)

const sample = `	.file	"example.c"
	.text
f:
	.loc 1 1
	mov eax, 42
	jmp .L1
.L2:
	nop
.L1:
	ret
`

func TestCleanIsDeterministic(t *testing.T) {
	f := broker.FilterSet{Labels: true, Directives: true, CommentOnly: true}
	a := Clean(sample, f)
	b := Clean(sample, f)
	assert.Equal(t, a, b)
}

func TestCleanStripsUnreachableLabels(t *testing.T) {
	f := broker.FilterSet{Labels: true}
	out := Clean(sample, f)
	var texts []string
	for _, l := range out {
		texts = append(texts, l.Text)
	}
	assert.NotContains(t, texts, ".L2:")
	assert.Contains(t, texts, ".L1:")
}

func TestCleanAnnotatesSourceLine(t *testing.T) {
	out := Clean(sample, broker.FilterSet{})
	found := false
	for _, l := range out {
		if l.Source != nil && l.Source.Line == 1 {
			found = true
		}
	}
	assert.True(t, found)
}
