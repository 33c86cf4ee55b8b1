package compiler

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apex-build/internal/broker"
	"apex-build/internal/brokerconfig"
	"apex-build/internal/sandbox"
	"apex-build/internal/workspace"
)

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	cfg := brokerconfig.Default()
	cfg.CompileTimeoutMs = 5000
	wm, err := workspace.NewManager(t.TempDir(), 0)
	require.NoError(t, err)
	return New(cfg, wm, sandbox.New(sandbox.ModePassthrough), nil)
}

func TestCheckForbiddenOptionsRejectsConfigured(t *testing.T) {
	err := checkForbiddenOptions([]string{"-O2", "-fplugin=evil"}, map[string]bool{"-fplugin=evil": true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-fplugin=evil")
}

func TestCheckIncludeGuardRejectsAbsolutePath(t *testing.T) {
	err := checkIncludeGuard(`#include "/etc/passwd"` + "\nint main(){}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "<stdin>:1:1: no absolute or relative includes please")
}

func TestCheckIncludeGuardAllowsSystemHeader(t *testing.T) {
	err := checkIncludeGuard(`#include <stdio.h>` + "\nint main(){}")
	assert.NoError(t, err)
}

func TestCompileGCCLocalHelloWorld(t *testing.T) {
	if _, err := exec.LookPath("gcc"); err != nil {
		t.Skip("no local gcc available in this environment")
	}
	d := newTestDriver(t)
	desc := &broker.CompilerDescriptor{
		ID:  "gcc-local",
		Exe: "gcc",
		Caps: broker.Capabilities{SupportsBinary: true, SupportsExecute: true, SupportsObjdump: true},
		Objdumper: "objdump",
	}
	req := broker.CompileRequest{
		Source:        "int f(){return 42;}",
		UserArguments: []string{"-O2"},
		Filters:       broker.FilterSet{Intel: true, Labels: true, Directives: true, CommentOnly: true},
	}

	result, handle, err := d.Compile(context.Background(), desc, req)
	require.NoError(t, err)
	if handle != nil {
		handle.Release()
	}
	require.NotNil(t, result.Status)
	assert.Equal(t, 0, *result.Status)
}

func TestCompileRejectsForbiddenOption(t *testing.T) {
	cfg := brokerconfig.Default()
	cfg.CompileTimeoutMs = 5000
	cfg.ForbiddenFlags = []string{"-fplugin=evil"}
	wm, err := workspace.NewManager(t.TempDir(), 0)
	require.NoError(t, err)
	d := New(cfg, wm, sandbox.New(sandbox.ModePassthrough), cfg.ForbiddenFlags)

	desc := &broker.CompilerDescriptor{ID: "gcc-local", Exe: "gcc"}
	req := broker.CompileRequest{
		Source:        "int f(){return 42;}",
		UserArguments: []string{"-fplugin=evil"},
	}

	_, _, err = d.Compile(context.Background(), desc, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, broker.ErrForbiddenOption)
}

func TestCompileBinaryObjectProducesUnlinkedOutput(t *testing.T) {
	if _, err := exec.LookPath("gcc"); err != nil {
		t.Skip("no local gcc available in this environment")
	}
	d := newTestDriver(t)
	desc := &broker.CompilerDescriptor{
		ID:   "gcc-local",
		Exe:  "gcc",
		Caps: broker.Capabilities{SupportsBinary: true},
	}
	req := broker.CompileRequest{
		Source:  "int f(){return 42;}",
		Filters: broker.FilterSet{Binary: true, BinaryObject: true},
	}

	result, handle, err := d.Compile(context.Background(), desc, req)
	require.NoError(t, err)
	if handle != nil {
		handle.Release()
	}
	assert.True(t, result.IsObject)
	assert.NotEmpty(t, result.OutputFilePath)
}
