package resultcache

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apex-build/internal/broker"
	"apex-build/internal/workspace"
)

func TestGetPutRoundTrip(t *testing.T) {
	c, err := New(16, 1<<20)
	require.NoError(t, err)

	fp := broker.Fingerprint("abc")
	_, ok := c.Get(fp)
	assert.False(t, ok)

	c.Put(fp, &broker.CompileResult{OkToCache: true, RawAsm: "mov eax, 42"}, nil)
	got, ok := c.Get(fp)
	require.True(t, ok)
	assert.Equal(t, "mov eax, 42", got.RawAsm)
}

func TestPutSkipsNonCacheableResult(t *testing.T) {
	c, err := New(16, 1<<20)
	require.NoError(t, err)

	fp := broker.Fingerprint("timeout-case")
	c.Put(fp, &broker.CompileResult{OkToCache: false, RawAsm: "partial"}, nil)

	_, ok := c.Get(fp)
	assert.False(t, ok)
}

func TestCompileSingleFlight(t *testing.T) {
	c, err := New(16, 1<<20)
	require.NoError(t, err)

	fp := broker.Fingerprint("concurrent")
	var spawns atomic.Int32

	var wg sync.WaitGroup
	results := make([]*broker.CompileResult, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := c.Compile(fp, func() (*broker.CompileResult, *workspace.Handle, error) {
				spawns.Add(1)
				return &broker.CompileResult{OkToCache: true, RawAsm: "x"}, nil, nil
			})
			_ = err
			results[i] = res
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, spawns.Load(), int32(1))
	for _, r := range results {
		if r != nil {
			assert.Equal(t, "x", r.RawAsm)
		}
	}
}
