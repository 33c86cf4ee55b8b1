package orchestrator

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apex-build/internal/broker"
	"apex-build/internal/brokerconfig"
	"apex-build/internal/compiler"
	"apex-build/internal/registry"
	"apex-build/internal/resultcache"
	"apex-build/internal/sandbox"
	"apex-build/internal/workspace"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := brokerconfig.Default()
	reg := registry.New(cfg)
	cache, err := resultcache.New(64, 1<<20)
	require.NoError(t, err)
	wm, err := workspace.NewManager(t.TempDir(), 0)
	require.NoError(t, err)
	drv := compiler.New(cfg, wm, sandbox.New(sandbox.ModePassthrough), nil)
	return New(cfg, reg, cache, drv)
}

func TestHealthcheckAlwaysOK(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUnknownCompilerReturns404(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/compiler/does-not-exist/compile", nil)
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFormatCompilersTextPadsColumns(t *testing.T) {
	out := formatCompilersText([]broker.PublicCompilerDescriptor{
		{ID: "gcc", Name: "GCC"},
		{ID: "clang-trunk", Name: "Clang (trunk)"},
	})
	assert.Contains(t, out, "gcc         | GCC")
	assert.Contains(t, out, "clang-trunk | Clang (trunk)")
}
