package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apex-build/internal/broker"
	"apex-build/internal/brokerconfig"
)

func TestResolveGroupFallsBackToOuterGetter(t *testing.T) {
	cfg := brokerconfig.Default()
	cfg.Groups["gnu"] = brokerconfig.GroupConfig{Compilers: []string{"gcc-9"}}
	cfg.CompilerOverrides["gcc-9"] = brokerconfig.CompilerOverride{Exe: "/usr/bin/gcc-9"}

	r := New(cfg)
	descs := r.resolveGroup(context.Background(), "gnu", brokerconfig.RootGetter(cfg))
	require.Len(t, descs, 1)
	assert.Equal(t, "gcc-9", descs[0].ID)
	assert.Equal(t, "/usr/bin/gcc-9", descs[0].Exe)
}

func TestResolvePeerFetchesAndMarksRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewEncoder(w).Encode([]broker.PublicCompilerDescriptor{
			{ID: "x", Name: "X Compiler"},
		})
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	cfg := brokerconfig.Default()
	cfg.ProxyRetries = 1
	cfg.ProxyRetryMs = 10
	cfg.ProxyTimeoutMs = 2000
	r := New(cfg)

	descs := r.resolvePeer(context.Background(), u.Hostname()+"@"+u.Port())
	require.Len(t, descs, 1)
	assert.Equal(t, "x", descs[0].ID)
	assert.True(t, descs[0].IsRemote())
}

func TestSnapshotUnchangedNotSwapped(t *testing.T) {
	a := newSnapshot([]*broker.CompilerDescriptor{{ID: "a"}, {ID: "b"}})
	b := newSnapshot([]*broker.CompilerDescriptor{{ID: "a"}, {ID: "b"}})
	assert.True(t, sameIDSet(a, b))

	c := newSnapshot([]*broker.CompilerDescriptor{{ID: "a"}})
	assert.False(t, sameIDSet(a, c))
}
