package orchestrator

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"apex-build/internal/broker"
	"apex-build/internal/logging"
)

// proxyToRemote forwards the incoming request unchanged (method,
// headers, body, and path with the "/api" prefix preserved) to the peer
// broker named by desc.Remote — the local pipeline is never engaged for
// a remote descriptor. The caller's deadline rides on the request's
// context so an abandoned client doesn't leak a hanging peer connection.
func (s *Server) proxyToRemote(c *gin.Context, desc *broker.CompilerDescriptor) {
	target := strings.TrimSuffix(desc.Remote, "/") + c.Request.URL.Path
	if c.Request.URL.RawQuery != "" {
		target += "?" + c.Request.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, target, c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not build proxy request"})
		return
	}
	req.Header = c.Request.Header.Clone()

	resp, err := s.httpClient.Do(req)
	if err != nil {
		logging.L().Sugar().Warnw("orchestrator: peer proxy failed", "peer", desc.Remote, "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "peer broker unreachable"})
		return
	}
	defer resp.Body.Close()

	for k, vals := range resp.Header {
		for _, v := range vals {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Writer.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		logging.L().Sugar().Warnw("orchestrator: proxy response copy failed", "err", err)
	}
}
