package orchestrator

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"apex-build/internal/broker"
)

// wantsText reports whether the client's Accept header prefers
// text/plain over application/json — used for the compilers list's
// content negotiation.
func wantsText(c *gin.Context) bool {
	accept := c.GetHeader("Accept")
	return strings.Contains(accept, "text/plain") && !strings.Contains(accept, "application/json")
}

// binaryContentTypes are the Accept values that select a raw object-file
// download instead of a structured result, per §6's response-shaping
// table.
var binaryContentTypes = []string{
	"application/octet-stream",
	"application/x-object",
	"application/x-executable",
	"application/x-sharedlib",
	"binary",
}

func wantsBinary(c *gin.Context) bool {
	accept := c.GetHeader("Accept")
	for _, ct := range binaryContentTypes {
		if strings.Contains(accept, ct) {
			return true
		}
	}
	return false
}

// writeCompileResult shapes a CompileResult per the client's accepted
// content type: JSON, raw binary download, or a plain-text banner +
// asm + status report.
func (s *Server) writeCompileResult(c *gin.Context, result *broker.CompileResult) {
	switch {
	case wantsBinary(c) && result.OutputFilePath != "":
		s.writeBinary(c, result)
	case wantsText(c):
		c.String(http.StatusOK, formatCompileResultText(result))
	default:
		c.JSON(http.StatusOK, result)
	}
}

func (s *Server) writeBinary(c *gin.Context, result *broker.CompileResult) {
	data, err := os.ReadFile(result.OutputFilePath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "output file unavailable"})
		return
	}
	contentType := "application/x-executable"
	if result.IsObject {
		contentType = "application/x-object"
	}
	c.Data(http.StatusOK, contentType, data)
}

// formatCompileResultText renders the text/plain banner + asm + status
// report described in §6: a banner, the joined asm text, a
// terminated-by-signal-or-exit-status line, then stdout/stderr sections.
func formatCompileResultText(r *broker.CompileResult) string {
	var b strings.Builder
	b.WriteString("# Compilation provided by compile broker\n")
	b.WriteString(r.AsmText())
	b.WriteString("\n")

	switch {
	case r.Signal != nil:
		fmt.Fprintf(&b, "Program terminated by signal %s\n", *r.Signal)
	case r.Status != nil:
		fmt.Fprintf(&b, "Compiler exited with status %d\n", *r.Status)
	}

	if len(r.Stdout) > 0 {
		b.WriteString("Standard out:\n")
		for _, l := range r.Stdout {
			b.WriteString(l.Text)
			b.WriteByte('\n')
		}
	}
	if len(r.Stderr) > 0 {
		b.WriteString("Standard error:\n")
		for _, l := range r.Stderr {
			b.WriteString(l.Text)
			b.WriteByte('\n')
		}
	}
	return b.String()
}
