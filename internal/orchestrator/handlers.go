package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"apex-build/internal/broker"
	"apex-build/internal/workspace"
)

func (s *Server) handleHealthcheck(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// handleListCompilers answers GET /api/compilers, content-negotiating
// between a JSON array and a padded "id | name" text table.
func (s *Server) handleListCompilers(c *gin.Context) {
	snap := s.registry.Current()
	pub := make([]broker.PublicCompilerDescriptor, 0, len(snap.Descriptors))
	for _, d := range snap.Descriptors {
		pub = append(pub, d.Public())
	}

	if wantsText(c) {
		c.String(http.StatusOK, formatCompilersText(pub))
		return
	}
	c.JSON(http.StatusOK, pub)
}

func formatCompilersText(pub []broker.PublicCompilerDescriptor) string {
	width := 0
	for _, p := range pub {
		if len(p.ID) > width {
			width = len(p.ID)
		}
	}
	var b strings.Builder
	for _, p := range pub {
		fmt.Fprintf(&b, "%-*s | %s\n", width, p.ID, p.Name)
	}
	return b.String()
}

// handleClientOptions answers GET /client-options.json with the snapshot
// of configured options the web UI renders its picker from.
func (s *Server) handleClientOptions(c *gin.Context) {
	snap := s.registry.Current()
	pub := make([]broker.PublicCompilerDescriptor, 0, len(snap.Descriptors))
	for _, d := range snap.Descriptors {
		pub = append(pub, d.Public())
	}
	c.JSON(http.StatusOK, gin.H{"compilers": pub})
}

// compileEnvelope is the JSON body shape for POST /api/compiler/{id}/compile
// and the legacy POST /compile alias.
type compileEnvelope struct {
	Source  string `json:"source"`
	Options struct {
		UserArguments   []string          `json:"userArguments"`
		CompilerOptions map[string]bool   `json:"compilerOptions"`
		Filters         map[string]bool   `json:"filters"`
	} `json:"options"`
}

func (s *Server) handleCompile(c *gin.Context) {
	id := c.Param("id")
	s.compile(c, id)
}

func (s *Server) handleLegacyCompile(c *gin.Context) {
	// The legacy alias's JSON envelope doesn't carry the compiler id in
	// the path; it's expected in the body under a "compiler" key for
	// backward compatibility with the text-based POST /compile caller.
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": broker.ErrMalformedRequest.Error()})
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	var withID struct {
		Compiler string `json:"compiler"`
	}
	_ = json.Unmarshal(body, &withID)
	if withID.Compiler == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "legacy /compile envelope requires a \"compiler\" field"})
		return
	}
	s.compile(c, withID.Compiler)
}

func (s *Server) compile(c *gin.Context, id string) {
	snap := s.registry.Current()
	desc, ok := snap.ByID[id]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": broker.ErrUnknownCompiler.Error(), "id": id})
		return
	}

	if desc.IsRemote() {
		s.proxyToRemote(c, desc)
		return
	}

	req, err := s.parseCompileRequest(c, id)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fp := broker.ComputeFingerprint(desc, req)
	result, err := s.cache.Compile(fp, func() (*broker.CompileResult, *workspace.Handle, error) {
		return s.driver.Compile(c.Request.Context(), desc, req)
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.writeCompileResult(c, result)
}

// parseCompileRequest builds a CompileRequest from either the JSON
// envelope or, for the text variant, the raw body plus
// ?options=/?filters=/?addFilters=/?removeFilters= query flags.
func (s *Server) parseCompileRequest(c *gin.Context, id string) (broker.CompileRequest, error) {
	ct := c.ContentType()
	if strings.Contains(ct, "application/json") {
		var env compileEnvelope
		if err := c.ShouldBindJSON(&env); err != nil {
			return broker.CompileRequest{}, fmt.Errorf("%w: %v", broker.ErrMalformedRequest, err)
		}
		filters := filterSetFromMap(env.Options.Filters)
		return broker.CompileRequest{
			CompilerID:     id,
			Source:         env.Source,
			UserArguments:  splitArgs(strings.Join(env.Options.UserArguments, " ")),
			BackendOptions: backendOptionsFromMap(env.Options.CompilerOptions),
			Filters:        filters,
		}, nil
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return broker.CompileRequest{}, fmt.Errorf("%w: %v", broker.ErrMalformedRequest, err)
	}

	filters := parseFilterQueryFlags(c)
	return broker.CompileRequest{
		CompilerID:    id,
		Source:        string(body),
		UserArguments: splitArgs(c.Query("options")),
		Filters:       filters,
	}, nil
}

func backendOptionsFromMap(m map[string]bool) broker.BackendOptions {
	return broker.BackendOptions{
		ProduceAst:     m["produceAst"],
		ProduceOptInfo: m["produceOptInfo"],
	}
}

func filterSetFromMap(m map[string]bool) broker.FilterSet {
	f := broker.FilterSet{
		Binary:       m["binary"],
		BinaryObject: m["binaryObject"],
		Link:        m["link"],
		LinkSet:     hasKey(m, "link"),
		Execute:     m["execute"],
		Intel:       m["intel"],
		Demangle:    m["demangle"],
		CommentOnly: m["commentOnly"],
		Directives:  m["directives"],
		Labels:      m["labels"],
		OptOutput:   m["optOutput"],
	}
	return f
}

func hasKey(m map[string]bool, k string) bool {
	_, ok := m[k]
	return ok
}

// parseFilterQueryFlags implements the legacy text endpoint's
// ?filters=/?addFilters=/?removeFilters= shorthand flag parsing.
func parseFilterQueryFlags(c *gin.Context) broker.FilterSet {
	var f broker.FilterSet
	base := splitCommaFlags(c.Query("filters"))
	add := splitCommaFlags(c.Query("addFilters"))
	remove := splitCommaFlags(c.Query("removeFilters"))

	set := map[string]bool{}
	for _, k := range base {
		set[k] = true
	}
	for _, k := range add {
		set[k] = true
	}
	for _, k := range remove {
		delete(set, k)
	}

	f.Binary = set["binary"]
	f.BinaryObject = set["binaryObject"]
	f.Link = set["link"]
	f.LinkSet = set["link"] || hasKey(toBoolMap(base), "link") || hasKey(toBoolMap(add), "link") || hasKey(toBoolMap(remove), "link")
	f.Execute = set["execute"]
	f.Intel = set["intel"]
	f.Demangle = set["demangle"]
	f.CommentOnly = set["commentOnly"]
	f.Directives = set["directives"]
	f.Labels = set["labels"]
	f.OptOutput = set["optOutput"]
	return f
}

func toBoolMap(keys []string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

func splitCommaFlags(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitArgs argv-splits a user-options string on whitespace and drops
// empty tokens, matching the data model's "already argv-split, empties
// removed" contract for UserArguments.
func splitArgs(s string) []string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// handleAsmDoc is the thin documentation-lookup stub named in §6; it is
// explicitly out of the core pipeline.
func (s *Server) handleAsmDoc(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"opcode": c.Param("opcode"), "found": false})
}

// handleSourceStub stands in for the external, pluggable source-snippet
// store (out of scope per §1's external collaborators) — the router
// shape matches §6 without implementing the excluded collaborator.
func (s *Server) handleSourceStub(c *gin.Context) {
	c.JSON(http.StatusNotImplemented, gin.H{"error": "source-snippet storage is an external collaborator, not implemented by this broker"})
}
