package broker

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Fingerprint is the deterministic cache key derived from the full input
// of a compile: the compiler identity (excluding transient fields like the
// discovered version), the source, options, backend options, and filters.
type Fingerprint string

// Fingerprint hashes everything that influences a compile's output.
// Descriptor fields that only affect discovery (DiscoveredVersion, Group)
// are deliberately excluded so re-probing a compiler's version does not
// invalidate every cached result for it.
func ComputeFingerprint(d *CompilerDescriptor, req CompileRequest) Fingerprint {
	h := sha256.New()
	w := func(parts ...string) {
		for _, p := range parts {
			h.Write([]byte(p))
			h.Write([]byte{0})
		}
	}

	w("compiler", d.ID, string(d.ParserKind))
	w("tools", d.Exe, d.Remote, d.IntelAsmFlag, d.Demangler, d.Objdumper, d.StubRegex, d.StubText)
	w("defaults")
	for _, o := range d.DefaultOptions {
		w(o)
	}
	w("postprocess")
	for _, stage := range d.PostProcess {
		w(stage.Command, strings.Join(stage.Args, "\x1f"))
	}
	w("caps", capsKey(d.Caps))

	w("source", req.Source)

	w("options")
	for _, a := range req.UserArguments {
		w(a)
	}

	w("backend", boolStr(req.BackendOptions.ProduceAst), boolStr(req.BackendOptions.ProduceOptInfo))

	f := req.Filters
	w("filters",
		boolStr(f.Binary), boolStr(f.BinaryObject), boolStr(f.Link), boolStr(f.Execute), boolStr(f.Intel),
		boolStr(f.Demangle), boolStr(f.CommentOnly), boolStr(f.Directives),
		boolStr(f.Labels), boolStr(f.OptOutput),
	)

	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

func capsKey(c Capabilities) string {
	flags := []string{
		boolStr(c.SupportsBinary), boolStr(c.SupportsExecute), boolStr(c.SupportsIntelAsm),
		boolStr(c.NeedsMultiarch), boolStr(c.SupportsOptRecord), boolStr(c.SupportsObjdump),
		boolStr(c.SupportsCFG), boolStr(c.SupportsASTDump),
	}
	return strings.Join(flags, ",")
}

func boolStr(b bool) string {
	return strconv.FormatBool(b)
}
