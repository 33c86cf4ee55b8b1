// Package broker holds the core domain types shared by every component of
// the compile broker: compiler descriptors, requests, results, and the
// fingerprint used to key the result cache.
package broker

// ParserKind identifies how a compiler's command-line argument dialect is
// shaped, which in turn decides how the Compiler Driver assembles flags.
type ParserKind string

const (
	ParserClangLike ParserKind = "clang-like"
	ParserGCCLike   ParserKind = "gcc-like"
)

// PostProcessStage is one stage of a compiler's post-process pipeline: a
// shell command and its arguments, fed the previous stage's stdout on
// stdin and producing stdout for the next stage (or the final asm text).
type PostProcessStage struct {
	Command string
	Args    []string
}

// Capabilities records what a compiler backend can do, discovered during
// registry initialization (or configured explicitly for a remote peer).
type Capabilities struct {
	SupportsBinary     bool
	SupportsExecute    bool
	SupportsIntelAsm   bool
	NeedsMultiarch     bool
	SupportsOptRecord  bool
	SupportsObjdump    bool
	SupportsCFG        bool
	SupportsASTDump    bool
}

// CompilerDescriptor is the immutable record the Registry publishes for one
// compiler backend. Exactly one of Exe or Remote is populated. Once
// published a descriptor is never mutated in place — the Registry replaces
// the whole set atomically on rescan.
type CompilerDescriptor struct {
	ID   string
	Name string

	// Exe is the local executable path. Empty when Remote is set.
	Exe string
	// Remote is a peer broker's base URL ("http://host:port"). Empty when
	// Exe is set.
	Remote string

	ParserKind     ParserKind
	DefaultOptions []string

	VersionProbe      string
	VersionRegex      string
	DiscoveredVersion string

	Demangler  string
	Objdumper  string
	IntelAsmFlag string

	StubRegex string
	StubText  string

	PostProcess []PostProcessStage

	Caps Capabilities

	// Group is the config group this descriptor was discovered under, if
	// any (used only for diagnostics, never for behavior).
	Group string
}

// IsRemote reports whether the descriptor names a peer broker rather than
// a local executable.
func (d *CompilerDescriptor) IsRemote() bool {
	return d.Remote != ""
}

// Public returns the subset of a descriptor that is safe to publish to
// clients over GET /api/compilers and /client-options.json — it omits
// local filesystem paths and the remote peer's address.
type PublicCompilerDescriptor struct {
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Lang  string       `json:"lang,omitempty"`
	Caps  Capabilities `json:"-"`

	SupportsBinary    bool `json:"supportsBinary"`
	SupportsExecute   bool `json:"supportsExecute"`
	SupportsIntel     bool `json:"supportsIntel"`
	SupportsOptRecord bool `json:"supportsOptOutput"`
}

func (d *CompilerDescriptor) Public() PublicCompilerDescriptor {
	return PublicCompilerDescriptor{
		ID:                d.ID,
		Name:              d.Name,
		SupportsBinary:    d.Caps.SupportsBinary,
		SupportsExecute:   d.Caps.SupportsExecute,
		SupportsIntel:     d.Caps.SupportsIntelAsm,
		SupportsOptRecord: d.Caps.SupportsOptRecord,
	}
}

// SupportsCFGFamily reports whether the descriptor's discovered version
// string identifies a compiler family the CFG Builder knows how to parse
// (clang* or g++-prefixed).
func (d *CompilerDescriptor) SupportsCFGFamily() bool {
	v := d.DiscoveredVersion
	return hasPrefixFold(v, "clang") || hasPrefixFold(v, "g++") || hasPrefixFold(d.Name, "clang") || hasPrefixFold(d.Name, "g++")
}

func hasPrefixFold(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		a, b := s[i], prefix[i]
		if 'A' <= a && a <= 'Z' {
			a += 'a' - 'A'
		}
		if 'A' <= b && b <= 'Z' {
			b += 'a' - 'A'
		}
		if a != b {
			return false
		}
	}
	return true
}
