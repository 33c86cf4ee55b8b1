package broker

// BackendOptions toggles driver-level post-processing that is expensive
// enough it must be opt-in.
type BackendOptions struct {
	ProduceAst     bool `json:"produceAst,omitempty"`
	ProduceOptInfo bool `json:"produceOptInfo,omitempty"`
}

// FilterSet carries every boolean the client can toggle for a compile.
// Link defaults to true when Binary is set and the client did not send an
// explicit value; see ApplyDefaults. BinaryObject requests an unlinked
// object file (-c) instead of a linked executable; see Normalize.
type FilterSet struct {
	Binary     bool `json:"binary,omitempty"`
	BinaryObject bool `json:"binaryObject,omitempty"`
	Link       bool `json:"link,omitempty"`
	LinkSet    bool `json:"-"` // true if the client sent an explicit "link" value
	Execute    bool `json:"execute,omitempty"`
	Intel      bool `json:"intel,omitempty"`
	Demangle   bool `json:"demangle,omitempty"`
	CommentOnly bool `json:"commentOnly,omitempty"`
	Directives bool `json:"directives,omitempty"`
	Labels     bool `json:"labels,omitempty"`
	OptOutput  bool `json:"optOutput,omitempty"`
}

// ApplyDefaults resolves the open question around filters.link: when
// Binary is requested and the caller did not send an explicit link value,
// link defaults to true (produce an executable, not a relocatable .o).
func (f FilterSet) ApplyDefaults() FilterSet {
	if f.Binary && !f.LinkSet {
		f.Link = true
	}
	return f
}

// Normalize enforces the FilterSet invariants from the data model:
// binaryObject implies binary and an unlinked object (-c); execute implies
// binary and link, overriding binaryObject since an object file can't be
// executed; binary is cleared when the chosen compiler can't produce one.
// Intel is left unchanged: the driver adds the compiler's intel-asm flag
// only when binary is not set.
func (f FilterSet) Normalize(supportsBinary bool) FilterSet {
	if f.BinaryObject {
		f.Binary = true
		f.Link = false
		f.LinkSet = true
	}
	f = f.ApplyDefaults()
	if f.Execute {
		f.Binary = true
		f.Link = true
		f.BinaryObject = false
	}
	if f.Binary && !supportsBinary {
		f.Binary = false
		f.BinaryObject = false
	}
	return f
}

// CompileRequest is the immutable envelope the Orchestrator builds from an
// incoming HTTP request and hands to the Compiler Driver.
type CompileRequest struct {
	CompilerID string
	Source     string
	// UserArguments are already argv-split with empty tokens removed.
	UserArguments  []string
	BackendOptions BackendOptions
	Filters        FilterSet
}
