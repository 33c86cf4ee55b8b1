package brokerconfig

// PropertyGetter models the external layered property store's
// get(base, key, default) contract ("compiler.<id>.options",
// "group.<name>.compilers", ...) so the registry's group/local resolution
// logic is implementable and testable without the real hierarchical store.
type PropertyGetter interface {
	// Get returns the value for base+"."+key, or def if unset.
	Get(base, key, def string) string
}

// configGetter is the root PropertyGetter backed by Config: any base
// resolves against CompilerOverrides, keyed by the base's last dotted
// segment. Groups is consulted only by GroupGetter.
type configGetter struct {
	cfg *Config
}

// RootGetter returns the PropertyGetter resolving directly against cfg,
// with no group scoping applied.
func RootGetter(cfg *Config) PropertyGetter {
	return &configGetter{cfg: cfg}
}

func (g *configGetter) Get(base, key, def string) string {
	if base == "" {
		return def
	}
	// base is either "compiler.<id>" or "group.<name>"; we only need the
	// id/name segment since overrides/groups are keyed on it directly.
	id := lastSegment(base)
	if o, ok := g.cfg.CompilerOverrides[id]; ok {
		if v := fieldOf(o, key); v != "" {
			return v
		}
	}
	return def
}

func lastSegment(base string) string {
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '.' {
			return base[i+1:]
		}
	}
	return base
}

func fieldOf(o CompilerOverride, key string) string {
	switch key {
	case "exe":
		return o.Exe
	case "name":
		return o.Name
	case "versionFlag":
		return o.VersionFlag
	case "versionRe":
		return o.VersionRegex
	case "demangler":
		return o.Demangler
	case "objdumper":
		return o.Objdumper
	case "intelAsm":
		return o.IntelAsmFlag
	case "postProcess":
		return o.PostProcess
	case "compilerType":
		return o.CompilerType
	default:
		return ""
	}
}

// groupGetter first consults a named group's own namespace, falling back
// to an outer getter — the "group.<name>.* then fall back to the outer
// getter" rule from the registry's group-expansion contract.
type groupGetter struct {
	group string
	cfg   *Config
	outer PropertyGetter
}

// GroupGetter wraps outer with group-scoped overrides for group name g.
func GroupGetter(cfg *Config, g string, outer PropertyGetter) PropertyGetter {
	return &groupGetter{group: g, cfg: cfg, outer: outer}
}

func (g *groupGetter) Get(base, key, def string) string {
	if grp, ok := g.cfg.Groups[g.group]; ok {
		if v := fieldOf(grp.Defaults, key); v != "" {
			return v
		}
	}
	return g.outer.Get(base, key, def)
}
