package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"apex-build/internal/broker"
	"apex-build/internal/brokerconfig"
	"apex-build/internal/logging"
	"apex-build/internal/metrics"
)

// resolveSeedList walks one colon-separated seed list, dispatching each
// token per §4.4's resolution rules. group is the enclosing group name,
// if any, used only to tag descriptors for diagnostics.
func (r *Registry) resolveSeedList(ctx context.Context, seeds []string, getter brokerconfig.PropertyGetter, group string) []*broker.CompilerDescriptor {
	var out []*broker.CompilerDescriptor
	for _, token := range seeds {
		switch {
		case token == "AWS":
			out = append(out, r.resolveCloudInstances(ctx)...)
		case strings.HasPrefix(token, "&"):
			out = append(out, r.resolveGroup(ctx, strings.TrimPrefix(token, "&"), getter)...)
		case strings.Contains(token, "@"):
			out = append(out, r.resolvePeer(ctx, token)...)
		default:
			out = append(out, r.resolveLocal(token, getter, group))
		}
	}
	return out
}

// resolveGroup looks up group.<name>.compilers and recurses with a
// property-getter scoped to that group's own namespace first.
func (r *Registry) resolveGroup(ctx context.Context, name string, outer brokerconfig.PropertyGetter) []*broker.CompilerDescriptor {
	g, ok := r.cfg.Groups[name]
	if !ok {
		logging.L().Sugar().Warnw("registry: unknown group, skipping", "group", name)
		return nil
	}
	scoped := brokerconfig.GroupGetter(r.cfg, name, outer)
	return r.resolveSeedList(ctx, g.Compilers, scoped, name)
}

// resolveLocal constructs a descriptor for a local compiler, reading
// compiler.<name>.* with fallback to the parent getter.
func (r *Registry) resolveLocal(name string, getter brokerconfig.PropertyGetter, group string) *broker.CompilerDescriptor {
	base := "compiler." + name
	o := r.cfg.CompilerOverrides[name]

	exe := getter.Get(base, "exe", o.Exe)
	if exe == "" {
		exe = name
	}
	d := &broker.CompilerDescriptor{
		ID:             name,
		Name:           firstNonEmpty(getter.Get(base, "name", o.Name), name),
		Exe:            exe,
		ParserKind:     parserKindOf(getter.Get(base, "compilerType", o.CompilerType)),
		DefaultOptions: o.Options,
		VersionProbe:   firstNonEmpty(getter.Get(base, "versionFlag", o.VersionFlag), "--version"),
		VersionRegex:   firstNonEmpty(getter.Get(base, "versionRe", o.VersionRegex), `(?i)version\s+([0-9.]+)`),
		Demangler:      getter.Get(base, "demangler", o.Demangler),
		Objdumper:      firstNonEmpty(getter.Get(base, "objdumper", o.Objdumper), "objdump"),
		IntelAsmFlag:   getter.Get(base, "intelAsm", o.IntelAsmFlag),
		StubRegex:      r.cfg.StubRegex,
		StubText:       r.cfg.StubText,
		Group:          group,
		Caps: broker.Capabilities{
			SupportsBinary:    o.SupportsBinary,
			SupportsExecute:   o.SupportsBinary,
			SupportsIntelAsm:  o.SupportsIntel,
			SupportsOptRecord: o.SupportsOptRecord,
			SupportsObjdump:   true,
		},
	}
	if pp := getter.Get(base, "postProcess", o.PostProcess); pp != "" {
		d.PostProcess = parsePostProcess(pp)
	}
	return d
}

func parserKindOf(s string) broker.ParserKind {
	if s == string(broker.ParserGCCLike) {
		return broker.ParserGCCLike
	}
	return broker.ParserClangLike
}

// parsePostProcess turns a "|"-joined shell pipeline string into ordered
// stages, e.g. "c++filt|head -c 65536".
func parsePostProcess(s string) []broker.PostProcessStage {
	parts := strings.Split(s, "|")
	stages := make([]broker.PostProcessStage, 0, len(parts))
	for _, p := range parts {
		fields := strings.Fields(strings.TrimSpace(p))
		if len(fields) == 0 {
			continue
		}
		stages = append(stages, broker.PostProcessStage{Command: fields[0], Args: fields[1:]})
	}
	return stages
}

// resolvePeer handles a "host@port" token: GET /api/compilers from the
// peer, wrapped in retry-with-fixed-delay. Exhaustion yields an empty
// list rather than failing the whole registry.
func (r *Registry) resolvePeer(ctx context.Context, token string) []*broker.CompilerDescriptor {
	host, port, ok := splitHostPort(token)
	if !ok {
		logging.L().Sugar().Warnw("registry: malformed peer token", "token", token)
		return nil
	}
	base := fmt.Sprintf("http://%s:%s", host, port)
	return r.fetchPeerCompilers(ctx, base)
}

func (r *Registry) fetchPeerCompilers(ctx context.Context, base string) []*broker.CompilerDescriptor {
	var lastErr error
	for attempt := 0; attempt < r.cfg.ProxyRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(r.cfg.ProxyRetryMs) * time.Millisecond):
			case <-ctx.Done():
				return nil
			}
		}
		reqCtx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.ProxyTimeoutMs)*time.Millisecond)
		descs, err := r.fetchPeerOnce(reqCtx, base)
		cancel()
		if err == nil {
			return descs
		}
		lastErr = err
	}
	logging.L().Sugar().Warnw("registry: peer fetch exhausted retries", "peer", base, "err", lastErr)
	metrics.Get().RecordPeerFetchFailure(base)
	return nil
}

func (r *Registry) fetchPeerOnce(ctx context.Context, base string) ([]*broker.CompilerDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/compilers", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peer %s returned status %d", base, resp.StatusCode)
	}
	var pub []broker.PublicCompilerDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&pub); err != nil {
		return nil, fmt.Errorf("peer %s decode: %w", base, err)
	}
	out := make([]*broker.CompilerDescriptor, 0, len(pub))
	for _, p := range pub {
		out = append(out, &broker.CompilerDescriptor{
			ID:     p.ID,
			Name:   p.Name,
			Remote: base,
			Caps: broker.Capabilities{
				SupportsBinary:    p.SupportsBinary,
				SupportsExecute:   p.SupportsExecute,
				SupportsIntelAsm:  p.SupportsIntel,
				SupportsOptRecord: p.SupportsOptRecord,
			},
		})
	}
	return out, nil
}

// resolveCloudInstances fetches the backend instance list from the
// configured cloud-instance registry, then peer-fetches each instance's
// compiler list from its private (or, under externalTestMode, public)
// DNS name and the broker's configured port.
func (r *Registry) resolveCloudInstances(ctx context.Context) []*broker.CompilerDescriptor {
	if r.cfg.CloudInstanceRegistryURL == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.CloudInstanceRegistryURL, nil)
	if err != nil {
		logging.L().Sugar().Warnw("registry: cloud instance request build failed", "err", err)
		return nil
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		logging.L().Sugar().Warnw("registry: cloud instance registry unreachable", "err", err)
		return nil
	}
	defer resp.Body.Close()

	var instances []cloudInstance
	if err := json.NewDecoder(resp.Body).Decode(&instances); err != nil {
		logging.L().Sugar().Warnw("registry: cloud instance decode failed", "err", err)
		return nil
	}

	var out []*broker.CompilerDescriptor
	for _, inst := range instances {
		dns := inst.PrivateDNS
		if r.cfg.ExternalTestMode {
			dns = inst.PublicDNS
		}
		if dns == "" {
			continue
		}
		base := fmt.Sprintf("http://%s:%d", dns, r.cfg.Port)
		out = append(out, r.fetchPeerCompilers(ctx, base)...)
	}
	return out
}

type cloudInstance struct {
	InstanceID string `json:"instanceId"`
	PrivateDNS string `json:"privateDns"`
	PublicDNS  string `json:"publicDns"`
}

// discoverNDK enumerates an Android NDK root's toolchain subdirectories
// and appends any g++-named executable found under each.
func (r *Registry) discoverNDK() []*broker.CompilerDescriptor {
	if r.cfg.AndroidNDKRoot == "" {
		return nil
	}
	toolchainsDir := filepath.Join(r.cfg.AndroidNDKRoot, "toolchains")
	entries, err := os.ReadDir(toolchainsDir)
	if err != nil {
		logging.L().Sugar().Warnw("registry: NDK toolchains dir unreadable", "dir", toolchainsDir, "err", err)
		return nil
	}

	var out []*broker.CompilerDescriptor
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		binDir := filepath.Join(toolchainsDir, e.Name(), "prebuilt")
		exe := findGppUnder(binDir)
		if exe == "" {
			continue
		}
		id := "ndk-" + e.Name()
		out = append(out, &broker.CompilerDescriptor{
			ID:             id,
			Name:           "Android NDK " + e.Name(),
			Exe:            exe,
			ParserKind:     broker.ParserGCCLike,
			VersionProbe:   "--version",
			VersionRegex:   `(?i)version\s+([0-9.]+)`,
			Objdumper:      "objdump",
			StubRegex:      r.cfg.StubRegex,
			StubText:       r.cfg.StubText,
			Caps:           broker.Capabilities{SupportsObjdump: true},
		})
	}
	return out
}

func findGppUnder(root string) string {
	var found string
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || found != "" {
			return nil
		}
		if !d.IsDir() && strings.Contains(d.Name(), "g++") {
			found = path
		}
		return nil
	})
	return found
}

func splitHostPort(token string) (host, port string, ok bool) {
	idx := strings.LastIndex(token, "@")
	if idx < 0 {
		return "", "", false
	}
	host = token[:idx]
	port = token[idx+1:]
	if host == "" || port == "" {
		return "", "", false
	}
	return host, port, true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
