// Package brokerconfig assembles the broker's typed configuration from
// environment variables at startup, standing in for the external
// hierarchical property store (out of scope per the core specification)
// while still exposing the same get(base, key, default) shape the
// Compiler Registry's group/local resolution logic needs.
package brokerconfig

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"apex-build/internal/logging"
)

// SandboxType selects how the Sandbox (C2) runs a produced binary.
type SandboxType string

const (
	SandboxDocker SandboxType = "docker"
	SandboxNone   SandboxType = "none"
)

// CompilerOverride is the per-compiler override table populated from
// COMPILER_<ID>_* environment variables or a local compiler.<id>.* block.
type CompilerOverride struct {
	Exe            string
	Name           string
	Options        []string
	VersionFlag    string
	VersionRegex   string
	Demangler      string
	Objdumper      string
	IntelAsmFlag   string
	PostProcess    string // shell pipeline, "|"-joined stage strings
	SupportsBinary bool
	SupportsExecute bool
	SupportsIntel  bool
	SupportsOptRecord bool
	CompilerType   string // "clang-like" or "gcc-like"
}

// GroupConfig is a named group's shared defaults and its own compiler
// seed list, addressable as group.<name>.*.
type GroupConfig struct {
	Compilers []string
	Defaults  CompilerOverride
}

// Config is the broker's full typed configuration, assembled once at
// startup from CLI flags and environment variables and then passed by
// value/pointer into every component — no component reads the
// environment directly after Load returns.
type Config struct {
	Host string
	Port int

	Env      []string
	Prefix   string
	Language string
	Static   string

	ArchivedVersions bool
	Debug            bool
	DebugProperties  bool
	WSL              bool

	// Compilers is the colon-separated seed list for the registry.
	Compilers []string
	CompilerOverrides map[string]CompilerOverride
	Groups            map[string]GroupConfig

	TempDirRoot string

	CompileTimeoutMs       int
	MaxErrorOutput         int
	MaxAsmSize             int
	MaxExecutableOutputSize int

	StubRegex string
	StubText  string

	// ForbiddenFlags are the user-argument tokens the Compiler Driver's
	// prechecks reject outright (§4.5's bad-option screen / §7.1).
	ForbiddenFlags []string

	ProxyRetries int
	ProxyRetryMs int
	ProxyTimeoutMs int

	RescanCompilerSecs int
	TempDirCleanupSecs int

	SandboxType SandboxType

	ExternalTestMode bool
	BodyParserLimit  int

	EnqueueLaneWidth int

	AndroidNDKRoot string

	CloudInstanceRegistryURL string
}

// Default returns a Config populated with the broker's baseline defaults,
// the same values the teacher's ManagerConfig/SecretsConfig constructors
// hard-code before environment overrides are layered on.
func Default() *Config {
	return &Config{
		Host:                    "0.0.0.0",
		Port:                    10240,
		Compilers:               []string{"gcc-local", "clang-local"},
		CompilerOverrides:       map[string]CompilerOverride{},
		Groups:                  map[string]GroupConfig{},
		TempDirRoot:             os.TempDir(),
		CompileTimeoutMs:        10000,
		MaxErrorOutput:          5000,
		MaxAsmSize:              4 * 1024 * 1024,
		MaxExecutableOutputSize: 1024 * 1024,
		StubRegex:               `\bmain\s*\(`,
		StubText:                "int main(){return 0;}",
		ForbiddenFlags:          []string{"-specs", "-wrapper", "-fplugin", "-B"},
		ProxyRetries:            3,
		ProxyRetryMs:            100,
		ProxyTimeoutMs:          5000,
		RescanCompilerSecs:      600,
		TempDirCleanupSecs:      300,
		SandboxType:             SandboxDocker,
		BodyParserLimit:         10 * 1024 * 1024,
		EnqueueLaneWidth:        4,
	}
}

// Load builds a Config from a .env file (if present, via godotenv exactly
// as the teacher's entrypoint loads its environment) layered under actual
// process environment variables, which always win.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if f == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			logging.L().Sugar().Warnf("brokerconfig: could not load env file %s: %v", f, err)
		}
	}

	cfg := Default()

	if v := os.Getenv("BROKER_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("BROKER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("BROKER_COMPILERS"); v != "" {
		cfg.Compilers = splitNonEmpty(v, ":")
	}
	if v := os.Getenv("BROKER_TEMP_DIR"); v != "" {
		cfg.TempDirRoot = v
	}
	if v := os.Getenv("BROKER_COMPILE_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CompileTimeoutMs = n
		}
	}
	if v := os.Getenv("BROKER_MAX_ERROR_OUTPUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxErrorOutput = n
		}
	}
	if v := os.Getenv("BROKER_MAX_ASM_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxAsmSize = n
		}
	}
	if v := os.Getenv("BROKER_MAX_EXECUTABLE_OUTPUT_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxExecutableOutputSize = n
		}
	}
	if v := os.Getenv("BROKER_STUB_RE"); v != "" {
		cfg.StubRegex = v
	}
	if v := os.Getenv("BROKER_STUB_TEXT"); v != "" {
		cfg.StubText = v
	}
	if v := os.Getenv("BROKER_FORBIDDEN_FLAGS"); v != "" {
		cfg.ForbiddenFlags = splitNonEmpty(v, ",")
	}
	if v := os.Getenv("BROKER_PROXY_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ProxyRetries = n
		}
	}
	if v := os.Getenv("BROKER_PROXY_RETRY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ProxyRetryMs = n
		}
	}
	if v := os.Getenv("BROKER_PROXY_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ProxyTimeoutMs = n
		}
	}
	if v := os.Getenv("BROKER_RESCAN_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RescanCompilerSecs = n
		}
	}
	if v := os.Getenv("BROKER_TEMPDIR_CLEANUP_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TempDirCleanupSecs = n
		}
	}
	if v := os.Getenv("BROKER_SANDBOX_TYPE"); v != "" {
		cfg.SandboxType = SandboxType(v)
	}
	if v := os.Getenv("BROKER_EXTERNAL_TEST_MODE"); v != "" {
		cfg.ExternalTestMode = v == "true" || v == "1"
	}
	if v := os.Getenv("BROKER_BODY_PARSER_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BodyParserLimit = n
		}
	}
	if v := os.Getenv("BROKER_ENQUEUE_LANE_WIDTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EnqueueLaneWidth = n
		}
	}
	if v := os.Getenv("BROKER_ANDROID_NDK_ROOT"); v != "" {
		cfg.AndroidNDKRoot = v
	}
	if v := os.Getenv("BROKER_CLOUD_INSTANCE_REGISTRY_URL"); v != "" {
		cfg.CloudInstanceRegistryURL = v
	}

	loadCompilerOverrides(cfg)
	loadGroups(cfg)

	return cfg, nil
}

// loadCompilerOverrides scans the environment for COMPILER_<ID>_* keys,
// mirroring the compiler.<id>.* property namespace from the core spec.
func loadCompilerOverrides(cfg *Config) {
	const prefix = "COMPILER_"
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, prefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		key, val := kv[:eq], kv[eq+1:]
		rest := strings.TrimPrefix(key, prefix)
		parts := strings.SplitN(rest, "_", 2)
		if len(parts) != 2 {
			continue
		}
		id := strings.ToLower(parts[0])
		field := parts[1]

		o := cfg.CompilerOverrides[id]
		switch field {
		case "EXE":
			o.Exe = val
		case "NAME":
			o.Name = val
		case "OPTIONS":
			o.Options = splitNonEmpty(val, " ")
		case "VERSION_FLAG":
			o.VersionFlag = val
		case "VERSION_RE":
			o.VersionRegex = val
		case "DEMANGLER":
			o.Demangler = val
		case "OBJDUMPER":
			o.Objdumper = val
		case "INTEL_ASM_FLAG":
			o.IntelAsmFlag = val
		case "POST_PROCESS":
			o.PostProcess = val
		case "SUPPORTS_BINARY":
			o.SupportsBinary = val == "true" || val == "1"
		case "SUPPORTS_EXECUTE":
			o.SupportsExecute = val == "true" || val == "1"
		case "SUPPORTS_INTEL":
			o.SupportsIntel = val == "true" || val == "1"
		case "SUPPORTS_OPT_RECORD":
			o.SupportsOptRecord = val == "true" || val == "1"
		case "TYPE":
			o.CompilerType = val
		}
		cfg.CompilerOverrides[id] = o
	}
}

// loadGroups scans the environment for GROUP_<NAME>_COMPILERS. Only the
// compiler list is loaded; GroupConfig.Defaults is not populated from the
// environment, so group-scoped lookups fall through to the outer getter.
func loadGroups(cfg *Config) {
	const prefix = "GROUP_"
	const suffix = "_COMPILERS"
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, prefix) || !strings.Contains(kv, suffix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		key, val := kv[:eq], kv[eq+1:]
		name := strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(key, prefix), suffix))
		g := cfg.Groups[name]
		g.Compilers = splitNonEmpty(val, ":")
		cfg.Groups[name] = g
	}
}

func splitNonEmpty(s, sep string) []string {
	raw := strings.Split(s, sep)
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
