package compiler

import (
	"bytes"
	"context"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"apex-build/internal/broker"
	"apex-build/internal/process"
)

// rawOptRecord mirrors one YAML document in an LLVM -opt-record sidecar
// file. The format is a stream of "---\n<doc>\n..." documents, each one
// remark.
type rawOptRecord struct {
	Pass     string `yaml:"Pass"`
	Name     string `yaml:"Name"`
	Function string `yaml:"Function"`
	DebugLoc struct {
		File string `yaml:"File"`
		Line int    `yaml:"Line"`
	} `yaml:"DebugLoc"`
	Args []map[string]interface{} `yaml:"Args"`
}

// parseOptRecords streams the .opt.yaml sibling file, retaining only
// entries whose DebugLoc.File mentions inputFilename. If demanglerExe is
// set, each entry's Function name is passed through the demangler; the
// Message and other fields are not demangled.
func parseOptRecords(ctx context.Context, path, inputFilename, demanglerExe string) ([]broker.OptRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var records []broker.OptRecord
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var raw rawOptRecord
		if err := dec.Decode(&raw); err != nil {
			break
		}
		if raw.DebugLoc.File == "" || !strings.Contains(raw.DebugLoc.File, inputFilename) {
			continue
		}
		records = append(records, broker.OptRecord{
			Pass:     raw.Pass,
			Name:     raw.Name,
			Function: raw.Function,
			Message:  summarizeArgs(raw.Args),
			DebugLoc: &broker.SourceRef{File: raw.DebugLoc.File, Line: raw.DebugLoc.Line},
		})
	}

	if demanglerExe != "" {
		records = demangleOptRecords(ctx, demanglerExe, records)
	}
	return records, nil
}

func summarizeArgs(args []map[string]interface{}) string {
	var b strings.Builder
	for _, a := range args {
		for k, v := range a {
			if k == "String" {
				if s, ok := v.(string); ok {
					b.WriteString(s)
				}
			}
		}
	}
	return b.String()
}

// demangleOptRecords pipes every record's Function name through the
// demangler and splices the demangled names back in, preserving every
// other field untouched.
func demangleOptRecords(ctx context.Context, demanglerExe string, records []broker.OptRecord) []broker.OptRecord {
	names := make([]string, len(records))
	for i, r := range records {
		names[i] = r.Function
	}
	demangled := runDemangler(ctx, demanglerExe, names)
	if len(demangled) != len(records) {
		return records
	}
	for i := range records {
		records[i].Function = demangled[i]
	}
	return records
}

// runDemangler pipes newline-joined names through demanglerExe (e.g.
// c++filt) and splits the result back into the same number of lines.
func runDemangler(ctx context.Context, demanglerExe string, names []string) []string {
	input := []byte(strings.Join(names, "\n") + "\n")
	res, err := process.Run(ctx, demanglerExe, nil, process.Options{
		Dir:   os.TempDir(),
		Stdin: input,
	})
	if err != nil {
		return names
	}
	lines := strings.Split(strings.TrimSuffix(res.Stdout, "\n"), "\n")
	return lines
}
