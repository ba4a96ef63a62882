package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Decode parses a config file body. ${NAME} and ${NAME:-default} references
// are expanded from the environment first; an unset NAME without a default
// is an error. The format follows the extension: .yaml/.yml are converted to
// JSON so both formats go through the same strict decoder (unknown fields and
// trailing data are rejected).
func Decode(path string, data []byte) (*Config, error) {
	data, err := expandEnv(data, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	jb, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, err
	}
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	// RawMessage accepts any value, so field checks don't mask the real problem.
	var rest json.RawMessage
	if err := dec.Decode(&rest); err != io.EOF {
		return nil, fmt.Errorf("%s: invalid config: trailing data", filepath.Base(path))
	}
	return &cfg, nil
}

var reEnvRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

func expandEnv(data []byte, lookup func(string) (string, bool)) ([]byte, error) {
	var missing []string
	out := reEnvRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		m := reEnvRef.FindSubmatch(ref)
		if v, ok := lookup(string(m[1])); ok {
			return []byte(v)
		}
		if m[2] != nil {
			return m[3]
		}
		missing = append(missing, string(m[1]))
		return ref
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("unset environment variable(s): %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func coerceToJSONBytes(path string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, nil
	}
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	if v == nil {
		v = map[string]any{}
	}
	j, err := json.Marshal(normalizeYAML(v))
	if err != nil {
		return nil, fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, nil
}

// normalizeYAML makes every map key a string so the tree is JSON-marshalable.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = normalizeYAML(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil || len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
