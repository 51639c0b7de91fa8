package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	yaml "go.yaml.in/yaml/v3"
)

// coerceToJSONBytes converts YAML to JSON so both formats go through the
// same strict decoder. format is "json" or "yaml".
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, "json", nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, "yaml", errors.Wrap(err, "yaml unmarshal")
	}
	if v == nil {
		v = map[string]any{}
	}
	j, err := json.Marshal(normalizeYAML(v))
	if err != nil {
		return nil, "yaml", errors.Wrap(err, "yaml->json marshal")
	}
	return j, "yaml", nil
}

// normalizeYAML makes every map key a string.
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
