package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${NAME} with the environment value. Bare $NAME is left
// alone so prompts and tokens containing '$' survive.
func expandEnv(b []byte) []byte {
	return envRef.ReplaceAllFunc(b, func(m []byte) []byte {
		return []byte(os.Getenv(string(envRef.FindSubmatch(m)[1])))
	})
}

// ParseBytes decodes a config body. ".yaml"/".yml" paths are read as YAML,
// anything else as JSON; both go through the same strict JSON decoder, so
// unknown keys and trailing documents are rejected in either format.
func ParseBytes(path string, b []byte) (*Config, error) {
	b = expandEnv(b)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
		doc, err := jsonable(doc, "")
		if err != nil {
			return nil, err
		}
		if b, err = json.Marshal(doc); err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, errors.New("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

// jsonable rewrites a decoded YAML tree so encoding/json accepts it. Config
// keys are names, so a non-string key is an error reported with its path.
func jsonable(v any, at string) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		for k, child := range x {
			c, err := jsonable(child, at+"."+k)
			if err != nil {
				return nil, err
			}
			x[k] = c
		}
		return x, nil
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, child := range x {
			name, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("yaml: key %v at %q is not a string", k, strings.TrimPrefix(at, "."))
			}
			c, err := jsonable(child, at+"."+name)
			if err != nil {
				return nil, err
			}
			out[name] = c
		}
		return out, nil
	case []any:
		for i, child := range x {
			c, err := jsonable(child, fmt.Sprintf("%s[%d]", at, i))
			if err != nil {
				return nil, err
			}
			x[i] = c
		}
		return x, nil
	default:
		return v, nil
	}
}
