package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format distinguishes the two supported config file syntaxes.
type Format int

const (
	FormatYAML Format = iota
	FormatJSON
)

// defaultCandidates are the config file names checked in order when no
// explicit path is given.
var defaultCandidates = []string{
	"taskcast.config.yaml",
	"taskcast.config.yml",
	"taskcast.config.json",
}

// Parse parses config content in the given format.
//
// YAML content has ${VAR} interpolated in the raw text before parsing; JSON
// is parsed first and interpolated per string value, so interpolation cannot
// break the JSON syntax. A port that ends up as a string (typically from env
// substitution) is coerced to a number; if coercion fails the field is
// dropped rather than failing the whole load.
func Parse(content []byte, format Format) (*Config, error) {
	var tree any
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(content, &tree); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		interpolated := InterpolateEnv(string(content))
		if err := yaml.Unmarshal([]byte(interpolated), &tree); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
		// empty YAML decodes to nil
		if tree == nil {
			return &Config{}, nil
		}
	}

	tree = interpolateTree(tree)
	tree = coercePort(tree)

	// round-trip through JSON to apply the struct field mapping
	raw, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("normalizing config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

// coercePort converts a string port to a number, dropping it when it does
// not parse.
func coercePort(tree any) any {
	root, ok := tree.(map[string]any)
	if !ok {
		return tree
	}
	if s, ok := root["port"].(string); ok {
		if n, err := strconv.Atoi(s); err == nil {
			root["port"] = n
		} else {
			delete(root, "port")
		}
	}
	return root
}

// Load reads the config file. With an explicit path only that file is tried;
// otherwise the default candidates are checked in order under baseDir. When
// nothing matches, an empty config is returned.
func Load(explicitPath string, baseDir string) (*Config, error) {
	candidates := defaultCandidates
	if explicitPath != "" {
		candidates = []string{explicitPath}
	}

	for _, candidate := range candidates {
		path := candidate
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, candidate)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}

		format := FormatYAML
		if strings.EqualFold(filepath.Ext(path), ".json") {
			format = FormatJSON
		}
		cfg, err := Parse(content, format)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
		return cfg, nil
	}

	return &Config{}, nil
}
