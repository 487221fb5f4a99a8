package config

import (
	"os"
	"regexp"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// InterpolateEnv replaces ${VAR} patterns with the value of the named
// environment variable. Unset variables keep the literal ${VAR} text, so
// validation downstream can see exactly what was not provided.
func InterpolateEnv(value string) string {
	return envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		name := match[2 : len(match)-1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

// interpolateTree walks a decoded config tree and applies InterpolateEnv to
// every string value. Numbers, booleans, and nulls pass through unchanged.
func interpolateTree(value any) any {
	switch v := value.(type) {
	case string:
		return InterpolateEnv(v)
	case []any:
		for i, item := range v {
			v[i] = interpolateTree(item)
		}
		return v
	case map[string]any:
		for key, item := range v {
			v[key] = interpolateTree(item)
		}
		return v
	default:
		return v
	}
}
