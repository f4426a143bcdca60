package component

import "strings"

// DefaultMaskBoundary is the number of characters kept on each end of a secret.
const DefaultMaskBoundary = 1

// Mask hides value except for boundary characters on each end. Values shorter
// than twice the boundary are fully masked.
func Mask(value string, boundary int, char rune) string {
	if value == "" {
		return ""
	}
	if boundary < 0 {
		boundary = 0
	}

	runes := []rune(value)
	if len(runes) < 2*boundary {
		return strings.Repeat(string(char), len(runes))
	}

	hidden := len(runes) - 2*boundary
	return string(runes[:boundary]) + strings.Repeat(string(char), hidden) + string(runes[len(runes)-boundary:])
}

// MaskFields masks the named string keys of cfg with the default boundary.
func MaskFields(cfg Configuration, keys ...string) Configuration {
	for _, key := range keys {
		v, ok := cfg[key]
		if !ok {
			continue
		}
		if s, ok := v.(string); ok {
			cfg[key] = Mask(s, DefaultMaskBoundary, '*')
		}
	}
	return cfg
}
