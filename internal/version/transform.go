package version

import (
	"regexp"
	"strings"
)

const transformSeparator = "=>"

var groupReference = regexp.MustCompile(`\$(\d+)`)

// Transform applies a tag transform rule of the form "regex => replacement".
// The replacement may reference capture groups as $1..$n. The tag is returned
// unchanged when the rule is empty, malformed or does not match.
func Transform(rule, tag string) string {
	if strings.TrimSpace(rule) == "" {
		return tag
	}

	pattern, replacement, ok := strings.Cut(rule, transformSeparator)
	if !ok {
		return tag
	}
	pattern = strings.TrimSpace(pattern)
	replacement = strings.TrimSpace(replacement)

	re, err := regexp.Compile(pattern)
	if err != nil {
		return tag
	}

	match := re.FindStringSubmatchIndex(tag)
	if match == nil {
		return tag
	}

	// "$1" followed by a letter would otherwise be read as a named group.
	template := groupReference.ReplaceAllString(replacement, "$${$1}")
	return string(re.ExpandString(nil, template, tag, match))
}
