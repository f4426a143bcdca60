package version

import (
	"regexp"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/chis/fleetwatch/internal/logging"
	"github.com/chis/fleetwatch/internal/model"
)

// TagCandidates returns the remote tags that are an upgrade over the
// container's current tag, highest version first.
//
// Tags are filtered by the container's include and exclude patterns, then
// transformed with its transform rule and parsed as semver. Tags parsing
// lower than the current tag are dropped, and among tags parsing to the same
// version only the first one listed is kept. A current tag that is not
// semver yields no candidates.
func TagCandidates(c *model.Container, tags []string, log *logging.Logger) []string {
	if log == nil {
		log = logging.Default()
	}

	filtered := tags
	if c.IncludeTags != "" {
		if re, err := regexp.Compile(c.IncludeTags); err != nil {
			log.WithError(err).Warn("Ignoring invalid include regex %q", c.IncludeTags)
		} else {
			filtered = keep(filtered, re.MatchString)
		}
	}
	if c.ExcludeTags != "" {
		if re, err := regexp.Compile(c.ExcludeTags); err != nil {
			log.WithError(err).Warn("Ignoring invalid exclude regex %q", c.ExcludeTags)
		} else {
			filtered = keep(filtered, func(tag string) bool { return !re.MatchString(tag) })
		}
	}

	current := Parse(Transform(c.TransformTags, c.Image.Tag.Value))
	if current == nil {
		if !c.Image.Digest.Watch {
			log.Warn("Tag %q of %s is not semver and digest watching is disabled: no update can be detected", c.Image.Tag.Value, c.Name)
		}
		return []string{}
	}

	type candidate struct {
		tag     string
		version *semver.Version
	}
	var candidates []candidate
	for _, tag := range filtered {
		v := Parse(Transform(c.TransformTags, tag))
		if v == nil || v.LessThan(current) {
			continue
		}
		candidates = append(candidates, candidate{tag: tag, version: v})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].version.GreaterThan(candidates[j].version)
	})

	out := make([]string, 0, len(candidates))
	for i, cand := range candidates {
		if i > 0 && cand.version.Equal(candidates[i-1].version) {
			continue
		}
		out = append(out, cand.tag)
	}
	return out
}

func keep(tags []string, pred func(string) bool) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if pred(tag) {
			out = append(out, tag)
		}
	}
	return out
}
