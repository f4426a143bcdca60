package version

import (
	"strconv"
	"strings"

	"github.com/chis/fleetwatch/internal/model"
)

// Classify describes what kind of update the container's result represents.
func Classify(c *model.Container) model.UpdateKind {
	if c.Result == nil || !c.UpdateAvailable {
		return model.UpdateKind{Kind: model.UpdateKindUnknown}
	}

	local, remote := c.Image.Tag.Value, c.Result.Tag
	if local != remote {
		kind := model.UpdateKind{
			Kind:        model.UpdateKindTag,
			LocalValue:  local,
			RemoteValue: remote,
			SemverDiff:  DiffUnknown,
		}
		if c.Image.Tag.Semver {
			kind.SemverDiff = Diff(Transform(c.TransformTags, local), Transform(c.TransformTags, remote))
		}
		return kind
	}

	if c.Image.Digest.Value != "" && c.Image.Digest.Value != c.Result.Digest {
		return model.UpdateKind{
			Kind:        model.UpdateKindDigest,
			LocalValue:  c.Image.Digest.Value,
			RemoteValue: c.Result.Digest,
		}
	}
	return model.UpdateKind{Kind: model.UpdateKindUnknown}
}

// RenderLink fills a link template for a tag. Supported placeholders are
// ${original}, ${transformed} and, when the transformed tag is semver,
// ${major}, ${minor}, ${patch} and ${prerelease}.
func RenderLink(template, transformRule, tag string) string {
	if template == "" {
		return ""
	}

	transformed := Transform(transformRule, tag)
	pairs := []string{
		"${original}", tag,
		"${transformed}", transformed,
	}
	if v := Parse(transformed); v != nil {
		pairs = append(pairs,
			"${major}", strconv.FormatUint(v.Major(), 10),
			"${minor}", strconv.FormatUint(v.Minor(), 10),
			"${patch}", strconv.FormatUint(v.Patch(), 10),
			"${prerelease}", v.Prerelease(),
		)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
