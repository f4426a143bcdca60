package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chis/fleetwatch/internal/logging"
	"github.com/chis/fleetwatch/internal/model"
)

func containerOnTag(tag string) *model.Container {
	return &model.Container{
		Name: "app",
		Image: model.Image{
			Tag: model.ImageTag{Value: tag, Semver: IsSemver(tag)},
		},
	}
}

func TestTagCandidates(t *testing.T) {
	tests := []struct {
		name      string
		current   string
		include   string
		exclude   string
		transform string
		tags      []string
		expected  []string
	}{
		{
			name:     "only higher versions survive",
			current:  "1.9.0",
			tags:     []string{"1.10.0", "1.2.3"},
			expected: []string{"1.10.0"},
		},
		{
			name:     "sorted by version not lexicographically",
			current:  "1.0",
			tags:     []string{"1.2.0", "1.10.0", "1.9.0"},
			expected: []string{"1.10.0", "1.9.0", "1.2.0"},
		},
		{
			name:     "equal version is kept",
			current:  "1.0.0",
			tags:     []string{"0.9.0", "1.0.0"},
			expected: []string{"1.0.0"},
		},
		{
			name:     "tags of the same version keep the first listed",
			current:  "1.0.0",
			tags:     []string{"1.2.0", "1.2", "v1.2.0", "1.1", "1.1.0"},
			expected: []string{"1.2.0", "1.1"},
		},
		{
			name:     "non semver remote tags are dropped",
			current:  "1.0.0",
			tags:     []string{"latest", "stable", "2.0.0"},
			expected: []string{"2.0.0"},
		},
		{
			name:     "include pattern",
			current:  "1.0.0",
			include:  `^\d+\.\d+\.\d+$`,
			tags:     []string{"2.0.0-alpine", "2.0.0", "1.5.0", "latest"},
			expected: []string{"2.0.0", "1.5.0"},
		},
		{
			name:     "exclude pattern",
			current:  "1.0.0",
			exclude:  `alpine`,
			tags:     []string{"2.0.0", "2.0.0-alpine", "1.5.0"},
			expected: []string{"2.0.0", "1.5.0"},
		},
		{
			name:     "invalid include pattern is ignored",
			current:  "1.0.0",
			include:  `(`,
			tags:     []string{"2.0.0", "1.5.0"},
			expected: []string{"2.0.0", "1.5.0"},
		},
		{
			name:      "transform rule applies to current and remote tags",
			current:   "ubuntu-1.0",
			transform: `^ubuntu-(.*)$ => $1`,
			tags:      []string{"ubuntu-0.9", "ubuntu-2.0", "ubuntu-1.5"},
			expected:  []string{"ubuntu-2.0", "ubuntu-1.5"},
		},
		{
			name:     "non semver current tag yields nothing",
			current:  "latest",
			tags:     []string{"2.0.0", "1.0.0"},
			expected: []string{},
		},
		{
			name:     "no remote tags",
			current:  "1.0.0",
			tags:     nil,
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := containerOnTag(tt.current)
			c.IncludeTags = tt.include
			c.ExcludeTags = tt.exclude
			c.TransformTags = tt.transform

			got := TagCandidates(c, tt.tags, logging.Discard())
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestTagCandidatesProperties(t *testing.T) {
	tags := []string{"3.1.0", "0.1.0", "2.0.0-rc.1", "2.0.0", "latest", "1.4.2", "10.0.0", "1.4.10", "sha-abcdef", "2.0", "v3.1.0"}
	current := containerOnTag("1.4.2")

	got := TagCandidates(current, tags, logging.Discard())
	require.NotEmpty(t, got)

	base := Parse("1.4.2")
	for i, tag := range got {
		assert.Contains(t, tags, tag, "output must be a subset of the input")
		v := Parse(tag)
		require.NotNil(t, v)
		assert.False(t, v.LessThan(base), "%s is lower than the current tag", tag)
		if i > 0 {
			prev := Parse(got[i-1])
			assert.True(t, prev.GreaterThan(v), "%s does not sort strictly before %s", got[i-1], tag)
		}
	}
	assert.Equal(t, "10.0.0", got[0])
}

func TestTagCandidatesDoesNotMutateInput(t *testing.T) {
	tags := []string{"1.0.0", "3.0.0", "2.0.0"}
	_ = TagCandidates(containerOnTag("1.0.0"), tags, logging.Discard())
	assert.Equal(t, []string{"1.0.0", "3.0.0", "2.0.0"}, tags)
}
