package version

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chis/fleetwatch/internal/model"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"1.2.3", "1.2.3"},
		{"v1.2", "1.2.0"},
		{"1.2.3-beta.1", "1.2.3-beta.1"},
		{"1.2.3.4", "1.2.3"},
		{"release-12.1-alpine", "12.1.0"},
		{"latest", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v := Parse(tt.input)
			if tt.expected == "" {
				assert.Nil(t, v)
				return
			}
			if assert.NotNil(t, v) {
				assert.Equal(t, tt.expected, v.String())
			}
		})
	}
}

func TestDiff(t *testing.T) {
	tests := []struct {
		from, to string
		expected string
	}{
		{"1.0.0", "2.0.0", DiffMajor},
		{"1.0.0", "1.1.0", DiffMinor},
		{"1.0.0", "1.0.1", DiffPatch},
		{"1.0.0-rc.1", "1.0.0-rc.2", DiffPrerelease},
		{"1.0.0", "1.0.0", DiffUnknown},
		{"latest", "1.0.0", DiffUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, Diff(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTransform(t *testing.T) {
	tests := []struct {
		name     string
		rule     string
		tag      string
		expected string
	}{
		{"empty rule", "", "1.2.3", "1.2.3"},
		{"missing separator", `^v(.*)$`, "v1.2.3", "v1.2.3"},
		{"invalid regex", `^(v => $1`, "v1.2.3", "v1.2.3"},
		{"no match", `^ubuntu-(.*)$ => $1`, "1.2.3", "1.2.3"},
		{"single group", `^v(.*)$ => $1`, "v1.2.3", "1.2.3"},
		{"several groups", `^(\d+)\.(\d+)-ls(\d+)$ => $1.$2.$3`, "1.2-ls45", "1.2.45"},
		{"group followed by letters", `^v(\d+)$ => $1x`, "v3", "3x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Transform(tt.rule, tt.tag))
		})
	}
}

func TestClassify(t *testing.T) {
	t.Run("tag update", func(t *testing.T) {
		c := containerOnTag("1.0.0")
		c.Result = &model.Result{Tag: "1.1.0"}
		c.UpdateAvailable = true

		kind := Classify(c)
		assert.Equal(t, model.UpdateKindTag, kind.Kind)
		assert.Equal(t, "1.0.0", kind.LocalValue)
		assert.Equal(t, "1.1.0", kind.RemoteValue)
		assert.Equal(t, DiffMinor, kind.SemverDiff)
	})

	t.Run("digest update", func(t *testing.T) {
		c := containerOnTag("latest")
		c.Image.Digest = model.ImageDigest{Watch: true, Value: "sha256:old"}
		c.Result = &model.Result{Tag: "latest", Digest: "sha256:new"}
		c.UpdateAvailable = true

		kind := Classify(c)
		assert.Equal(t, model.UpdateKindDigest, kind.Kind)
		assert.Equal(t, "sha256:old", kind.LocalValue)
		assert.Equal(t, "sha256:new", kind.RemoteValue)
	})

	t.Run("no update", func(t *testing.T) {
		c := containerOnTag("1.0.0")
		c.Result = &model.Result{Tag: "1.1.0"}
		assert.Equal(t, model.UpdateKindUnknown, Classify(c).Kind)
	})
}

func TestRenderLink(t *testing.T) {
	assert.Equal(t, "", RenderLink("", "", "1.2.3"))
	assert.Equal(t,
		"https://github.com/acme/app/releases/tag/v1.2.3",
		RenderLink("https://github.com/acme/app/releases/tag/v${major}.${minor}.${patch}", "", "1.2.3"))
	assert.Equal(t,
		"https://example.com/ubuntu-2.0/2.0",
		RenderLink("https://example.com/${original}/${transformed}", `^ubuntu-(.*)$ => $1`, "ubuntu-2.0"))
	assert.Equal(t,
		"https://example.com/latest/${major}",
		RenderLink("https://example.com/${original}/${major}", "", "latest"))
}
