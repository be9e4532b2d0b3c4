// Package presets provides negative-prompt presets and the weighted tag
// dictionary backing prompt input assistance. Both come from a single YAML
// file; without one a small built-in set keeps the feature usable.
package presets

import (
	"fmt"
	"os"
	"sort"
	"strings"

	log "github.com/go-pkgz/lgr"
	"gopkg.in/yaml.v3"
)

// Preset is a named ready-made negative prompt.
type Preset struct {
	Name   string `yaml:"name" json:"name"`
	Prompt string `yaml:"prompt" json:"prompt"`
}

// Tag is one dictionary entry. Count is the corpus usage frequency and
// drives result ordering, aliases cover localized spellings.
type Tag struct {
	Name     string   `yaml:"name" json:"name"`
	Category int      `yaml:"category,omitempty" json:"category"`
	Count    int      `yaml:"count,omitempty" json:"count"`
	Aliases  []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
}

// Library holds the loaded presets and the tag dictionary, sorted by usage.
// Read-only after load, safe for concurrent use.
type Library struct {
	Presets []Preset
	tags    []Tag
}

type fileFormat struct {
	Presets []Preset `yaml:"presets"`
	Tags    []Tag    `yaml:"tags"`
}

// Load reads the YAML presets file. An empty path yields the built-in
// defaults.
func Load(path string) (*Library, error) {
	if path == "" {
		log.Printf("[DEBUG] no presets file, using built-in defaults")
		return defaultLibrary(), nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // the path comes from the operator config
	if err != nil {
		return nil, fmt.Errorf("can't read presets file: %w", err)
	}

	var parsed fileFormat
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("can't parse presets file %s: %w", path, err)
	}

	lib := &Library{Presets: parsed.Presets, tags: parsed.Tags}
	if len(lib.Presets) == 0 {
		lib.Presets = defaultLibrary().Presets
	}
	if len(lib.tags) == 0 {
		lib.tags = defaultLibrary().tags
	}
	sort.SliceStable(lib.tags, func(i, j int) bool { return lib.tags[i].Count > lib.tags[j].Count })
	log.Printf("[INFO] loaded %d preset(s) and %d tag(s) from %s", len(lib.Presets), len(lib.tags), path)
	return lib, nil
}

// Preset returns the preset with the given name.
func (l *Library) Preset(name string) (Preset, bool) {
	for _, p := range l.Presets {
		if p.Name == name {
			return p, true
		}
	}
	return Preset{}, false
}

// Search returns up to limit tags matching the query, most used first. The
// query is split on spaces and commas into terms combined with AND, a term
// prefixed with "-" excludes instead. Matching is a case-insensitive
// substring check over the name and the aliases. An empty query returns the
// most popular tags.
func (l *Library) Search(query string, limit int) []Tag {
	if limit <= 0 {
		limit = 50
	}

	var include, exclude []string
	for _, term := range strings.FieldsFunc(query, func(r rune) bool { return r == ' ' || r == ',' || r == '\t' }) {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if after, found := strings.CutPrefix(term, "-"); found {
			if after != "" {
				exclude = append(exclude, after)
			}
			continue
		}
		include = append(include, term)
	}

	res := make([]Tag, 0, limit)
	for _, tag := range l.tags {
		if !matches(tag, include, exclude) {
			continue
		}
		res = append(res, tag)
		if len(res) >= limit {
			break
		}
	}
	return res
}

// matches checks every include term hits the name or an alias and no
// exclude term does.
func matches(tag Tag, include, exclude []string) bool {
	name := strings.ToLower(tag.Name)
	aliases := make([]string, len(tag.Aliases))
	for i, a := range tag.Aliases {
		aliases[i] = strings.ToLower(a)
	}

	hit := func(term string) bool {
		if strings.Contains(name, term) {
			return true
		}
		for _, a := range aliases {
			if strings.Contains(a, term) {
				return true
			}
		}
		return false
	}

	for _, term := range exclude {
		if hit(term) {
			return false
		}
	}
	for _, term := range include {
		if !hit(term) {
			return false
		}
	}
	return true
}

// defaultLibrary is the fallback used when no presets file is configured.
func defaultLibrary() *Library {
	return &Library{
		Presets: []Preset{
			{Name: "standard", Prompt: "lowres, bad anatomy, bad hands, text, error, missing fingers, " +
				"extra digit, fewer digits, cropped, worst quality, low quality, normal quality, " +
				"jpeg artifacts, signature, watermark, username, blurry"},
			{Name: "minimal", Prompt: "worst quality, low quality, blurry"},
			{Name: "none", Prompt: ""},
		},
		tags: []Tag{
			{Name: "1girl", Count: 100}, {Name: "solo", Count: 95}, {Name: "long_hair", Count: 90},
			{Name: "looking_at_viewer", Count: 85}, {Name: "smile", Count: 80}, {Name: "blush", Count: 75},
			{Name: "short_hair", Count: 70}, {Name: "blue_eyes", Count: 65}, {Name: "simple_background", Count: 60},
			{Name: "white_background", Count: 55}, {Name: "black_hair", Count: 50}, {Name: "brown_hair", Count: 45},
			{Name: "blonde_hair", Count: 40}, {Name: "hat", Count: 35}, {Name: "dress", Count: 30},
			{Name: "sitting", Count: 25}, {Name: "standing", Count: 20}, {Name: "school_uniform", Count: 15},
			{Name: "red_eyes", Count: 10}, {Name: "green_eyes", Count: 5},
		},
	}
}
