package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rhuss/plotwise/pkg/api"
)

// MaxArtifactBytes bounds a single image read back from the working
// directory. Larger files are skipped.
const MaxArtifactBytes = 32 << 20

// AllowedFormats is the extension allow-list for artifacts.
var AllowedFormats = map[string]bool{
	"png":  true,
	"svg":  true,
	"jpg":  true,
	"jpeg": true,
	"gif":  true,
	"webp": true,
	"pdf":  true,
}

// artifactRule matches a file stem and assigns its sort group.
type artifactRule struct {
	name    string
	pattern *regexp.Regexp
	group   int
}

// artifactRules is the complete list of file names a script may use for
// its output. A stem matches when it contains the word "main" or "graph",
// optionally numbered; "mainly" or "paragraph" do not. Anything else in
// the working directory is ignored.
//
//	main.png, revenue_main.png        the requested chart
//	graph_1.png, sales-graph2.svg     numbered charts
var artifactRules = []artifactRule{
	{name: "main", pattern: regexp.MustCompile(`(?:^|[^a-z0-9])main(?:$|[^a-z0-9])`), group: 0},
	{name: "graph", pattern: regexp.MustCompile(`(?:^|[^a-z0-9])graph(?:[_-]?(\d+))?(?:$|[^a-z0-9])`), group: 1},
}

type match struct {
	path   string
	name   string
	format string
	group  int
	index  int
}

// matchArtifact applies the rule table to a file name.
func matchArtifact(name string) (match, bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if !AllowedFormats[ext] {
		return match{}, false
	}
	stem := strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))
	for _, rule := range artifactRules {
		m := rule.pattern.FindStringSubmatch(stem)
		if m == nil {
			continue
		}
		index := 0
		if len(m) > 1 && m[1] != "" {
			index, _ = strconv.Atoi(m[1])
		}
		return match{name: name, format: ext, group: rule.group, index: index}, true
	}
	return match{}, false
}

// Collect reads every artifact found in dirs, in order of the rule table:
// main first, then graphs by index, then by name. A file name seen in an
// earlier directory hides the same name in later ones.
func Collect(dirs ...string) ([]api.Artifact, error) {
	seen := make(map[string]bool)
	var matches []match
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, e := range entries {
			if !e.Type().IsRegular() || seen[e.Name()] {
				continue
			}
			m, ok := matchArtifact(e.Name())
			if !ok {
				continue
			}
			seen[e.Name()] = true
			m.path = filepath.Join(dir, e.Name())
			matches = append(matches, m)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.group != b.group {
			return a.group < b.group
		}
		if a.index != b.index {
			return a.index < b.index
		}
		return a.name < b.name
	})

	artifacts := make([]api.Artifact, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m.path)
		if err != nil {
			return nil, err
		}
		if info.Size() == 0 || info.Size() > MaxArtifactBytes {
			continue
		}
		data, err := os.ReadFile(m.path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", m.name, err)
		}
		artifacts = append(artifacts, api.Artifact{
			Name:   m.name,
			Format: m.format,
			Size:   len(data),
			Data:   data,
		})
	}
	return artifacts, nil
}
