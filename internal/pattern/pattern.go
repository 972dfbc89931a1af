// Package pattern decides which repository files are mined, using doublestar globs.
package pattern

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"miner-go/internal/config"
	"miner-go/internal/miner"
)

// List is an ordered set of accept and deny globs. A name is accepted when it
// matches an accept pattern and no deny pattern. Patterns without a slash are
// matched against the base name only.
type List struct {
	accept []string
	deny   []string
}

var presets = map[string]struct{ accept, deny []string }{
	"javascript": {
		accept: []string{"*.js", "*.jsx", "*.mjs", "*.cjs"},
		deny:   []string{"*.min.js", "node_modules/**", "**/node_modules/**", "bower_components/**", "**/bower_components/**"},
	},
	"go": {
		accept: []string{"*.go"},
		deny:   []string{"vendor/**", "**/vendor/**", "*.pb.go"},
	},
	"python": {
		accept: []string{"*.py"},
		deny:   []string{"site-packages/**", "**/site-packages/**", "*_pb2.py"},
	},
	"java": {
		accept: []string{"*.java"},
		deny:   []string{"target/generated-sources/**", "**/target/generated-sources/**"},
	},
}

// New creates a List from explicit patterns.
func New(accept, deny []string) (*List, error) {
	l := &List{}
	if err := l.add(accept, deny); err != nil {
		return nil, err
	}
	return l, nil
}

// Preset returns the named built-in list.
func Preset(name string) (*List, error) {
	p, ok := presets[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown pattern preset: %s (have %s)", name, strings.Join(PresetNames(), ", "))
	}
	return New(p.accept, p.deny)
}

// PresetNames returns the names of the built-in lists, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewFromConfig builds a List from the optional preset extended with the configured patterns.
func NewFromConfig(cfg config.FilterConfig) (*List, error) {
	l := &List{}
	if cfg.Preset != "" {
		p, err := Preset(cfg.Preset)
		if err != nil {
			return nil, err
		}
		l = p
	}
	if err := l.add(cfg.Accept, cfg.Deny); err != nil {
		return nil, err
	}
	if len(l.accept) == 0 {
		return nil, fmt.Errorf("filter accepts no files: set a preset or accept patterns")
	}
	return l, nil
}

func (l *List) add(accept, deny []string) error {
	for _, p := range accept {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid accept pattern %q", p)
		}
		l.accept = append(l.accept, p)
	}
	for _, p := range deny {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid deny pattern %q", p)
		}
		l.deny = append(l.deny, p)
	}
	return nil
}

// Check reports whether name is accepted, and whether it was rejected by an
// explicit deny pattern.
func (l *List) Check(name string) (accepted bool, denied bool) {
	name = strings.TrimPrefix(path.Clean(strings.ReplaceAll(name, "\\", "/")), "./")
	if matchAny(l.deny, name) {
		return false, true
	}
	return matchAny(l.accept, name), false
}

// Accept returns a copy of the accept patterns.
func (l *List) Accept() []string { return append([]string(nil), l.accept...) }

// Deny returns a copy of the deny patterns.
func (l *List) Deny() []string { return append([]string(nil), l.deny...) }

func matchAny(patterns []string, name string) bool {
	base := path.Base(name)
	for _, p := range patterns {
		subject := name
		if !strings.Contains(p, "/") {
			subject = base
		}
		// Patterns are validated up front, so Match cannot fail here.
		if ok, _ := doublestar.Match(p, subject); ok {
			return true
		}
	}
	return false
}

var _ miner.Filter = (*List)(nil)
