// Package resolve extracts dependency references from source text and
// simulates how a runtime would resolve them against the filesystem.
package resolve

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

// Syntax describes how dependency statements look in the audited language.
type Syntax struct {
	pattern *regexp.Regexp
	anchor  string
}

// NewSyntax compiles a reference pattern. The last capture group must hold
// the path literal; when the pattern has two or more groups, the first one
// captures an optional anchor prefix (e.g. `__DIR__ .`).
func NewSyntax(pattern, anchorToken string) (Syntax, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Syntax{}, fmt.Errorf("compile reference pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return Syntax{}, fmt.Errorf("reference pattern %q has no capture group", pattern)
	}
	return Syntax{pattern: re, anchor: anchorToken}, nil
}

// AnchorToken returns the token that anchors a reference to its file.
func (s Syntax) AnchorToken() string { return s.anchor }

// Reference is one dependency statement found in a file.
type Reference struct {
	Raw       string // path literal as written
	Line      int
	Statement string
	Kind      string // include, require_once, ...
	Anchored  bool
}

var kindRe = regexp.MustCompile(`^[A-Za-z_]+`)

// Extract returns the references in content, in order of appearance.
func Extract(content []byte, syn Syntax) []Reference {
	var refs []Reference
	sc := bufio.NewScanner(bytes.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		for _, m := range syn.pattern.FindAllStringSubmatch(text, -1) {
			raw := m[len(m)-1]
			if raw == "" {
				continue
			}
			anchored := false
			if len(m) > 2 {
				anchored = m[1] != "" && (syn.anchor == "" || strings.Contains(m[1], syn.anchor))
			}
			refs = append(refs, Reference{
				Raw:       raw,
				Line:      line,
				Statement: strings.TrimSpace(m[0]),
				Kind:      kindRe.FindString(m[0]),
				Anchored:  anchored,
			})
		}
	}
	return refs
}
