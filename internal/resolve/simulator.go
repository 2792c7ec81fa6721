package resolve

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Method names one resolution strategy.
type Method string

const (
	RelativeToFile Method = "relative_to_file"
	RelativeToRoot Method = "relative_to_root"
	AbsolutePath   Method = "absolute_path"
)

// Attempt records one candidate path and whether it exists.
type Attempt struct {
	Method Method `json:"method"`
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
}

// Resolution is the outcome of resolving one reference. All three attempts
// are always present, in fixed order, even when an earlier one succeeded.
type Resolution struct {
	Reference     string
	DeclaringDir  string
	Attempts      []Attempt
	Winner        int // index into Attempts, -1 when unresolved
	Resolved      bool
	ParentEscape  bool
	MissingAnchor bool
	// AnchorBypassed is set when an anchored reference only resolved
	// through a candidate other than its own directory.
	AnchorBypassed bool
}

// WinningPath returns the path that resolved, or "".
func (r Resolution) WinningPath() string {
	if r.Winner < 0 {
		return ""
	}
	return r.Attempts[r.Winner].Path
}

// Risky reports whether any fragility marker is set.
func (r Resolution) Risky() bool {
	return r.ParentEscape || r.MissingAnchor
}

// Simulator resolves references the way the runtime's include lookup would,
// restricted to three candidate locations.
type Simulator struct {
	// Root is the project root used for root-relative candidates.
	Root string
	// WorkDir interprets a relative reference taken as-is. Empty means the
	// process working directory.
	WorkDir string
	// Exists overrides the filesystem probe, mainly for tests.
	Exists func(path string) bool
}

// Resolve builds the candidates for ref declared in declaringFile.
func (s Simulator) Resolve(ref Reference, declaringFile string) Resolution {
	exists := s.Exists
	if exists == nil {
		exists = pathExists
	}
	dir := filepath.Dir(declaringFile)
	raw := filepath.FromSlash(ref.Raw)

	asIs := raw
	if !filepath.IsAbs(asIs) {
		wd := s.WorkDir
		if wd == "" {
			wd, _ = os.Getwd()
		}
		asIs = filepath.Join(wd, raw)
	}

	candidates := []Attempt{
		{Method: RelativeToFile, Path: filepath.Join(dir, raw)},
		{Method: RelativeToRoot, Path: filepath.Join(s.Root, raw)},
		{Method: AbsolutePath, Path: filepath.Clean(asIs)},
	}

	res := Resolution{
		Reference:     ref.Raw,
		DeclaringDir:  dir,
		Winner:        -1,
		ParentEscape:  strings.HasPrefix(ref.Raw, "../") || strings.HasPrefix(ref.Raw, `..\`),
		MissingAnchor: !ref.Anchored && !filepath.IsAbs(raw),
	}
	for i, c := range candidates {
		c.Exists = exists(c.Path)
		res.Attempts = append(res.Attempts, c)
		if c.Exists && res.Winner < 0 {
			res.Winner = i
		}
	}
	res.Resolved = res.Winner >= 0
	res.AnchorBypassed = ref.Anchored && res.Winner > 0
	return res
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// AnchoredLiteral returns the path literal that, appended to the anchor of a
// file in fromDir, reaches target. The result uses forward slashes and starts
// with "/".
func AnchoredLiteral(fromDir, target string) (string, error) {
	rel, err := filepath.Rel(fromDir, target)
	if err != nil {
		return "", fmt.Errorf("relative path from %s to %s: %w", fromDir, target, err)
	}
	return "/" + filepath.ToSlash(rel), nil
}
