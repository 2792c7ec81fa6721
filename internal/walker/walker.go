package walker

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// FileRecord holds metadata about a discovered source file. Content is read
// on first use and cached; the record is otherwise immutable.
type FileRecord struct {
	Path    string
	RelPath string
	Size    int64

	once    sync.Once
	content []byte
	err     error
}

// Content returns the file contents, reading them on the first call.
func (f *FileRecord) Content() ([]byte, error) {
	f.once.Do(func() {
		f.content, f.err = os.ReadFile(f.Path)
	})
	return f.content, f.err
}

// LineCount returns the number of lines in the file. A trailing line without
// a newline counts as a line.
func (f *FileRecord) LineCount() (int, error) {
	data, err := f.Content()
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	n := strings.Count(string(data), "\n")
	if data[len(data)-1] != '\n' {
		n++
	}
	return n, nil
}

// ScanError reports a directory that could not be read. Root is set when the
// scan root itself failed, in which case nothing else is produced.
type ScanError struct {
	Path string
	Root bool
	Err  error
}

func (e *ScanError) Error() string {
	if e.Root {
		return fmt.Sprintf("scan root %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("scan %s: %v", e.Path, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// Options controls which files a Scanner produces.
type Options struct {
	// Extensions limits output to these extensions (with leading dot).
	// Empty means every file.
	Extensions []string
	// Ignore holds directory patterns: exact names, relative path prefixes
	// or globs.
	Ignore []string
}

// Scanner enumerates the source files of a tree.
type Scanner struct {
	root string
	opts Options
}

// New returns a Scanner rooted at root.
func New(root string, opts Options) *Scanner {
	return &Scanner{root: root, opts: opts}
}

// Root returns the scan root as given.
func (s *Scanner) Root() string { return s.root }

// Files returns a lazy sequence of the files below the root, in lexical
// order. Each call walks the tree again. Unreadable directories are yielded
// as *ScanError values and the walk continues; a failing root yields a
// single error and ends the sequence.
func (s *Scanner) Files() iter.Seq2[*FileRecord, error] {
	return func(yield func(*FileRecord, error) bool) {
		absRoot, err := filepath.Abs(s.root)
		if err != nil {
			yield(nil, &ScanError{Path: s.root, Root: true, Err: err})
			return
		}
		info, err := os.Stat(absRoot)
		if err != nil {
			yield(nil, &ScanError{Path: absRoot, Root: true, Err: err})
			return
		}
		if !info.IsDir() {
			yield(nil, &ScanError{Path: absRoot, Root: true, Err: errors.New("not a directory")})
			return
		}

		// Explicit stack instead of recursion; children are pushed in
		// reverse so they pop in lexical order.
		stack := []string{absRoot}
		for len(stack) > 0 {
			dir := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			entries, err := os.ReadDir(dir)
			if err != nil {
				se := &ScanError{Path: dir, Root: dir == absRoot, Err: err}
				if !yield(nil, se) || se.Root {
					return
				}
				continue
			}

			var subdirs []string
			for _, d := range entries {
				path := filepath.Join(dir, d.Name())
				rel, _ := filepath.Rel(absRoot, path)
				rel = filepath.ToSlash(rel)

				// Skip symlinks.
				if d.Type()&fs.ModeSymlink != 0 {
					continue
				}
				if d.IsDir() {
					if !matchesIgnore(d.Name(), rel, s.opts.Ignore) {
						subdirs = append(subdirs, path)
					}
					continue
				}
				if !d.Type().IsRegular() || !s.allowed(d.Name()) {
					continue
				}
				fi, err := d.Info()
				if err != nil {
					// Removed between ReadDir and Info.
					continue
				}
				rec := &FileRecord{Path: path, RelPath: rel, Size: fi.Size()}
				if !yield(rec, nil) {
					return
				}
			}
			for i := len(subdirs) - 1; i >= 0; i-- {
				stack = append(stack, subdirs[i])
			}
		}
	}
}

func (s *Scanner) allowed(name string) bool {
	if len(s.opts.Extensions) == 0 {
		return true
	}
	return slices.Contains(s.opts.Extensions, strings.ToLower(filepath.Ext(name)))
}

// Collect drains a sequence. A root failure aborts with that error;
// sub-directory failures are returned alongside the records.
func Collect(seq iter.Seq2[*FileRecord, error]) ([]*FileRecord, []error, error) {
	var files []*FileRecord
	var skipped []error
	for rec, err := range seq {
		if err != nil {
			var se *ScanError
			if errors.As(err, &se) && se.Root {
				return nil, nil, err
			}
			skipped = append(skipped, err)
			continue
		}
		files = append(files, rec)
	}
	return files, skipped, nil
}

// matchesIgnore checks if a directory name or relative path matches any ignore pattern.
func matchesIgnore(name, relPath string, patterns []string) bool {
	for _, p := range patterns {
		// Exact directory name match (e.g. "node_modules", ".git").
		if name == p {
			return true
		}
		// Path prefix match on a segment boundary (e.g. "third_party/vendor").
		if relPath == p || strings.HasPrefix(relPath, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
		if matched, _ := filepath.Match(p, relPath); matched {
			return true
		}
		if matched, _ := filepath.Match(p, name); matched {
			return true
		}
	}
	return false
}

// Dirs lists the root and every non-ignored directory below it, parents
// before children. Unreadable sub-directories are listed but not entered.
func (s *Scanner) Dirs() ([]string, error) {
	absRoot, err := filepath.Abs(s.root)
	if err != nil {
		return nil, &ScanError{Path: s.root, Root: true, Err: err}
	}
	var out []string
	stack := []string{absRoot}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		entries, err := os.ReadDir(dir)
		if err != nil {
			if dir == absRoot {
				return nil, &ScanError{Path: dir, Root: true, Err: err}
			}
			out = append(out, dir)
			continue
		}
		out = append(out, dir)
		for i := len(entries) - 1; i >= 0; i-- {
			d := entries[i]
			if !d.IsDir() || d.Type()&fs.ModeSymlink != 0 {
				continue
			}
			path := filepath.Join(dir, d.Name())
			rel, _ := filepath.Rel(absRoot, path)
			if !matchesIgnore(d.Name(), filepath.ToSlash(rel), s.opts.Ignore) {
				stack = append(stack, path)
			}
		}
	}
	return out, nil
}

// Ignored reports whether a root-relative path lies in an ignored directory.
func (s *Scanner) Ignored(rel string) bool {
	segs := strings.Split(filepath.ToSlash(filepath.Clean(rel)), "/")
	for i := range segs {
		if segs[i] == "" || segs[i] == "." {
			continue
		}
		if matchesIgnore(segs[i], strings.Join(segs[:i+1], "/"), s.opts.Ignore) {
			return true
		}
	}
	return false
}
