// Package artifact persists category reports and the remediation plan as
// JSON files in the output directory. Writes are atomic: readers see either
// the previous file or the complete new one.
package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"deployaudit/internal/audit"
)

const reportSuffix = "-results.json"

// ReportFile returns the file name a category's report is stored under.
func ReportFile(category string) string {
	return category + reportSuffix
}

// Dir is an artifact output directory.
type Dir string

// ReportPath returns the full path of a category's report.
func (d Dir) ReportPath(category string) string {
	return filepath.Join(string(d), ReportFile(category))
}

// WriteReport replaces the category's report.
func (d Dir) WriteReport(r audit.Report) error {
	if r.Category == "" {
		return errors.New("report without category")
	}
	return WriteJSON(d.ReportPath(r.Category), r)
}

// ReadReport loads a category's report. A missing file reports fs.ErrNotExist.
func (d Dir) ReadReport(category string) (audit.Report, error) {
	var r audit.Report
	if err := ReadJSON(d.ReportPath(category), &r); err != nil {
		return audit.Report{}, err
	}
	return r, nil
}

// Categories lists the categories that have a report on disk, sorted.
func (d Dir) Categories() ([]string, error) {
	entries, err := os.ReadDir(string(d))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, reportSuffix) {
			continue
		}
		out = append(out, strings.TrimSuffix(name, reportSuffix))
	}
	sort.Strings(out)
	return out, nil
}

// WriteJSON encodes v with indentation and writes it atomically.
func WriteJSON(path string, v any) error {
	data, err := Encode(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, data)
}

// Encode renders v the way artifacts are stored. Map keys come out sorted,
// so equal values always encode to equal bytes.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadJSON decodes the file at path into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// WriteFileAtomic writes data to a temp file in the target directory, syncs
// it and renames it over path.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer d.Close()
	return d.Sync()
}
