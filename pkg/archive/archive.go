// Package archive packages study directories into zip files and extracts
// result archives.
//
// All operations go through an afero.Fs so that callers can swap the OS
// filesystem for an in-memory one.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/moby/patternmatcher"
	"github.com/spf13/afero"
)

// ErrUnsafePath is returned for archive entries escaping the target directory.
var ErrUnsafePath = errors.New("archive entry escapes target directory")

// Archiver bundles the directory and archive utilities on one filesystem.
type Archiver struct {
	fs afero.Fs
}

// New returns an Archiver. A nil fs selects the OS filesystem.
func New(fs afero.Fs) *Archiver {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Archiver{fs: fs}
}

// Fs returns the underlying filesystem.
func (a *Archiver) Fs() afero.Fs {
	return a.fs
}

// MakeDir creates dir and its parents.
func (a *Archiver) MakeDir(dir string) error {
	// #nosec G301 -- results and logs are shared with the operator
	return a.fs.MkdirAll(dir, 0755)
}

// Remove deletes a file. A missing file is not an error.
func (a *Archiver) Remove(name string) error {
	if err := a.fs.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Pack zips srcDir into dstZip. Entry names are rooted at the base name of
// srcDir. Paths matching one of excludes (patternmatcher syntax, relative to
// srcDir) are skipped. It returns the archive size in bytes.
func (a *Archiver) Pack(srcDir, dstZip string, excludes []string) (int64, error) {
	srcDir = filepath.Clean(srcDir)
	info, err := a.fs.Stat(srcDir)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", srcDir, err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("%s is not a directory", srcDir)
	}

	var pm *patternmatcher.PatternMatcher
	if len(excludes) > 0 {
		pm, err = patternmatcher.New(excludes)
		if err != nil {
			return 0, fmt.Errorf("invalid exclude patterns: %w", err)
		}
	}

	if err := a.MakeDir(filepath.Dir(dstZip)); err != nil {
		return 0, fmt.Errorf("create archive directory: %w", err)
	}
	out, err := a.fs.Create(dstZip)
	if err != nil {
		return 0, fmt.Errorf("create archive: %w", err)
	}

	root := filepath.Base(srcDir)
	zw := zip.NewWriter(out)
	walkErr := afero.Walk(a.fs, srcDir, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		if rel != "." && pm != nil {
			excluded, err := pm.MatchesOrParentMatches(filepath.ToSlash(rel))
			if err != nil {
				return err
			}
			if excluded {
				if fi.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		name := path.Join(root, filepath.ToSlash(rel))
		return a.addEntry(zw, p, name, fi)
	})

	closeErr := zw.Close()
	fileErr := out.Close()
	if err := errors.Join(walkErr, closeErr, fileErr); err != nil {
		_ = a.fs.Remove(dstZip)
		return 0, fmt.Errorf("package %s: %w", srcDir, err)
	}

	st, err := a.fs.Stat(dstZip)
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

func (a *Archiver) addEntry(zw *zip.Writer, p, name string, fi os.FileInfo) error {
	hdr, err := zip.FileInfoHeader(fi)
	if err != nil {
		return err
	}
	hdr.Name = name
	if fi.IsDir() {
		hdr.Name += "/"
		hdr.Method = zip.Store
		_, err := zw.CreateHeader(hdr)
		return err
	}
	if !fi.Mode().IsRegular() {
		return nil
	}
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	f, err := a.fs.Open(p)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = io.Copy(w, f)
	return err
}

// ExtractTarget decides where an archive with the given entry names is
// extracted: next to the archive when every entry lives under one common
// top-level directory, otherwise in a directory named after the archive.
func ExtractTarget(zipPath string, names []string) string {
	parent := filepath.Dir(zipPath)
	if commonTopDir(names) != "" {
		return parent
	}
	stem := strings.TrimSuffix(filepath.Base(zipPath), filepath.Ext(zipPath))
	return filepath.Join(parent, stem)
}

func commonTopDir(names []string) string {
	top := ""
	for _, n := range names {
		isDir := strings.HasSuffix(n, "/")
		trimmed := strings.Trim(n, "/")
		if trimmed == "" {
			continue
		}
		first, _, nested := strings.Cut(trimmed, "/")
		if !nested && !isDir {
			// Bare file at the archive root.
			return ""
		}
		if top == "" {
			top = first
		} else if top != first {
			return ""
		}
	}
	return top
}

// Extract unpacks zipPath and returns the directory it was extracted into.
func (a *Archiver) Extract(zipPath string) (string, error) {
	f, err := a.fs.Open(zipPath)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat archive: %w", err)
	}
	zr, err := zip.NewReader(f, st.Size())
	if err != nil {
		return "", fmt.Errorf("read archive %s: %w", zipPath, err)
	}

	names := make([]string, 0, len(zr.File))
	for _, zf := range zr.File {
		names = append(names, zf.Name)
	}
	target := ExtractTarget(zipPath, names)
	if err := a.MakeDir(target); err != nil {
		return "", fmt.Errorf("create extraction directory: %w", err)
	}

	for _, zf := range zr.File {
		if err := a.extractFile(zf, target); err != nil {
			return "", fmt.Errorf("extract %s: %w", zf.Name, err)
		}
	}
	return target, nil
}

func (a *Archiver) extractFile(zf *zip.File, target string) error {
	dst := filepath.Join(target, filepath.FromSlash(zf.Name))
	if dst != target && !strings.HasPrefix(dst, target+string(filepath.Separator)) {
		return ErrUnsafePath
	}

	if zf.FileInfo().IsDir() {
		return a.MakeDir(dst)
	}
	if err := a.MakeDir(filepath.Dir(dst)); err != nil {
		return err
	}

	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	out, err := a.fs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil { // #nosec G110 -- result archives come from our own cluster jobs
		_ = out.Close()
		return err
	}
	return out.Close()
}
