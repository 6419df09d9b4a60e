// Package archive implements the per-domain artifact archiver: tar.gz blobs
// with an embedded catalog, plus the change-state tokens that drive
// incremental archiving.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"docsnap/internal/snap"
)

// catalogMember is the first member of every archive: a newline-separated
// listing of all paths present in the domain at snapshot time. Directories
// carry a trailing slash. The applier uses it to reproduce deletions, so an
// archive chain reconstructs the domain's exact tree.
const catalogMember = ".docsnap-catalog"

// TarArchiver archives domain trees as tar.gz blobs.
//
// Change rule: a file is considered changed, and re-archived in incremental
// mode, when its size or its mtime (nanosecond precision) differs from the
// domain's change-state token. The token is a TOML file per domain under
// <stateDir>/tokens, owned exclusively by this archiver.
type TarArchiver struct {
	tokenDir string
	logger   snap.Logger
}

var _ snap.Archiver = (*TarArchiver)(nil)

// NewTarArchiver creates an archiver keeping its tokens under stateDir.
func NewTarArchiver(stateDir string, logger snap.Logger) (*TarArchiver, error) {
	tokenDir := filepath.Join(stateDir, "tokens")
	if err := os.MkdirAll(tokenDir, 0755); err != nil {
		return nil, fmt.Errorf("creating token directory: %w", err)
	}
	return &TarArchiver{tokenDir: tokenDir, logger: logger}, nil
}

// Archive writes destDir/<domain>.tar.gz. In incremental mode only files
// changed since the domain's token are emitted; the catalog member always
// lists the complete current tree. The advanced token is staged as a
// sibling .next file and only takes effect on Commit.
func (a *TarArchiver) Archive(ctx context.Context, domain string, root string, destDir string, full bool) (*snap.ArchiveResult, error) {
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return &snap.ArchiveResult{Skipped: true}, nil
		}
		return nil, fmt.Errorf("stat domain root: %w", err)
	}

	baseline := token{Entries: map[string]tokenEntry{}}
	if !full {
		loaded, err := a.loadToken(domain)
		if err != nil {
			return nil, err
		}
		baseline = loaded
	}

	dirs, files, err := scanTree(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", domain, err)
	}

	name := domain + ".tar.gz"
	if err := writeArchive(ctx, filepath.Join(destDir, name), root, dirs, files, baseline, full); err != nil {
		return nil, err
	}

	next := token{Entries: make(map[string]tokenEntry, len(files))}
	for path, info := range files {
		next.Entries[path] = tokenEntry{Size: info.Size(), MTimeUnixNano: info.ModTime().UnixNano()}
	}
	if err := a.stageToken(domain, next); err != nil {
		return nil, err
	}

	return &snap.ArchiveResult{File: name}, nil
}

// Commit atomically replaces the domain's token with the state staged by the
// most recent Archive call.
func (a *TarArchiver) Commit(domain string) error {
	next := a.tokenPath(domain) + ".next"
	if _, err := os.Stat(next); err != nil {
		return fmt.Errorf("no staged token for domain %s: %w", domain, err)
	}
	if err := os.Rename(next, a.tokenPath(domain)); err != nil {
		return fmt.Errorf("committing token for %s: %w", domain, err)
	}
	return nil
}

// Extract applies one archive layer onto destRoot: members are written in
// place, then every path absent from the layer's catalog is removed. Applied
// in chain order this reproduces the archived tree exactly.
func (a *TarArchiver) Extract(ctx context.Context, archivePath string, destRoot string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return snap.NewError(snap.Corruption, "read archive", "", fmt.Errorf("%s: %w", archivePath, err))
	}
	defer gz.Close()

	if err := os.MkdirAll(destRoot, 0755); err != nil {
		return fmt.Errorf("creating domain root: %w", err)
	}

	tr := tar.NewReader(gz)

	hdr, err := tr.Next()
	if err != nil {
		return snap.NewError(snap.Corruption, "read archive", "", fmt.Errorf("empty archive %s", archivePath))
	}
	if hdr.Name != catalogMember {
		return snap.NewError(snap.Corruption, "read archive", "",
			fmt.Errorf("archive %s has no leading catalog member", archivePath))
	}
	keep, err := readCatalog(tr)
	if err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return snap.NewError(snap.TransientIO, "extract archive", "", err)
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return snap.NewError(snap.Corruption, "read archive", "", fmt.Errorf("%s: %w", archivePath, err))
		}
		if err := applyMember(destRoot, hdr, tr); err != nil {
			return err
		}
	}

	return pruneAbsent(destRoot, keep)
}

// scanTree walks the domain root collecting directories and regular files.
// Symlinks and other irregular entries are skipped: the stack's data
// directories contain only plain files.
func scanTree(ctx context.Context, root string) (dirs []string, files map[string]fs.FileInfo, err error) {
	files = make(map[string]fs.FileInfo)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		switch {
		case d.IsDir():
			dirs = append(dirs, rel)
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return err
			}
			files[rel] = info
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	sort.Strings(dirs)
	return dirs, files, nil
}

// writeArchive emits the catalog member, directory headers, and every
// selected file.
func writeArchive(ctx context.Context, path string, root string, dirs []string, files map[string]fs.FileInfo, baseline token, full bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	if err := writeCatalog(tw, dirs, files); err != nil {
		return err
	}

	for _, dir := range dirs {
		info, err := os.Stat(filepath.Join(root, filepath.FromSlash(dir)))
		if err != nil {
			return fmt.Errorf("stat %s: %w", dir, err)
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = dir + "/"
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("writing directory header %s: %w", dir, err)
		}
	}

	selected := make([]string, 0, len(files))
	for rel, info := range files {
		if full || baseline.changed(rel, info) {
			selected = append(selected, rel)
		}
	}
	sort.Strings(selected)

	for _, rel := range selected {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writeFileMember(tw, root, rel, files[rel]); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalizing tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("finalizing gzip stream: %w", err)
	}
	return f.Close()
}

func writeFileMember(tw *tar.Writer, root string, rel string, info fs.FileInfo) error {
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = rel

	src, err := os.Open(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return fmt.Errorf("opening %s: %w", rel, err)
	}
	defer src.Close()

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing header %s: %w", rel, err)
	}
	if _, err := io.Copy(tw, src); err != nil {
		return fmt.Errorf("archiving %s: %w", rel, err)
	}
	return nil
}

// writeCatalog lists every current path, directories with a trailing slash.
func writeCatalog(tw *tar.Writer, dirs []string, files map[string]fs.FileInfo) error {
	lines := make([]string, 0, len(dirs)+len(files))
	for _, d := range dirs {
		lines = append(lines, d+"/")
	}
	for rel := range files {
		lines = append(lines, rel)
	}
	sort.Strings(lines)
	content := strings.Join(lines, "\n")
	if content != "" {
		content += "\n"
	}

	hdr := &tar.Header{Name: catalogMember, Mode: 0644, Size: int64(len(content))}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing catalog header: %w", err)
	}
	if _, err := io.WriteString(tw, content); err != nil {
		return fmt.Errorf("writing catalog: %w", err)
	}
	return nil
}

// readCatalog parses the catalog member into the set of paths to keep.
func readCatalog(r io.Reader) (map[string]bool, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, snap.NewError(snap.Corruption, "read archive catalog", "", err)
	}
	keep := make(map[string]bool)
	for _, line := range strings.Split(string(data), "\n") {
		if line != "" {
			keep[strings.TrimSuffix(line, "/")] = true
		}
	}
	return keep, nil
}

// applyMember writes one tar member under destRoot, rejecting path escapes.
func applyMember(destRoot string, hdr *tar.Header, r io.Reader) error {
	rel := filepath.Clean(filepath.FromSlash(hdr.Name))
	if rel == "." || filepath.IsAbs(rel) || strings.HasPrefix(rel, "..") {
		return snap.NewError(snap.Corruption, "extract archive", "",
			fmt.Errorf("archive member escapes the domain root: %s", hdr.Name))
	}
	dest := filepath.Join(destRoot, rel)

	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(dest, hdr.FileInfo().Mode().Perm()); err != nil {
			return fmt.Errorf("creating directory %s: %w", rel, err)
		}
		return nil
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return fmt.Errorf("creating parent of %s: %w", rel, err)
		}
		out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, hdr.FileInfo().Mode().Perm())
		if err != nil {
			return fmt.Errorf("creating %s: %w", rel, err)
		}
		if _, err := io.Copy(out, r); err != nil {
			out.Close()
			return fmt.Errorf("extracting %s: %w", rel, err)
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("closing %s: %w", rel, err)
		}
		if err := os.Chtimes(dest, hdr.ModTime, hdr.ModTime); err != nil {
			return fmt.Errorf("setting times on %s: %w", rel, err)
		}
		return nil
	default:
		// Symlinks and specials are never produced by Archive.
		return snap.NewError(snap.Corruption, "extract archive", "",
			fmt.Errorf("unsupported member type %d for %s", hdr.Typeflag, hdr.Name))
	}
}

// pruneAbsent removes every path under destRoot that the layer catalog does
// not list, deepest first so emptied directories go too.
func pruneAbsent(destRoot string, keep map[string]bool) error {
	var doomed []string
	err := filepath.WalkDir(destRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(destRoot, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if !keep[filepath.ToSlash(rel)] {
			doomed = append(doomed, path)
			if d.IsDir() {
				return fs.SkipDir
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning for removed paths: %w", err)
	}

	for _, path := range doomed {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("removing %s: %w", path, err)
		}
	}
	return nil
}
