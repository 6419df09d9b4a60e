package archive

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"docsnap/internal/snap"
)

// token is the change-state cursor for one domain: the size and mtime of
// every file as of the last committed archive. A missing token means no
// baseline, so every file counts as changed.
type token struct {
	Entries map[string]tokenEntry `toml:"entries"`
}

type tokenEntry struct {
	Size          int64 `toml:"size"`
	MTimeUnixNano int64 `toml:"mtime_unix_nano"`
}

// changed reports whether the file differs from the baseline entry.
func (t token) changed(rel string, info fs.FileInfo) bool {
	entry, ok := t.Entries[rel]
	if !ok {
		return true
	}
	return entry.Size != info.Size() || entry.MTimeUnixNano != info.ModTime().UnixNano()
}

func (a *TarArchiver) tokenPath(domain string) string {
	return filepath.Join(a.tokenDir, domain+".token")
}

// loadToken reads the committed token for a domain. A missing file yields an
// empty baseline.
func (a *TarArchiver) loadToken(domain string) (token, error) {
	t := token{Entries: map[string]tokenEntry{}}
	data, err := os.ReadFile(a.tokenPath(domain))
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return t, fmt.Errorf("reading change token for %s: %w", domain, err)
	}
	if err := toml.Unmarshal(data, &t); err != nil {
		return t, snap.NewError(snap.Corruption, "decode change token for "+domain, "", err)
	}
	if t.Entries == nil {
		t.Entries = map[string]tokenEntry{}
	}
	return t, nil
}

// stageToken writes the advanced token beside the committed one. Commit
// renames it into place once the artifact is confirmed staged and uploaded.
func (a *TarArchiver) stageToken(domain string, t token) error {
	f, err := os.Create(a.tokenPath(domain) + ".next")
	if err != nil {
		return fmt.Errorf("staging change token for %s: %w", domain, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(t); err != nil {
		return fmt.Errorf("encoding change token for %s: %w", domain, err)
	}
	return f.Close()
}
