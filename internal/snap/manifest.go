package snap

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
)

// ManifestName is the file inside a snapshot directory that holds its
// metadata. Its presence remotely is the commit marker: a snapshot without a
// visible manifest does not exist.
const ManifestName = "manifest"

// IDFormat is the time layout for snapshot identifiers. The layout is
// lexically sortable, so a plain string sort orders snapshots by creation
// time.
const IDFormat = "2006-01-02_15-04-05"

// FormatID derives a snapshot identifier from its creation time.
func FormatID(t time.Time) string {
	return t.Format(IDFormat)
}

// ParseIDTime recovers the creation time encoded in a snapshot identifier.
func ParseIDTime(id string) (time.Time, error) {
	t, err := time.Parse(IDFormat, id)
	if err != nil {
		return time.Time{}, NewError(InvalidInput, "parse snapshot id", id, err)
	}
	return t, nil
}

// Artifact describes one staged blob referenced by a manifest.
type Artifact struct {
	File   string `toml:"file"`
	Size   int64  `toml:"size"`
	SHA256 string `toml:"sha256"`
}

// Manifest is the single source of truth for a snapshot: its identity, its
// place in the chain, and the integrity data for every artifact it carries.
// No component may infer snapshot relationships by any other means.
type Manifest struct {
	ID         string              `toml:"id"`
	Kind       Kind                `toml:"kind"`
	Parent     string              `toml:"parent,omitempty"`
	CreatedAt  time.Time           `toml:"created_at"`
	FinishedAt time.Time           `toml:"finished_at"`
	HostID     string              `toml:"host_id"`
	AppVersion string              `toml:"app_version,omitempty"`
	Artifacts  map[string]Artifact `toml:"artifacts"`
}

// Domains returns the manifest's artifact domains in sorted order.
func (m *Manifest) Domains() []string {
	domains := make([]string, 0, len(m.Artifacts))
	for d := range m.Artifacts {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}

// TotalSize returns the summed size of all artifacts.
func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, a := range m.Artifacts {
		total += a.Size
	}
	return total
}

// Validate checks the structural invariants a manifest must hold before any
// other component consumes it.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return NewError(Corruption, "validate manifest", "", fmt.Errorf("missing snapshot id"))
	}
	if _, err := ParseIDTime(m.ID); err != nil {
		return NewError(Corruption, "validate manifest", m.ID, fmt.Errorf("malformed snapshot id"))
	}
	if m.Kind == KindIncremental && m.Parent == "" {
		return NewError(Corruption, "validate manifest", m.ID, fmt.Errorf("incremental snapshot has no parent"))
	}
	if m.Kind != KindIncremental && m.Parent != "" {
		return NewError(Corruption, "validate manifest", m.ID, fmt.Errorf("%s snapshot names a parent", m.Kind))
	}
	return nil
}

// ManifestBuilder assembles a manifest from the staged artifact set. Hashing
// happens here, once, after every artifact is finalized; the resulting
// manifest is written last so its presence implies all artifacts are staged.
type ManifestBuilder struct {
	ID         string
	Kind       Kind
	Parent     string
	CreatedAt  time.Time
	HostID     string
	AppVersion string
}

// Build computes size and SHA-256 for each named artifact file under
// stagingDir and returns the finished manifest. files maps the logical
// domain name to the artifact's file name inside the staging directory.
func (b *ManifestBuilder) Build(stagingDir string, files map[string]string, finishedAt time.Time) (*Manifest, error) {
	m := &Manifest{
		ID:         b.ID,
		Kind:       b.Kind,
		Parent:     b.Parent,
		CreatedAt:  b.CreatedAt,
		FinishedAt: finishedAt,
		HostID:     b.HostID,
		AppVersion: b.AppVersion,
		Artifacts:  make(map[string]Artifact, len(files)),
	}

	for domain, name := range files {
		size, sum, err := hashFile(filepath.Join(stagingDir, name))
		if err != nil {
			return nil, fmt.Errorf("hashing artifact %s: %w", name, err)
		}
		m.Artifacts[domain] = Artifact{File: name, Size: size, SHA256: sum}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// WriteManifest encodes m into stagingDir/manifest. It must be the last file
// written into a staging directory.
func WriteManifest(stagingDir string, m *Manifest) error {
	f, err := os.Create(filepath.Join(stagingDir, ManifestName))
	if err != nil {
		return fmt.Errorf("creating manifest file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(m); err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	return nil
}

// ReadManifest decodes a manifest from r and validates it.
func ReadManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	if _, err := toml.NewDecoder(r).Decode(&m); err != nil {
		return nil, NewError(Corruption, "decode manifest", "", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifest reads the manifest file from a snapshot directory on disk.
func LoadManifest(dir string) (*Manifest, error) {
	f, err := os.Open(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	defer f.Close()
	return ReadManifest(f)
}

// VerifyArtifacts recomputes size and SHA-256 for every artifact the
// manifest references against the files in dir. Any mismatch is Corruption.
func VerifyArtifacts(dir string, m *Manifest) error {
	for domain, want := range m.Artifacts {
		size, sum, err := hashFile(filepath.Join(dir, want.File))
		if err != nil {
			return NewError(Corruption, "verify artifact "+domain, m.ID, err)
		}
		if size != want.Size {
			return NewError(Corruption, "verify artifact "+domain, m.ID,
				fmt.Errorf("size mismatch: manifest records %d bytes, file has %d", want.Size, size))
		}
		if sum != want.SHA256 {
			return NewError(Corruption, "verify artifact "+domain, m.ID,
				fmt.Errorf("checksum mismatch: manifest records %s, file hashes to %s", want.SHA256, sum))
		}
	}
	return nil
}

// hashFile returns the size and hex SHA-256 of the file at path.
func hashFile(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return 0, "", fmt.Errorf("reading %s: %w", path, err)
	}
	return size, hex.EncodeToString(h.Sum(nil)), nil
}
