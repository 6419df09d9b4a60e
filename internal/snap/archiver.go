package snap

import "context"

// ArchiveResult reports the outcome of archiving one domain.
type ArchiveResult struct {
	// File is the artifact file name inside the staging directory.
	// Empty when the domain was skipped.
	File string
	// Skipped is set when the domain root does not exist. Not every
	// domain is mandatory, so this is a soft outcome, not an error.
	Skipped bool
}

// Archiver produces and applies per-domain archives. It exclusively owns the
// per-domain change-state tokens: a token is created by the first full
// archive of a domain, advanced by Commit after the artifact is confirmed
// staged, and replaced whenever a full archive is forced.
type Archiver interface {
	// Archive writes an archive of root into destDir. When full is
	// false, only entries changed since the domain's current token are
	// emitted. The new token is staged but NOT advanced; call Commit once
	// the artifact is confirmed staged so an interrupted run can be
	// safely re-attempted from scratch.
	Archive(ctx context.Context, domain string, root string, destDir string, full bool) (*ArchiveResult, error)

	// Commit advances the domain's change-state token to the state
	// captured by the most recent Archive call for that domain.
	Commit(domain string) error

	// Extract applies an archive produced by Archive onto destRoot,
	// reproducing the archived tree exactly: entries are written and
	// paths absent from the archived catalog are removed.
	Extract(ctx context.Context, archivePath string, destRoot string) error
}
