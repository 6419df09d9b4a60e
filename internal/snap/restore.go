package snap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RestoreOptions tune a restore run.
type RestoreOptions struct {
	// SkipConfig keeps the instance's current configuration bundle
	// instead of the one captured in the snapshot. Used when restoring
	// into a freshly provisioned instance whose config was already laid
	// down.
	SkipConfig bool
}

// Restore reconstructs the stack's state at the target snapshot. The chain
// is resolved and downloaded first; only then is the application brought
// down, the domain directories rebuilt layer by layer, the database restored
// from the target's dump, and the application brought back up. The stack is
// never started while the restore is only partially applied.
func (s *Service) Restore(ctx context.Context, targetID string, opts RestoreOptions) error {
	release, err := Lock(s.cfg.StateDir)
	if err != nil {
		return err
	}
	defer release()

	resolver := NewResolver(s.store, s.cfg.Namespace, s.cfg.MaxChainHops)
	chain, err := resolver.Resolve(ctx, targetID)
	if err != nil {
		return err
	}

	chainIDs := make([]string, len(chain))
	for i, m := range chain {
		chainIDs[i] = m.ID
	}
	s.logger.Info("restore chain resolved", "target", targetID, "chain", strings.Join(chainIDs, " -> "))

	workDir, err := os.MkdirTemp("", "docsnap-restore-")
	if err != nil {
		return fmt.Errorf("creating restore directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	// Download and verify every chain member before touching the stack,
	// so a broken download never leaves the application half-restored.
	dirs := make(map[string]string, len(chain))
	for _, m := range chain {
		dir := filepath.Join(workDir, m.ID)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating snapshot directory: %w", err)
		}
		err := s.cfg.Backoff.Do(ctx, func(ctx context.Context) error {
			return s.store.Download(ctx, s.cfg.Namespace, m.ID, dir)
		})
		if err != nil {
			return fmt.Errorf("downloading snapshot %s: %w", m.ID, err)
		}
		if err := VerifyArtifacts(dir, m); err != nil {
			return err
		}
		dirs[m.ID] = dir
	}

	// Stopped: the application must not observe domain mutation.
	s.logger.Info("stopping application stack")
	if err := s.runtime.Down(ctx); err != nil {
		return NewError(Unreachable, "stop application stack", targetID, err)
	}

	if err := s.applyDomains(ctx, chain, dirs, opts); err != nil {
		return err
	}
	s.logger.Info("domains restored", "target", targetID)

	// The dump is always full, so only the target snapshot's database
	// artifact is applied.
	target := chain[len(chain)-1]
	if err := s.applyDatabase(ctx, target, dirs[target.ID]); err != nil {
		return err
	}
	s.logger.Info("database restored", "target", targetID)

	// Started: only after the database restore reported success.
	if err := s.runtime.Up(ctx); err != nil {
		return NewError(Unreachable, "start application stack", targetID, err)
	}
	s.logger.Info("restore complete", "target", targetID)
	return nil
}

// applyDomains layers each chain member's domain artifacts onto the local
// roots, full first, mirroring exactly how the archiver produced them.
func (s *Service) applyDomains(ctx context.Context, chain []*Manifest, dirs map[string]string, opts RestoreOptions) error {
	for _, m := range chain {
		for _, domain := range m.Domains() {
			if domain == DatabaseDomain {
				continue
			}
			if domain == ConfigDomain && opts.SkipConfig {
				s.logger.Info("keeping current config bundle", "snapshot", m.ID)
				continue
			}
			root, ok := s.cfg.Domains[domain]
			if !ok {
				s.logger.Warn("snapshot carries unknown domain; skipping", "domain", domain, "snapshot", m.ID)
				continue
			}

			artifact := m.Artifacts[domain]
			path := filepath.Join(dirs[m.ID], artifact.File)

			if strings.HasSuffix(artifact.File, ".enc") {
				unsealed, err := s.unsealArtifact(dirs[m.ID], artifact.File)
				if err != nil {
					return fmt.Errorf("unsealing %s of %s: %w", domain, m.ID, err)
				}
				path = unsealed
			}

			if err := s.archiver.Extract(ctx, path, root); err != nil {
				return fmt.Errorf("applying %s of %s: %w", domain, m.ID, err)
			}
		}
	}
	return nil
}

// unsealArtifact decrypts a sealed artifact next to its ciphertext and
// returns the plaintext path.
func (s *Service) unsealArtifact(dir string, name string) (string, error) {
	if s.sealer == nil || s.passphrase == nil {
		return "", NewError(InvalidInput, "unseal artifact", "",
			fmt.Errorf("snapshot carries a sealed config bundle but no passphrase source is configured"))
	}
	pass, err := s.passphrase()
	if err != nil {
		return "", fmt.Errorf("obtaining passphrase: %w", err)
	}

	in, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return "", fmt.Errorf("opening sealed bundle: %w", err)
	}
	defer in.Close()

	outPath := filepath.Join(dir, strings.TrimSuffix(name, ".enc"))
	out, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("creating plaintext bundle: %w", err)
	}
	defer out.Close()

	if err := s.sealer.Unseal(in, out, pass); err != nil {
		os.Remove(outPath)
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("finalizing plaintext bundle: %w", err)
	}
	return outPath, nil
}

// applyDatabase streams the target's dump into the relational store.
func (s *Service) applyDatabase(ctx context.Context, target *Manifest, dir string) error {
	artifact, ok := target.Artifacts[DatabaseDomain]
	if !ok {
		return NewError(Corruption, "restore database", target.ID,
			fmt.Errorf("target snapshot has no database dump"))
	}

	f, err := os.Open(filepath.Join(dir, artifact.File))
	if err != nil {
		return fmt.Errorf("opening database dump: %w", err)
	}
	defer f.Close()

	if err := s.dumper.Restore(ctx, f); err != nil {
		return NewError(Unreachable, "restore database", target.ID, err)
	}
	return nil
}
