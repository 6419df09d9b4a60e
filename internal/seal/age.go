// Package seal encrypts the configuration bundle with a passphrase before
// it leaves local disk.
package seal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"

	"docsnap/internal/snap"
)

// AgeSealer implements snap.Sealer using age's scrypt-based passphrase
// encryption. Every Seal call creates a fresh scrypt recipient, so the salt
// is random per invocation and identical plaintexts seal to different
// ciphertexts.
type AgeSealer struct{}

var _ snap.Sealer = (*AgeSealer)(nil)

func NewAgeSealer() *AgeSealer { return &AgeSealer{} }

// Seal encrypts plaintext from r to w. The passphrase is never written to
// the output.
func (*AgeSealer) Seal(r io.Reader, w io.Writer, passphrase string) error {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}

	encWriter, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}

	if _, err := io.Copy(encWriter, r); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}

	if err := encWriter.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}

	return nil
}

// Unseal decrypts ciphertext from r to w. A wrong passphrase fails closed
// with an explicit error before any plaintext is written.
func (*AgeSealer) Unseal(r io.Reader, w io.Writer, passphrase string) error {
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt identity: %w", err)
	}

	decReader, err := age.Decrypt(r, identity)
	if err != nil {
		var badPass *age.NoIdentityMatchError
		if errors.As(err, &badPass) {
			return snap.NewError(snap.InvalidInput, "unseal config bundle", "",
				fmt.Errorf("wrong passphrase"))
		}
		return snap.NewError(snap.Corruption, "unseal config bundle", "", err)
	}

	if _, err := io.Copy(w, decReader); err != nil {
		return snap.NewError(snap.Corruption, "unseal config bundle", "", err)
	}

	return nil
}

// PassphraseFromFile returns a passphrase provider reading the first line of
// path on demand.
func PassphraseFromFile(path string) func() (string, error) {
	return func() (string, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading passphrase file: %w", err)
		}
		pass := strings.TrimRight(string(data), "\r\n")
		if pass == "" {
			return "", fmt.Errorf("passphrase file %s is empty", path)
		}
		return pass, nil
	}
}

// CachedPassphrase wraps a provider so the underlying source (a prompt, a
// file) is consulted at most once per process.
func CachedPassphrase(fn func() (string, error)) func() (string, error) {
	var (
		cached string
		done   bool
	)
	return func() (string, error) {
		if done {
			return cached, nil
		}
		pass, err := fn()
		if err != nil {
			return "", err
		}
		cached, done = pass, true
		return cached, nil
	}
}
