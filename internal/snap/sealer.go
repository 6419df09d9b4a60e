package snap

import "io"

// Sealer encrypts the configuration bundle before it leaves local disk.
// Sealing uses an authenticated symmetric scheme with a fresh random salt
// per invocation, so sealing identical plaintext twice yields different
// ciphertext. Unseal fails closed: a wrong passphrase produces an explicit
// error, never garbage output.
type Sealer interface {
	// Seal encrypts plaintext read from r and writes ciphertext to w.
	// The passphrase is never embedded in the output.
	Seal(r io.Reader, w io.Writer, passphrase string) error

	// Unseal decrypts ciphertext read from r and writes plaintext to w.
	Unseal(r io.Reader, w io.Writer, passphrase string) error
}
