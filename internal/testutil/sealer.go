package testutil

import (
	"bytes"
	"fmt"
	"io"

	"docsnap/internal/snap"
)

const sealPrefix = "sealed:"

// FakeSealer is a reversible snap.Sealer that tags the payload with the
// passphrase instead of encrypting. Fast enough for service-level tests where
// age's scrypt work factor would dominate.
type FakeSealer struct{}

var _ snap.Sealer = (*FakeSealer)(nil)

func (FakeSealer) Seal(r io.Reader, w io.Writer, passphrase string) error {
	if _, err := fmt.Fprintf(w, "%s%s\n", sealPrefix, passphrase); err != nil {
		return err
	}
	_, err := io.Copy(w, r)
	return err
}

func (FakeSealer) Unseal(r io.Reader, w io.Writer, passphrase string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	header := []byte(sealPrefix + passphrase + "\n")
	if !bytes.HasPrefix(data, header) {
		return snap.NewError(snap.InvalidInput, "unseal", "", fmt.Errorf("wrong passphrase"))
	}
	_, err = w.Write(data[len(header):])
	return err
}
