package seal

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"docsnap/internal/snap"
)

func TestSealRoundTrip(t *testing.T) {
	sealer := NewAgeSealer()
	plaintext := "COMPOSE_PROJECT=paperless\nSECRET_KEY=abc123\n"

	var sealed bytes.Buffer
	if err := sealer.Seal(strings.NewReader(plaintext), &sealed, "correct horse"); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if strings.Contains(sealed.String(), "SECRET_KEY") {
		t.Error("ciphertext leaks plaintext")
	}

	var unsealed bytes.Buffer
	if err := sealer.Unseal(bytes.NewReader(sealed.Bytes()), &unsealed, "correct horse"); err != nil {
		t.Fatalf("Unseal: %v", err)
	}
	if unsealed.String() != plaintext {
		t.Errorf("round trip = %q", unsealed.String())
	}
}

func TestUnsealWrongPassphrase(t *testing.T) {
	sealer := NewAgeSealer()

	var sealed bytes.Buffer
	if err := sealer.Seal(strings.NewReader("data"), &sealed, "right"); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	err := sealer.Unseal(bytes.NewReader(sealed.Bytes()), &out, "wrong")
	if err == nil {
		t.Fatal("Unseal succeeded with the wrong passphrase")
	}
	if !snap.IsInvalidInput(err) {
		t.Errorf("error kind = %s, want invalid-input", snap.KindOf(err))
	}
	if out.Len() != 0 {
		t.Error("plaintext written despite failed unseal")
	}
}

func TestUnsealGarbageIsCorruption(t *testing.T) {
	sealer := NewAgeSealer()
	var out bytes.Buffer
	err := sealer.Unseal(strings.NewReader("not an age file"), &out, "any")
	if !snap.IsCorruption(err) {
		t.Errorf("error = %v, want corruption", err)
	}
}

func TestSealSaltsPerInvocation(t *testing.T) {
	sealer := NewAgeSealer()

	var a, b bytes.Buffer
	if err := sealer.Seal(strings.NewReader("same"), &a, "pass"); err != nil {
		t.Fatal(err)
	}
	if err := sealer.Seal(strings.NewReader("same"), &b, "pass"); err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Error("identical plaintexts sealed to identical ciphertexts")
	}
}

func TestPassphraseFromFile(t *testing.T) {
	t.Run("reads first line", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pass")
		if err := os.WriteFile(path, []byte("hunter2\n"), 0600); err != nil {
			t.Fatal(err)
		}
		pass, err := PassphraseFromFile(path)()
		if err != nil {
			t.Fatalf("PassphraseFromFile: %v", err)
		}
		if pass != "hunter2" {
			t.Errorf("pass = %q", pass)
		}
	})

	t.Run("empty file is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pass")
		if err := os.WriteFile(path, []byte("\n"), 0600); err != nil {
			t.Fatal(err)
		}
		if _, err := PassphraseFromFile(path)(); err == nil {
			t.Fatal("empty passphrase file accepted")
		}
	})

	t.Run("missing file is an error", func(t *testing.T) {
		if _, err := PassphraseFromFile(filepath.Join(t.TempDir(), "nope"))(); err == nil {
			t.Fatal("missing passphrase file accepted")
		}
	})
}

func TestCachedPassphrase(t *testing.T) {
	calls := 0
	cached := CachedPassphrase(func() (string, error) {
		calls++
		return "once", nil
	})

	for i := 0; i < 3; i++ {
		pass, err := cached()
		if err != nil || pass != "once" {
			t.Fatalf("cached() = %q, %v", pass, err)
		}
	}
	if calls != 1 {
		t.Errorf("underlying provider called %d times, want 1", calls)
	}
}
