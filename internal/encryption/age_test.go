package encryption

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestAgeEncryptor(t *testing.T) *AgeEncryptor {
	t.Helper()
	dir := t.TempDir()
	return NewAgeEncryptor(
		filepath.Join(dir, "keys", "kioku.pub"),
		filepath.Join(dir, "keys", "kioku.key"),
	)
}

func TestAgeEncryptor_Setup(t *testing.T) {
	t.Parallel()
	e := newTestAgeEncryptor(t)

	if e.IsConfigured() {
		t.Fatal("IsConfigured() = true before Setup")
	}
	if err := e.Setup("correct horse"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !e.IsConfigured() {
		t.Error("IsConfigured() = false after Setup")
	}

	info, err := os.Stat(e.privateKeyPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("private key mode = %v, want 0600", info.Mode().Perm())
	}
	key, _ := os.ReadFile(e.privateKeyPath)
	if bytes.Contains(key, []byte("AGE-SECRET-KEY")) {
		t.Error("private key stored in plaintext")
	}
}

func TestAgeEncryptor_SetupRefusesToReplaceKeys(t *testing.T) {
	t.Parallel()
	e := newTestAgeEncryptor(t)
	if err := e.Setup("first"); err != nil {
		t.Fatal(err)
	}
	pub, _ := os.ReadFile(e.publicKeyPath)

	if err := e.Setup("second"); !errors.Is(err, ErrKeysExist) {
		t.Errorf("second Setup() error = %v, want ErrKeysExist", err)
	}
	again, _ := os.ReadFile(e.publicKeyPath)
	if !bytes.Equal(pub, again) {
		t.Error("public key was replaced")
	}
}

func TestAgeEncryptor_SetupRejectsEmptyPassphrase(t *testing.T) {
	t.Parallel()
	if err := newTestAgeEncryptor(t).Setup(""); err == nil {
		t.Error("Setup(\"\") expected error")
	}
}

func TestAgeEncryptor_RoundTrip(t *testing.T) {
	t.Parallel()
	e := newTestAgeEncryptor(t)
	if err := e.Setup("pw"); err != nil {
		t.Fatal(err)
	}
	dec, err := e.Unlock("pw")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	tests := []struct {
		name  string
		input []byte
	}{
		{"card", []byte(`{"id":"c1","front":"猫","back":"cat"}`)},
		{"manifest", []byte("1\nc1,2024-01-15 10:30:00\n")},
		{"empty", []byte{}},
		{"large", bytes.Repeat([]byte("kioku"), 20000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sealed bytes.Buffer
			if err := e.Encrypt(bytes.NewReader(tt.input), &sealed); err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if len(tt.input) > 0 && bytes.Contains(sealed.Bytes(), tt.input) {
				t.Error("ciphertext contains the plaintext")
			}

			var plain bytes.Buffer
			if err := dec.Decrypt(&sealed, &plain); err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(plain.Bytes(), tt.input) {
				t.Errorf("round trip got %d bytes, want %d", plain.Len(), len(tt.input))
			}
		})
	}
}

func TestAgeEncryptor_UnlockWrongPassphrase(t *testing.T) {
	t.Parallel()
	e := newTestAgeEncryptor(t)
	if err := e.Setup("right"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Unlock("wrong"); !errors.Is(err, ErrWrongPassphrase) {
		t.Errorf("Unlock() error = %v, want ErrWrongPassphrase", err)
	}
}

func TestAgeEncryptor_BeforeSetup(t *testing.T) {
	t.Parallel()
	e := newTestAgeEncryptor(t)

	var buf bytes.Buffer
	if err := e.Encrypt(bytes.NewReader([]byte("x")), &buf); err == nil {
		t.Error("Encrypt() before Setup expected error")
	}
	if _, err := e.Unlock("pw"); err == nil {
		t.Error("Unlock() before Setup expected error")
	}
}

func TestAgeDecryptionContext_RejectsForeignCiphertext(t *testing.T) {
	t.Parallel()
	a := newTestAgeEncryptor(t)
	b := newTestAgeEncryptor(t)
	if err := a.Setup("a"); err != nil {
		t.Fatal(err)
	}
	if err := b.Setup("b"); err != nil {
		t.Fatal(err)
	}

	var sealed bytes.Buffer
	if err := a.Encrypt(bytes.NewReader([]byte("secret")), &sealed); err != nil {
		t.Fatal(err)
	}
	dec, err := b.Unlock("b")
	if err != nil {
		t.Fatal(err)
	}
	if err := dec.Decrypt(&sealed, &bytes.Buffer{}); err == nil {
		t.Error("Decrypt() of another key's ciphertext expected error")
	}
}
