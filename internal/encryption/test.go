package encryption

import (
	"bytes"
	"fmt"
	"io"

	"kioku/internal/kioku"
)

// testMagic marks blobs written by TestEncryptor.
var testMagic = []byte("KIOKU-T1")

// TestEncryptor frames data with a fixed marker instead of encrypting it.
// The output differs from the input and is deterministic, which lets tests
// assert that the remote never holds plaintext without paying for crypto.
type TestEncryptor struct {
	passphrase string
}

// Compile-time check that TestEncryptor implements kioku.Encryptor
var _ kioku.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

// Setup remembers the passphrase so Unlock can reject a different one.
func (e *TestEncryptor) Setup(passphrase string) error {
	e.passphrase = passphrase
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testMagic); err != nil {
		return fmt.Errorf("writing marker: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(passphrase string) (kioku.DecryptionContext, error) {
	if e.passphrase != "" && passphrase != e.passphrase {
		return nil, ErrWrongPassphrase
	}
	return TestDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool {
	return true
}

// TestDecryptionContext strips the marker written by TestEncryptor.
type TestDecryptionContext struct{}

// Compile-time check that TestDecryptionContext implements kioku.DecryptionContext
var _ kioku.DecryptionContext = TestDecryptionContext{}

func (TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	head := make([]byte, len(testMagic))
	if _, err := io.ReadFull(r, head); err != nil {
		return fmt.Errorf("reading marker: %w", err)
	}
	if !bytes.Equal(head, testMagic) {
		return fmt.Errorf("blob was not written by the test encryptor")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
