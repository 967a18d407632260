// Package secrets wraps the at-rest encryption used for account
// configuration blobs. The actual primitive is a Tink AEAD; account IDs
// are passed as associated data so a blob cannot be replayed onto a
// different account row.
package secrets

import (
	"bytes"
	"fmt"
	"os"

	"github.com/tink-crypto/tink-go/v2/aead"
	"github.com/tink-crypto/tink-go/v2/insecurecleartextkeyset"
	"github.com/tink-crypto/tink-go/v2/keyset"
	"github.com/tink-crypto/tink-go/v2/tink"
)

// Cipher is the opaque encrypt/decrypt-to-blob primitive the rest of the
// system depends on. tink.AEAD satisfies it directly.
type Cipher interface {
	Encrypt(plaintext, associatedData []byte) ([]byte, error)
	Decrypt(ciphertext, associatedData []byte) ([]byte, error)
}

// LoadKeyset reads a cleartext JSON keyset from disk and returns an AEAD
// cipher. The keyset file is expected to be protected by filesystem
// permissions; KMS-wrapped keysets are a deployment concern, not handled
// here.
func LoadKeyset(path string) (Cipher, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening keyset %s: %w", path, err)
	}
	defer f.Close()

	handle, err := insecurecleartextkeyset.Read(keyset.NewJSONReader(f))
	if err != nil {
		return nil, fmt.Errorf("reading keyset %s: %w", path, err)
	}

	primitive, err := aead.New(handle)
	if err != nil {
		return nil, fmt.Errorf("creating AEAD primitive: %w", err)
	}
	return primitive, nil
}

// Validate performs a test encryption/decryption cycle to verify the
// cipher is working. Call this at startup to fail fast if encryption is
// misconfigured.
func Validate(c Cipher) error {
	testPlaintext := []byte("connector-nexus-encryption-test")
	testAAD := []byte("validation")

	ciphertext, err := c.Encrypt(testPlaintext, testAAD)
	if err != nil {
		return fmt.Errorf("validation encrypt failed: %w", err)
	}

	decrypted, err := c.Decrypt(ciphertext, testAAD)
	if err != nil {
		return fmt.Errorf("validation decrypt failed: %w", err)
	}

	if !bytes.Equal(testPlaintext, decrypted) {
		return fmt.Errorf("validation round-trip failed: plaintext mismatch")
	}

	return nil
}

// NewTestAEAD creates a Cipher for testing without a keyset file.
// Only use in tests — keys are not persisted or protected.
func NewTestAEAD() (Cipher, error) {
	handle, err := keyset.NewHandle(aead.AES256GCMKeyTemplate())
	if err != nil {
		return nil, fmt.Errorf("creating test keyset handle: %w", err)
	}
	primitive, err := aead.New(handle)
	if err != nil {
		return nil, fmt.Errorf("creating test AEAD primitive: %w", err)
	}
	return primitive, nil
}

var _ Cipher = (tink.AEAD)(nil)
